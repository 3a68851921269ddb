package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pebblestore "github.com/rzbill/llmq/internal/storage/pebble"
)

// Spec is a queue declaration.
type Spec struct {
	Name       string `json:"name"`
	Durable    bool   `json:"durable"`
	Exclusive  bool   `json:"exclusive"`
	AutoDelete bool   `json:"autoDelete"`
	// DeadLetterQueue receives messages nacked without requeue. Empty drops them.
	DeadLetterQueue string `json:"deadLetterQueue,omitempty"`
	CreatedAtMs     int64  `json:"createdAtMs"`
}

// ErrInvalidName is returned for empty, oversized or slash-containing names.
var ErrInvalidName = errors.New("queue: invalid name")

// ValidateName checks that name is usable as a key segment.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidName, maxNameLength)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: %q contains '/' or NUL", ErrInvalidName, name)
	}
	return nil
}

// SaveSpec persists a declaration, stamping CreatedAtMs if unset.
func SaveSpec(db *pebblestore.DB, s Spec) (Spec, error) {
	if err := ValidateName(s.Name); err != nil {
		return Spec{}, err
	}
	if s.CreatedAtMs == 0 {
		s.CreatedAtMs = time.Now().UnixMilli()
	}
	b, err := json.Marshal(s)
	if err != nil {
		return Spec{}, err
	}
	if err := db.Set(metaKey(s.Name), b); err != nil {
		return Spec{}, fmt.Errorf("save queue %s: %w", s.Name, err)
	}
	return s, nil
}

// DeleteSpec removes a declaration.
func DeleteSpec(db *pebblestore.DB, name string) error {
	return db.Delete(metaKey(name))
}

// LoadSpecs returns every stored declaration in name order. Corrupt entries
// are skipped.
func LoadSpecs(db *pebblestore.DB) ([]Spec, error) {
	var out []Spec
	err := db.ScanPrefix([]byte(prefixMeta), func(_, v []byte) bool {
		var s Spec
		if json.Unmarshal(v, &s) == nil && s.Name != "" {
			out = append(out, s)
		}
		return true
	})
	return out, err
}
