package queue

import (
	"github.com/rzbill/llmq/pkg/id"
)

const (
	prefixMeta    = "qmeta/"
	prefixQueue   = "q/"
	segReady      = "/ready/"
	segUnacked    = "/unacked/"
	maxNameLength = 255
)

// metaKey returns qmeta/{name}.
func metaKey(name string) []byte {
	return []byte(prefixMeta + name)
}

// queuePrefix returns q/{name}/, covering every message key of the queue.
func queuePrefix(name string) []byte {
	return []byte(prefixQueue + name + "/")
}

func readyPrefix(name string) []byte {
	return []byte(prefixQueue + name + segReady)
}

func unackedPrefix(name string) []byte {
	return []byte(prefixQueue + name + segUnacked)
}

// readyKey returns q/{name}/ready/{id}.
func readyKey(name string, msgID id.ID) []byte {
	p := readyPrefix(name)
	k := make([]byte, len(p)+16)
	copy(k, p)
	copy(k[len(p):], msgID[:])
	return k
}

// unackedKey returns q/{name}/unacked/{id}.
func unackedKey(name string, msgID id.ID) []byte {
	p := unackedPrefix(name)
	k := make([]byte, len(p)+16)
	copy(k, p)
	copy(k[len(p):], msgID[:])
	return k
}

// idFromKey extracts the trailing 16-byte message id.
func idFromKey(key []byte) (id.ID, bool) {
	if len(key) < 16 {
		return id.Zero, false
	}
	out, err := id.FromBytes(key[len(key)-16:])
	return out, err == nil
}
