package queue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/vmihailenco/msgpack/v5"
)

// Header is the per-message metadata stored alongside the body.
type Header struct {
	CorrelationID string            `msgpack:"cid,omitempty"`
	ReplyTo       string            `msgpack:"rt,omitempty"`
	ContentType   string            `msgpack:"ct,omitempty"`
	Headers       map[string]string `msgpack:"h,omitempty"`
	TimestampMs   int64             `msgpack:"ts"`
	DeliveryCount uint32            `msgpack:"dc"`
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// errCorruptRecord is returned when a stored record fails its checksum.
var errCorruptRecord = errors.New("queue: corrupt record")

// encodeRecord lays out headerLen(4B BE) | header | body | crc32c(header|body).
func encodeRecord(h Header, body []byte) ([]byte, error) {
	hb, err := msgpack.Marshal(&h)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	out := make([]byte, 4, 4+len(hb)+len(body)+4)
	binary.BigEndian.PutUint32(out, uint32(len(hb)))
	out = append(out, hb...)
	out = append(out, body...)
	crc := crc32.Update(0, castagnoli, hb)
	crc = crc32.Update(crc, castagnoli, body)
	return binary.BigEndian.AppendUint32(out, crc), nil
}

// decodeRecord verifies and splits a record. The returned body is a copy.
func decodeRecord(b []byte) (Header, []byte, error) {
	var h Header
	if len(b) < 8 {
		return h, nil, errCorruptRecord
	}
	hlen := int(binary.BigEndian.Uint32(b[:4]))
	if 4+hlen+4 > len(b) {
		return h, nil, errCorruptRecord
	}
	hb := b[4 : 4+hlen]
	body := b[4+hlen : len(b)-4]
	crc := crc32.Update(0, castagnoli, hb)
	crc = crc32.Update(crc, castagnoli, body)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return h, nil, errCorruptRecord
	}
	if err := msgpack.Unmarshal(hb, &h); err != nil {
		return h, nil, fmt.Errorf("decode header: %w", err)
	}
	return h, append([]byte(nil), body...), nil
}
