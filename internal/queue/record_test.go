package queue

import (
	"testing"
)

func TestRecordDetectsCorruption(t *testing.T) {
	rec, err := encodeRecord(Header{CorrelationID: "abc", ReplyTo: "amq.gen-1", DeliveryCount: 2}, []byte("body"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, body, err := decodeRecord(rec)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.CorrelationID != "abc" || h.ReplyTo != "amq.gen-1" || h.DeliveryCount != 2 || string(body) != "body" {
		t.Fatalf("unexpected decode: %+v %q", h, body)
	}

	rec[len(rec)-5] ^= 0xff
	if _, _, err := decodeRecord(rec); err != errCorruptRecord {
		t.Fatalf("want errCorruptRecord, got %v", err)
	}
	if _, _, err := decodeRecord([]byte{0, 0}); err != errCorruptRecord {
		t.Fatalf("short record: want errCorruptRecord, got %v", err)
	}
}
