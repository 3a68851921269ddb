package queue

import (
	"testing"
)

func TestSpecsPersist(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	defer db.Close()

	if _, err := SaveSpec(db, Spec{Name: "llm_queue", Durable: true, DeadLetterQueue: "llm_queue.dlq"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := SaveSpec(db, Spec{Name: "amq.gen-1", Exclusive: true, AutoDelete: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	specs, err := LoadSpecs(db)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(specs) != 2 || specs[0].Name != "amq.gen-1" || specs[1].DeadLetterQueue != "llm_queue.dlq" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
	if specs[1].CreatedAtMs == 0 {
		t.Fatalf("CreatedAtMs not stamped")
	}
	if err := DeleteSpec(db, "amq.gen-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	specs, _ = LoadSpecs(db)
	if len(specs) != 1 {
		t.Fatalf("expected 1 spec after delete, got %d", len(specs))
	}
}
