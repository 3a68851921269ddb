// Package pebblestore wraps Pebble with an fsync policy, commit metrics and
// the prefix helpers the queue store needs.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: dir,
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("q/llm_queue/ready/..."), rec, nil)
//	_ = db.CommitBatch(ctx, b)
//	b.Close()
//
//	n, _ := db.CountPrefix([]byte("q/llm_queue/ready/"))
package pebblestore
