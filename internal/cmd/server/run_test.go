package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/llmq/internal/config"
	pebblestore "github.com/rzbill/llmq/internal/storage/pebble"
	logpkg "github.com/rzbill/llmq/pkg/log"
)

func TestOptionsFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		fsync   string
		want    pebblestore.FsyncMode
		wantErr bool
	}{
		{name: "default is always", fsync: "", want: pebblestore.FsyncModeAlways},
		{name: "interval", fsync: "interval", want: pebblestore.FsyncModeInterval},
		{name: "never", fsync: "never", want: pebblestore.FsyncModeNever},
		{name: "unknown mode", fsync: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cfgpkg.Default()
			cfg.Broker.Fsync = tt.fsync
			cfg.Broker.DataDir = "/custom/data"
			opts, err := OptionsFromConfig(cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for fsync %q", tt.fsync)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if opts.Fsync != tt.want {
				t.Errorf("Fsync = %v, want %v", opts.Fsync, tt.want)
			}
			if opts.DataDir != "/custom/data" || opts.GRPCAddr != ":50051" || opts.HTTPAddr != ":15672" {
				t.Errorf("unexpected options %+v", opts)
			}
		})
	}
}

// TestRunIntegration starts both servers on ephemeral ports and stops them
// through the context.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tempDir := t.TempDir()
	opts := Options{
		DataDir:  tempDir,
		GRPCAddr: "127.0.0.1:0",
		HTTPAddr: "127.0.0.1:0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfgpkg.Default(),
		Logger:   logpkg.NewNopLogger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := Run(ctx, opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "store")); err != nil {
		t.Errorf("expected store directory: %v", err)
	}
}

func TestRunFailsOnBadAddress(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	opts := Options{
		DataDir:  t.TempDir(),
		GRPCAddr: "256.0.0.1:1",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfgpkg.Default(),
		Logger:   logpkg.NewNopLogger(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Run(ctx, opts); err == nil {
		t.Fatal("expected listen error")
	}
}
