package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRunDropsGoneEntryAndTearsDownOnShutdown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.toml")
	if err := Save(path, File{Servers: []ServerEntry{
		{APIHost: "https://gone.example.com", APIToken: "tok-gone"},
	}}); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	platform := newFakePlatform()
	platform.ifaces["wwg0"] = "KEY1"
	fetch := newFakeFetcher()
	fetch.errs["tok-gone"] = ErrNotFound

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Options{
			ConfigPath: path,
			Interval:   10 * time.Millisecond,
			Platform:   platform,
			Fetcher:    fetch,
		})
	}()

	// The first cycle drops the gone entry and rewrites the file.
	deadline := time.Now().Add(5 * time.Second)
	for {
		file, err := Load(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(file.Servers) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("config still has %d entries", len(file.Servers))
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(platform.ifaces) != 0 {
		t.Fatalf("interfaces left after shutdown: %v", platform.ifaces)
	}
	if len(platform.removed) == 0 || platform.removed[0] != "wwg0" {
		t.Fatalf("removed = %v, want wwg0 first", platform.removed)
	}
}

func TestRunFailsOnUnreadableConfig(t *testing.T) {
	dir := t.TempDir() // a directory is not a readable config file
	err := Run(context.Background(), Options{
		ConfigPath: dir,
		Platform:   newFakePlatform(),
		Fetcher:    newFakeFetcher(),
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
