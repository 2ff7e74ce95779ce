package reload

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestUniquePathsFiltersDuplicatesAndEmptyValues(t *testing.T) {
	paths := []string{"", "/tmp/a", "/tmp/b", "/tmp/a", "/tmp/c", "/tmp/b"}
	got := uniquePaths(paths)
	want := []string{"/tmp/a", "/tmp/b", "/tmp/c"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("uniquePaths() = %v, want %v", got, want)
	}
}

func TestCheckReportsModifiedFiles(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	otherFile := filepath.Join(dir, "other.yaml")
	writeFile(t, configFile, "streams: []")
	writeFile(t, otherFile, "streams: []")

	watcher, err := NewWatcher(configFile, otherFile)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if changed := watcher.Check(); len(changed) != 0 {
		t.Fatalf("unexpected changes right after snapshot: %v", changed)
	}

	// Force a different mod time; coarse filesystem timestamps would
	// otherwise hide an immediate rewrite.
	past := time.Now().Add(-time.Minute)
	if err := os.Chtimes(configFile, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	watcher.Refresh()
	writeFile(t, configFile, "streams: [{name: dev/x}]")

	changed := watcher.Check()
	if !reflect.DeepEqual(changed, []string{configFile}) {
		t.Fatalf("Check() = %v, want only %s", changed, configFile)
	}
}

func TestRefreshClearsPendingChanges(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	writeFile(t, configFile, "a")

	watcher, err := NewWatcher(configFile)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	writeFile(t, configFile, "longer content")
	if changed := watcher.Check(); len(changed) != 1 {
		t.Fatalf("expected one change, got %v", changed)
	}
	watcher.Refresh()
	if changed := watcher.Check(); len(changed) != 0 {
		t.Fatalf("expected no changes after refresh, got %v", changed)
	}
}

func TestMissingFileCountsAsChangedOnceCreated(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")

	watcher, err := NewWatcher(configFile)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if changed := watcher.Check(); len(changed) != 0 {
		t.Fatalf("missing file must not report a change before creation: %v", changed)
	}
	writeFile(t, configFile, "streams: []")
	if changed := watcher.Check(); len(changed) != 1 {
		t.Fatalf("expected change after creation, got %v", changed)
	}
}

func TestDeletedFileCountsAsChanged(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	writeFile(t, configFile, "streams: []")

	watcher, err := NewWatcher(configFile)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if err := os.Remove(configFile); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if changed := watcher.Check(); len(changed) != 1 {
		t.Fatalf("expected change after deletion, got %v", changed)
	}
}

func TestNilWatcherIsSafe(t *testing.T) {
	var watcher *Watcher
	if err := watcher.Track("x"); err != nil {
		t.Fatalf("Track on nil watcher: %v", err)
	}
	watcher.Refresh()
	if changed := watcher.Check(); changed != nil {
		t.Fatalf("Check on nil watcher: %v", changed)
	}
}
