package store

import (
	"path/filepath"
	"testing"
)

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	db, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	settings, err := NewSettings(db)
	if err != nil {
		t.Fatalf("new settings: %v", err)
	}

	if err := settings.Set("refresh_token", "rt-1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := settings.Get("refresh_token")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "rt-1" {
		t.Fatalf("got %q want %q", got, "rt-1")
	}

	if err := settings.Remove("refresh_token"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, err = settings.Get("refresh_token")
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q want empty", got)
	}
}

func TestSettingsGetMissingKey(t *testing.T) {
	t.Parallel()
	db, err := Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	settings, err := NewSettings(db)
	if err != nil {
		t.Fatalf("new settings: %v", err)
	}
	got, err := settings.Get("never_set")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q want empty", got)
	}
}

func TestSettingsPersistAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bridge.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	settings, err := NewSettings(db)
	if err != nil {
		t.Fatalf("new settings: %v", err)
	}
	if err := settings.Set("sync_enabled", "true"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	settings, err = NewSettings(db)
	if err != nil {
		t.Fatalf("new settings: %v", err)
	}
	got, err := settings.Get("sync_enabled")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "true" {
		t.Fatalf("got %q want %q", got, "true")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
