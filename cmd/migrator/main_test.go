package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUpMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"002_email_deliveries.up.sql",
		"001_preferences.up.sql",
		"001_preferences.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_nested.up.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := upMigrations(dir)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{"001_preferences.up.sql", "002_email_deliveries.up.sql"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestUpMigrations_MissingDir(t *testing.T) {
	if _, err := upMigrations(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestRepositoryMigrationsArePaired(t *testing.T) {
	ups, err := upMigrations("../../migrations")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(ups) == 0 {
		t.Fatal("expected at least one migration")
	}
	for _, up := range ups {
		down := up[:len(up)-len(".up.sql")] + ".down.sql"
		if _, err := os.Stat(filepath.Join("../../migrations", down)); err != nil {
			t.Errorf("%s has no down migration", up)
		}
	}
}
