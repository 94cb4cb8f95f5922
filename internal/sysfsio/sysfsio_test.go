package sysfsio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestDiscoverPicksFirstExistingCandidate(t *testing.T) {
	dir := t.TempDir()
	real := filepath.Join(dir, "enable")
	if err := os.WriteFile(real, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewControl(zerolog.Nop(), "ts-enable", filepath.Join(dir, "missing"), real)
	path, ok := c.Discover()
	if !ok || path != real {
		t.Fatalf("Discover() = %q, %v; want %q, true", path, ok, real)
	}
}

func TestWriteTruncatesThenWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ctrl")
	if err := os.WriteFile(path, []byte("previous-long-value"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewControl(zerolog.Nop(), "charge-ctrl", path)
	if err := c.Write("1"); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "1" {
		t.Fatalf("file contents = %q; want %q", got, "1")
	}
}

func TestWriteUnavailableWhenNoCandidateExists(t *testing.T) {
	c := NewControl(zerolog.Nop(), "missing", "/nonexistent/path/one", "/nonexistent/path/two")
	if err := c.Write("1"); err != ErrUnavailable {
		t.Fatalf("Write error = %v; want ErrUnavailable", err)
	}
}
