// Package sha256 includes tests for the streaming file hasher.
package sha256

import (
	"os"
	"path/filepath"
	"testing"
)

// TestHashFileDeterministic ensures repeated hashing yields the same digest.
func TestHashFileDeterministic(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	h := New(0)
	got, err := h.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestHashFileSmallChunks checks that chunk boundaries do not change the digest.
func TestHashFileSmallChunks(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hello.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := New(3).HashFile(path)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	if got != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Fatalf("unexpected digest %s", got)
	}
}

// TestHashFileMissing reports an error before anything else happens.
func TestHashFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := New(0).HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
