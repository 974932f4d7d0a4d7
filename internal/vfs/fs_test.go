package vfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFS_ReadFile_DirectoryOverlay(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "maps"), 0o755); err != nil {
		t.Fatal(err)
	}
	want := []byte("bsp-bytes")
	if err := os.WriteFile(filepath.Join(dir, "maps", "q2dm1.bsp"), want, 0o644); err != nil {
		t.Fatal(err)
	}

	sp := NewSearchPath()
	sp.PushDirectory(dir)
	fs := New(sp)

	got, err := fs.ReadFile("maps/q2dm1.bsp")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q want %q", got, want)
	}

	// Second read should come from the positive cache entry.
	if _, err := fs.ReadFile("maps/q2dm1.bsp"); err != nil {
		t.Fatalf("cached ReadFile: %v", err)
	}
	if fs.CacheSize() != 1 {
		t.Fatalf("cache size = %d, want 1", fs.CacheSize())
	}
}

func TestFS_ReadFile_HeadOfStackWins(t *testing.T) {
	base := t.TempDir()
	overlay := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "pics"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(overlay, "pics"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "pics", "icon.pcx"), []byte("base"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(overlay, "pics", "icon.pcx"), []byte("overlay"), 0o644); err != nil {
		t.Fatal(err)
	}

	sp := NewSearchPath()
	sp.PushDirectory(base)
	sp.MarkBase()
	sp.PushDirectory(overlay) // pushed after MarkBase, head of stack

	fs := New(sp)
	got, err := fs.ReadFile("pics/icon.pcx")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "overlay" {
		t.Fatalf("got %q, want overlay (head of stack should win)", got)
	}
}

func TestFS_ReadFile_NegativeCache(t *testing.T) {
	dir := t.TempDir()
	sp := NewSearchPath()
	sp.PushDirectory(dir)
	fs := New(sp)

	if _, err := fs.ReadFile("maps/missing.bsp"); err != ErrNotFound {
		t.Fatalf("got err=%v, want ErrNotFound", err)
	}
	if fs.CacheSize() != 1 {
		t.Fatalf("expected negative entry cached, size=%d", fs.CacheSize())
	}

	// FlushCache clears the negative entry.
	fs.FlushCache()
	if fs.CacheSize() != 0 {
		t.Fatalf("expected cache cleared, size=%d", fs.CacheSize())
	}
}

func TestFS_ReadFile_RejectsUnsafeName(t *testing.T) {
	fs := New(NewSearchPath())
	if _, err := fs.ReadFile("../../etc/passwd"); err != ErrUnsafePath {
		t.Fatalf("got err=%v, want ErrUnsafePath", err)
	}
}
