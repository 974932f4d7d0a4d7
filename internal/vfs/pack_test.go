package vfs

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// writeTestPack assembles a minimal PACK archive with the given name->data
// entries and returns its path.
func writeTestPack(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pak0.pak")

	var body []byte
	type dirRec struct {
		name   string
		offset uint32
		length uint32
	}
	var dir []dirRec
	for name, data := range entries {
		dir = append(dir, dirRec{name: name, offset: uint32(12 + len(body)), length: uint32(len(data))})
		body = append(body, data...)
	}

	dirOffset := uint32(12 + len(body))
	var dirBytes []byte
	for _, d := range dir {
		rec := make([]byte, packDirEntrySz)
		copy(rec, d.name)
		binary.LittleEndian.PutUint32(rec[packNameBytes:], d.offset)
		binary.LittleEndian.PutUint32(rec[packNameBytes+4:], d.length)
		dirBytes = append(dirBytes, rec...)
	}

	hdr := make([]byte, 12)
	copy(hdr[0:4], packMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], dirOffset)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(dirBytes)))

	full := append(hdr, body...)
	full = append(full, dirBytes...)
	if err := os.WriteFile(path, full, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPack_OpenAndFind(t *testing.T) {
	path := writeTestPack(t, map[string][]byte{
		"maps/q2dm1.bsp": []byte("bsp-data-here"),
		"pics/icon.pcx":  []byte("pcx"),
	})

	p, err := OpenPack(path)
	if err != nil {
		t.Fatalf("OpenPack: %v", err)
	}
	defer p.Close()

	data, ok := p.Read("MAPS/Q2DM1.BSP")
	if !ok {
		t.Fatal("expected case-insensitive hit")
	}
	if string(data) != "bsp-data-here" {
		t.Fatalf("got %q", data)
	}

	if _, ok := p.Read("maps/missing.bsp"); ok {
		t.Fatal("expected miss for absent entry")
	}
}

func TestOpenPack_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pak")
	if err := os.WriteFile(path, []byte("NOTAPACKFILE12345678"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenPack(path); err != ErrNotPack {
		t.Fatalf("got %v, want ErrNotPack", err)
	}
}

func TestFS_ReadFile_PackOverlay(t *testing.T) {
	path := writeTestPack(t, map[string][]byte{"env/unit1_bk.tga": []byte("skybox")})
	p, err := OpenPack(path)
	if err != nil {
		t.Fatalf("OpenPack: %v", err)
	}
	defer p.Close()

	sp := NewSearchPath()
	sp.PushPack(p)
	fs := New(sp)

	got, err := fs.ReadFile("env/unit1_bk.tga")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "skybox" {
		t.Fatalf("got %q", got)
	}
}
