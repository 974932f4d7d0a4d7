package download

import (
	"bytes"
	"compress/zlib"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/quakecore/q2srv/internal/vfs"
)

func newFSWithFile(t *testing.T, name string, data []byte) *vfs.FS {
	t.Helper()
	dir := t.TempDir()
	full := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		t.Fatal(err)
	}
	sp := vfs.NewSearchPath()
	sp.PushDirectory(dir)
	return vfs.New(sp)
}

func TestStart_ChunksReassembleToOriginal(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 500) // 4000 bytes, spans several chunks
	fs := newFSWithFile(t, "maps/test.bsp", data)

	sess, err := Start(fs, "maps/test.bsp")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	var got []byte
	for {
		chunk, final := sess.NextChunk()
		got = append(got, chunk...)
		if final {
			break
		}
	}

	if sess.IsCompressed() {
		zr, err := zlib.NewReader(bytes.NewReader(got))
		if err != nil {
			t.Fatalf("zlib reader: %v", err)
		}
		if got, err = io.ReadAll(zr); err != nil {
			t.Fatalf("decompress: %v", err)
		}
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reassembled %d bytes, want %d matching original", len(got), len(data))
	}
}

func TestStart_RejectsMissingFile(t *testing.T) {
	fs := newFSWithFile(t, "maps/other.bsp", []byte("x"))
	if _, err := Start(fs, "maps/missing.bsp"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSession_OffsetAndPercentTrackProgress(t *testing.T) {
	data := make([]byte, ChunkSize*2+10)
	fs := newFSWithFile(t, "pics/huge.pcx", data)
	sess, err := Start(fs, "pics/huge.pcx")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Offset() != 0 || sess.Percent() != 0 {
		t.Fatalf("fresh session: offset=%d percent=%d, want 0/0", sess.Offset(), sess.Percent())
	}

	for {
		_, final := sess.NextChunk()
		if final {
			break
		}
	}
	if sess.Percent() != 100 {
		t.Fatalf("percent after full drain = %d, want 100", sess.Percent())
	}
	if sess.Offset() != sess.TotalSize() {
		t.Fatalf("offset after full drain = %d, want total size %d", sess.Offset(), sess.TotalSize())
	}
}

func TestNextChunk_BoundedBySize(t *testing.T) {
	data := make([]byte, ChunkSize+10)
	fs := newFSWithFile(t, "pics/big.pcx", data)
	sess, err := Start(fs, "pics/big.pcx")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	chunk, final := sess.NextChunk()
	if final {
		t.Fatal("first chunk of an over-sized file should not be final")
	}
	if len(chunk) > ChunkSize {
		t.Fatalf("chunk size %d exceeds ChunkSize %d", len(chunk), ChunkSize)
	}
}
