// Package download implements the chunked asset-delivery path used by the
// "download" stringcmd: splitting a VFS-resolved file into netchan-sized
// chunks, with an optional DEFLATE pass and a hard size cap to keep a
// single download from starving the unreliable message budget.
package download

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/quakecore/q2srv/internal/snapshot"
	"github.com/quakecore/q2srv/internal/vfs"
)

// ChunkSize matches R1Q2's svc_download payload budget.
const ChunkSize = 1024

// MaxDownloadBytes rejects any file larger than this, regardless of search
// path placement, closing off arbitrary-file-exfiltration via a huge pak.
const MaxDownloadBytes = 32 << 20 // 32 MiB

var (
	// ErrTooLarge is returned when the resolved file exceeds MaxDownloadBytes.
	ErrTooLarge = errors.New("download: file too large")
	// ErrNotFound mirrors vfs.ErrNotFound for callers that only import this package.
	ErrNotFound = vfs.ErrNotFound
)

// Session tracks one in-flight download to a single client.
type Session struct {
	ID   uuid.UUID
	Name string
	Data []byte
	// Compressed holds the DEFLATE'd form when worth sending as svc_zdownload;
	// nil when the raw chunking path is used instead.
	Compressed []byte
	offset     int
}

// Start resolves name via fs, validates its size, and returns a new
// download session positioned at offset 0. Files above
// snapshot.ShouldCompress's threshold get a DEFLATE pass eagerly so the
// per-chunk cost of compressing isn't repeated.
func Start(fs *vfs.FS, name string) (*Session, error) {
	size, err := fs.Stat(name)
	if err != nil {
		return nil, err
	}
	if size > MaxDownloadBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, name, size)
	}
	data, err := fs.ReadFile(name)
	if err != nil {
		return nil, err
	}
	s := &Session{ID: uuid.New(), Name: name, Data: data}
	if snapshot.ShouldCompress(data) {
		if z, err := snapshot.Compress(data); err == nil && len(z) < len(data) {
			s.Compressed = z
		}
	}
	return s, nil
}

// NextChunk returns the next ChunkSize-bounded slice of the (possibly
// compressed) payload and whether this is the final chunk. A zero-length,
// final=true chunk marks completion with nothing left to send.
func (s *Session) NextChunk() (chunk []byte, final bool) {
	payload := s.Data
	if s.Compressed != nil {
		payload = s.Compressed
	}
	if s.offset >= len(payload) {
		return nil, true
	}
	end := s.offset + ChunkSize
	if end >= len(payload) {
		end = len(payload)
	}
	chunk = payload[s.offset:end]
	s.offset = end
	return chunk, s.offset >= len(payload)
}

// TotalSize reports the size of the payload actually being transferred
// (compressed size if compression was used, else the raw size), which is
// what the client needs to size its own progress display.
func (s *Session) TotalSize() int {
	if s.Compressed != nil {
		return len(s.Compressed)
	}
	return len(s.Data)
}

// IsCompressed reports whether NextChunk is iterating the DEFLATE'd form
// (svc_zdownload) rather than the raw bytes (svc_download).
func (s *Session) IsCompressed() bool { return s.Compressed != nil }

// Offset reports how many bytes of the transferred payload have been
// handed out via NextChunk so far.
func (s *Session) Offset() int { return s.offset }

// Percent reports transfer completion as the client's svc_download progress
// byte expects it: 0-100, saturating at 100 for a zero-length payload.
func (s *Session) Percent() int {
	total := s.TotalSize()
	if total == 0 {
		return 100
	}
	return s.offset * 100 / total
}
