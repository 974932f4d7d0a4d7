package vfs

import (
	"errors"
	"strings"
)

// ErrUnsafePath is returned by Canonicalize for any path that fails the
// name-safety rules.
var ErrUnsafePath = errors.New("vfs: unsafe path")

// Canonicalize validates and lowercases a logical quake-path. It rejects any
// path containing ".." or "\\", a leading "/", empty components, paths with
// no "/" at all, and control/non-printable bytes.
func Canonicalize(p string) (string, error) {
	if p == "" {
		return "", ErrUnsafePath
	}
	if strings.Contains(p, "\\") {
		return "", ErrUnsafePath
	}
	if strings.HasPrefix(p, "/") {
		return "", ErrUnsafePath
	}
	if !strings.Contains(p, "/") {
		return "", ErrUnsafePath
	}
	for _, r := range p {
		if r < 0x20 || r == 0x7f {
			return "", ErrUnsafePath
		}
	}
	parts := strings.Split(p, "/")
	for _, part := range parts {
		if part == "" || part == ".." || part == "." {
			return "", ErrUnsafePath
		}
	}
	return strings.ToLower(p), nil
}
