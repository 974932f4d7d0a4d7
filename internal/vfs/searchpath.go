package vfs

// entryKind distinguishes a plain directory overlay from a pack archive
// overlay in the search-path stack.
type entryKind int

const (
	kindDirectory entryKind = iota
	kindPack
)

// searchEntry is one link in the search-path stack. Only one of dir/pack is
// set, selected by kind.
type searchEntry struct {
	kind entryKind
	dir  string
	pack *Pack
}

// SearchPath is a head-first stack of directory and pack overlays. The first
// entry that resolves a name wins, matching R1Q2's FS_LoadFile order.
type SearchPath struct {
	entries  []searchEntry
	baseMark int // index of the boundary between "base" and "game" dirs, -1 if unset
}

// NewSearchPath returns an empty search path.
func NewSearchPath() *SearchPath {
	return &SearchPath{baseMark: -1}
}

// PushDirectory adds a plain directory overlay at the head of the stack
// (highest search priority).
func (s *SearchPath) PushDirectory(dir string) {
	s.entries = append([]searchEntry{{kind: kindDirectory, dir: dir}}, s.entries...)
}

// PushPack adds a pack archive overlay at the head of the stack.
func (s *SearchPath) PushPack(p *Pack) {
	s.entries = append([]searchEntry{{kind: kindPack, pack: p}}, s.entries...)
}

// MarkBase records the current stack depth as the "base" boundary — entries
// pushed before this call belong to the base game directory, anything
// pushed after belongs to a mod/gamedir overlay. Using an explicit index
// instead of comparing entry pointers keeps reordering safe.
func (s *SearchPath) MarkBase() {
	s.baseMark = len(s.entries)
}

// IsBase reports whether entry index i (0 = highest priority) lies in the
// base portion of the stack.
func (s *SearchPath) IsBase(i int) bool {
	if s.baseMark < 0 {
		return true
	}
	return i >= len(s.entries)-s.baseMark
}

// Entries exposes the stack for iteration by the resolver.
func (s *SearchPath) Entries() []searchEntry {
	return s.entries
}

// Dirs returns the plain directory overlays, head-first, for callers (like
// fsnotify wiring) that only care about on-disk directories.
func (s *SearchPath) Dirs() []string {
	var out []string
	for _, e := range s.entries {
		if e.kind == kindDirectory {
			out = append(out, e.dir)
		}
	}
	return out
}
