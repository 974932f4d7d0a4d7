// Package gamerules defines the narrow set of collaborator interfaces the
// core server calls into for game-specific behavior, plus a minimal
// deterministic implementation sufficient to run the core end-to-end
// without a real game DLL/shared-object equivalent.
package gamerules

import "github.com/quakecore/q2srv/internal/msg"

// ConnectResult is returned by ClientConnect to accept or reject a
// connecting player.
type ConnectResult struct {
	Accepted bool
	Reason   string // populated only when Accepted is false
}

// Baseline is one entity's spawn-time state, handed to a client during the
// "new" handshake so its local entity table starts from something other
// than all-zero before the first delta frame arrives.
type Baseline struct {
	Number int32
	State  msg.EntityState
}

// Game is the full set of hooks the world tick loop calls into. A real
// deployment would satisfy this from a loaded game module; Stub below is a
// minimal in-process implementation.
type Game interface {
	ClientConnect(clientID uint64, userinfo map[string]string) ConnectResult
	ClientBegin(clientID uint64)
	ClientCommand(clientID uint64, args []string)
	ClientDisconnect(clientID uint64)
	ClientThink(clientID uint64, cmd msg.UserCmd)

	PointLeaf(origin [3]float32) int32
	LeafCluster(leaf int32) int32
	LeafArea(leaf int32) int32
	ClusterPVS(cluster int32) []byte
	ClusterPHS(cluster int32) []byte
	AreasConnected(area1, area2 int32) bool

	// LevelName reports the current map's display name, written into
	// svc_serverdata at spawn time.
	LevelName() string
	// ConfigStrings returns the live configstring table, indexed by
	// configstring number; entries the game hasn't set are "".
	ConfigStrings() []string
	// Baselines returns the spawn-time state of every in-use entity, sent
	// to a client as svc_spawnbaseline records during the "new" handshake.
	Baselines() []Baseline
	// Entities returns every in-use entity's current state, walked once per
	// tick to build each client's snapshot. Unlike Baselines, this reflects
	// live state, not the state at spawn time.
	Entities() []Baseline
}

// Stub is a deterministic, single-cluster implementation: every leaf maps
// to cluster 0, PVS/PHS always report full visibility (every bit set), and
// every area pair is connected. It exists so the core netcode path
// (connect -> spawn -> snapshot -> command ingestion) can run without a
// real game module plugged in.
type Stub struct {
	fullVis []byte
}

// NewStub returns a Stub sized for maxEnts entities' worth of PVS/PHS bits.
func NewStub(maxEnts int) *Stub {
	bytes := (maxEnts + 7) / 8
	full := make([]byte, bytes)
	for i := range full {
		full[i] = 0xFF
	}
	return &Stub{fullVis: full}
}

func (s *Stub) ClientConnect(uint64, map[string]string) ConnectResult { return ConnectResult{Accepted: true} }
func (s *Stub) ClientBegin(uint64)                                    {}
func (s *Stub) ClientCommand(uint64, []string)                        {}
func (s *Stub) ClientDisconnect(uint64)                                {}
func (s *Stub) ClientThink(uint64, msg.UserCmd)                       {}

func (s *Stub) PointLeaf([3]float32) int32       { return 0 }
func (s *Stub) LeafCluster(int32) int32          { return 0 }
func (s *Stub) LeafArea(int32) int32             { return 0 }
func (s *Stub) ClusterPVS(int32) []byte          { return s.fullVis }
func (s *Stub) ClusterPHS(int32) []byte          { return s.fullVis }
func (s *Stub) AreasConnected(int32, int32) bool { return true }

// LevelName, ConfigStrings, Baselines, and Entities all report the empty
// set: the Stub never loads a map or spawns an entity, so a connecting
// client gets a well-formed but empty handshake and every snapshot is an
// empty frame.
func (s *Stub) LevelName() string       { return "" }
func (s *Stub) ConfigStrings() []string { return nil }
func (s *Stub) Baselines() []Baseline   { return nil }
func (s *Stub) Entities() []Baseline    { return nil }

var _ Game = (*Stub)(nil)
