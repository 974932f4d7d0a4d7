package msg

// Server-to-client opcodes, the leading byte of every reliable or
// unreliable message the server ever writes. No client-to-server (clc_*)
// opcode constants are defined; the server decodes clc_move's usercmds
// with DecodeDeltaUserCmd (usercmd.go).
const (
	SvcBad = iota
	SvcNop
	SvcDisconnect
	SvcReconnect
	SvcPrint
	SvcStuffText
	SvcServerData
	SvcConfigString
	SvcSpawnBaseline
	SvcCenterPrint
	SvcFrame
	SvcDownload
	SvcZDownload
)

// svc_print levels, mirroring R1Q2's PRINT_* constants.
const (
	PrintLow = iota
	PrintMedium
	PrintHigh
	PrintChat
)

// MaxConfigStrings bounds the configstring table index space.
const MaxConfigStrings = 2080

// PlayerState is the per-client, per-tick view state prepended to every
// svc_frame: the handful of fields the HUD and camera need that have no
// entity number of their own.
type PlayerState struct {
	Origin     [3]float32
	ViewAngles [3]float32
	ViewOffset [3]float32
	GunIndex   uint8
	GunFrame   uint8
	Stats      [32]int16
}

// NullPlayerState is the all-zero identity used as a delta baseline for the
// first frame a client ever receives.
var NullPlayerState = PlayerState{}

// playerstate delta bit flags, a much narrower set than the entity delta's
// per-field bits since most of a player-state record changes every tick
// anyway (origin, view angles) and is grouped rather than split per axis.
const (
	psOrigin = 1 << iota
	psViewAngles
	psViewOffset
	psGun
	psStats
)

// EncodeDeltaPlayerState emits a changed-field bitmask followed by only the
// changed groups, the same shape EncodeDeltaEntity uses for entities.
func EncodeDeltaPlayerState(w *Writer, from, to PlayerState) {
	var bits uint8
	if to.Origin != from.Origin {
		bits |= psOrigin
	}
	if to.ViewAngles != from.ViewAngles {
		bits |= psViewAngles
	}
	if to.ViewOffset != from.ViewOffset {
		bits |= psViewOffset
	}
	if to.GunIndex != from.GunIndex || to.GunFrame != from.GunFrame {
		bits |= psGun
	}
	if to.Stats != from.Stats {
		bits |= psStats
	}

	w.WriteByte_(bits)
	if bits&psOrigin != 0 {
		w.WritePos(to.Origin[0])
		w.WritePos(to.Origin[1])
		w.WritePos(to.Origin[2])
	}
	if bits&psViewAngles != 0 {
		w.WriteAngle16(to.ViewAngles[0])
		w.WriteAngle16(to.ViewAngles[1])
		w.WriteAngle16(to.ViewAngles[2])
	}
	if bits&psViewOffset != 0 {
		w.WritePos(to.ViewOffset[0])
		w.WritePos(to.ViewOffset[1])
		w.WritePos(to.ViewOffset[2])
	}
	if bits&psGun != 0 {
		w.WriteByte_(to.GunIndex)
		w.WriteByte_(to.GunFrame)
	}
	if bits&psStats != 0 {
		for _, s := range to.Stats {
			w.WriteShort(s)
		}
	}
}

// DecodeDeltaPlayerState is the exact inverse of EncodeDeltaPlayerState.
func DecodeDeltaPlayerState(r *Reader, from PlayerState) (PlayerState, error) {
	bits, err := r.ReadByte_()
	if err != nil {
		return PlayerState{}, err
	}
	out := from
	if bits&psOrigin != 0 {
		for i := 0; i < 3; i++ {
			if out.Origin[i], err = r.ReadPos(); err != nil {
				return PlayerState{}, err
			}
		}
	}
	if bits&psViewAngles != 0 {
		for i := 0; i < 3; i++ {
			if out.ViewAngles[i], err = r.ReadAngle16(); err != nil {
				return PlayerState{}, err
			}
		}
	}
	if bits&psViewOffset != 0 {
		for i := 0; i < 3; i++ {
			if out.ViewOffset[i], err = r.ReadPos(); err != nil {
				return PlayerState{}, err
			}
		}
	}
	if bits&psGun != 0 {
		if out.GunIndex, err = r.ReadByte_(); err != nil {
			return PlayerState{}, err
		}
		if out.GunFrame, err = r.ReadByte_(); err != nil {
			return PlayerState{}, err
		}
	}
	if bits&psStats != 0 {
		for i := range out.Stats {
			v, e := r.ReadShort()
			if e != nil {
				return PlayerState{}, e
			}
			out.Stats[i] = v
		}
	}
	return out, nil
}

// WriteServerData writes the svc_serverdata handshake message sent in
// response to a client's "new" stringcmd: protocol version, the spawn count
// used to detect a "begin" left over from a previous map, whether this is a
// demo attract loop, the game directory, the client's own player number,
// and the current level name.
func WriteServerData(w *Writer, protocol, spawnCount int32, attractLoop bool, gameDir string, playerNum int16, levelName string) {
	w.WriteByte_(SvcServerData)
	w.WriteLong(protocol)
	w.WriteLong(spawnCount)
	if attractLoop {
		w.WriteByte_(1)
	} else {
		w.WriteByte_(0)
	}
	w.WriteString(gameDir)
	w.WriteShort(playerNum)
	w.WriteString(levelName)
}

// WriteConfigString writes one svc_configstring entry.
func WriteConfigString(w *Writer, index int16, value string) {
	w.WriteByte_(SvcConfigString)
	w.WriteShort(index)
	w.WriteString(value)
}

// WriteSpawnBaseline writes one svc_spawnbaseline entry: a delta-entity
// record against the null baseline, the same encoding a frame update uses
// for an entity that just became relevant.
func WriteSpawnBaseline(w *Writer, num int32, state EntityState) {
	EncodeDeltaEntity(w, num, NullEntityState, state, false)
}

// WriteDisconnect writes the svc_disconnect message, the last thing a
// session being torn down is ever told.
func WriteDisconnect(w *Writer) { w.WriteByte_(SvcDisconnect) }

// WritePrint writes an svc_print message: a PRINT_* level byte followed by
// NUL-terminated text.
func WritePrint(w *Writer, level uint8, text string) {
	w.WriteByte_(SvcPrint)
	w.WriteByte_(level)
	w.WriteString(text)
}

// WriteStuffText writes an svc_stufftext message, a console command string
// the client executes verbatim. Used here as the periodic no-op keepalive
// ("\177n") interleaved through a large reliable batch.
func WriteStuffText(w *Writer, text string) {
	w.WriteByte_(SvcStuffText)
	w.WriteString(text)
}

// WriteDownloadChunk writes one download reply: size is the total transfer
// size (-1 for "not found", 0 for "already complete"), percent is the
// client's completion estimate, and data is this chunk's payload. zpacket
// selects the svc_zdownload opcode for a DEFLATE'd chunk instead of
// svc_download for a raw one.
func WriteDownloadChunk(w *Writer, size int32, percent uint8, data []byte, zpacket bool) {
	if zpacket {
		w.WriteByte_(SvcZDownload)
	} else {
		w.WriteByte_(SvcDownload)
	}
	w.WriteLong(size)
	if size > 0 {
		w.WriteByte_(percent)
		w.WriteShort(int16(len(data)))
		w.WriteData(data)
	}
}

// WriteFrameHeader writes the svc_frame opcode and its fixed header.
// Callers append the player-state delta and entity deltas after calling
// this, then a terminating entity number of 0.
func WriteFrameHeader(w *Writer, serverTime, deltaFrom int32, suppressCount uint8, areaBits []byte) {
	w.WriteByte_(SvcFrame)
	w.WriteLong(serverTime)
	w.WriteLong(deltaFrom)
	w.WriteByte_(suppressCount)
	w.WriteByte_(uint8(len(areaBits)))
	w.WriteData(areaBits)
}
