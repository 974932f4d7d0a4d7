package msg

// EntityState is the compact per-entity snapshot unit. Origin/Angles/
// OldOrigin are float32 triples; the rest are small integer fields
// quantized or passed through as-is.
type EntityState struct {
	Number int32

	Origin    [3]float32
	Angles    [3]float32
	OldOrigin [3]float32

	ModelIndex  uint8
	ModelIndex2 uint8
	ModelIndex3 uint8
	ModelIndex4 uint8

	Frame   uint16
	Skin    uint32
	Effects uint32
	RenderFX int32
	Solid   uint32
	Sound   uint8
	Event   uint8
}

// NullEntityState is the all-zero identity used as a delta baseline for
// spawn-baselines and no-delta frames.
var NullEntityState = EntityState{}

// entity delta bit flags. Only changed fields are written after the mask.
const (
	uOrigin1 = 1 << iota
	uOrigin2
	uOrigin3
	uAngle1
	uAngle2
	uAngle3
	uOldOrigin
	uModel
	uModel2
	uModel3
	uModel4
	uFrame
	uSkin
	uEffects
	uRenderFX
	uSolid
	uSound
	uEvent
	uRemove
)

// EncodeDeltaEntity emits a bit-mask of changed fields followed by only the
// changed fields. num is the entity number (always written). When remove is
// true, only the entity number and the remove flag are emitted.
func EncodeDeltaEntity(w *Writer, num int32, from, to EntityState, remove bool) {
	if remove {
		w.WriteLong(num)
		w.WriteLong(uRemove)
		return
	}
	var bits uint32
	if to.Origin[0] != from.Origin[0] {
		bits |= uOrigin1
	}
	if to.Origin[1] != from.Origin[1] {
		bits |= uOrigin2
	}
	if to.Origin[2] != from.Origin[2] {
		bits |= uOrigin3
	}
	if to.Angles[0] != from.Angles[0] {
		bits |= uAngle1
	}
	if to.Angles[1] != from.Angles[1] {
		bits |= uAngle2
	}
	if to.Angles[2] != from.Angles[2] {
		bits |= uAngle3
	}
	if to.OldOrigin != from.OldOrigin {
		bits |= uOldOrigin
	}
	if to.ModelIndex != from.ModelIndex {
		bits |= uModel
	}
	if to.ModelIndex2 != from.ModelIndex2 {
		bits |= uModel2
	}
	if to.ModelIndex3 != from.ModelIndex3 {
		bits |= uModel3
	}
	if to.ModelIndex4 != from.ModelIndex4 {
		bits |= uModel4
	}
	if to.Frame != from.Frame {
		bits |= uFrame
	}
	if to.Skin != from.Skin {
		bits |= uSkin
	}
	if to.Effects != from.Effects {
		bits |= uEffects
	}
	if to.RenderFX != from.RenderFX {
		bits |= uRenderFX
	}
	if to.Solid != from.Solid {
		bits |= uSolid
	}
	if to.Sound != from.Sound {
		bits |= uSound
	}
	if to.Event != from.Event {
		bits |= uEvent
	}

	w.WriteLong(num)
	w.WriteLong(int32(bits))
	if bits&uOrigin1 != 0 {
		w.WritePos(to.Origin[0])
	}
	if bits&uOrigin2 != 0 {
		w.WritePos(to.Origin[1])
	}
	if bits&uOrigin3 != 0 {
		w.WritePos(to.Origin[2])
	}
	if bits&uAngle1 != 0 {
		w.WriteAngle16(to.Angles[0])
	}
	if bits&uAngle2 != 0 {
		w.WriteAngle16(to.Angles[1])
	}
	if bits&uAngle3 != 0 {
		w.WriteAngle16(to.Angles[2])
	}
	if bits&uOldOrigin != 0 {
		w.WritePos(to.OldOrigin[0])
		w.WritePos(to.OldOrigin[1])
		w.WritePos(to.OldOrigin[2])
	}
	if bits&uModel != 0 {
		w.WriteByte_(to.ModelIndex)
	}
	if bits&uModel2 != 0 {
		w.WriteByte_(to.ModelIndex2)
	}
	if bits&uModel3 != 0 {
		w.WriteByte_(to.ModelIndex3)
	}
	if bits&uModel4 != 0 {
		w.WriteByte_(to.ModelIndex4)
	}
	if bits&uFrame != 0 {
		w.WriteShort(int16(to.Frame))
	}
	if bits&uSkin != 0 {
		w.WriteLong(int32(to.Skin))
	}
	if bits&uEffects != 0 {
		w.WriteLong(int32(to.Effects))
	}
	if bits&uRenderFX != 0 {
		w.WriteLong(to.RenderFX)
	}
	if bits&uSolid != 0 {
		w.WriteLong(int32(to.Solid))
	}
	if bits&uSound != 0 {
		w.WriteByte_(to.Sound)
	}
	if bits&uEvent != 0 {
		w.WriteByte_(to.Event)
	}
}

// DecodeDeltaEntity reads one delta record, applying masked fields onto
// baseline and leaving unchanged fields intact. Returns the entity number,
// the updated state, whether it is a removal, and an error (ErrShortRead on
// truncation).
func DecodeDeltaEntity(r *Reader, baseline EntityState) (num int32, out EntityState, removed bool, err error) {
	num, err = r.ReadLong()
	if err != nil {
		return 0, EntityState{}, false, err
	}
	bitsRaw, err := r.ReadLong()
	if err != nil {
		return 0, EntityState{}, false, err
	}
	bits := uint32(bitsRaw)
	if bits&uRemove != 0 {
		return num, EntityState{}, true, nil
	}
	out = baseline
	out.Number = num
	if bits&uOrigin1 != 0 {
		if out.Origin[0], err = r.ReadPos(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uOrigin2 != 0 {
		if out.Origin[1], err = r.ReadPos(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uOrigin3 != 0 {
		if out.Origin[2], err = r.ReadPos(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uAngle1 != 0 {
		if out.Angles[0], err = r.ReadAngle16(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uAngle2 != 0 {
		if out.Angles[1], err = r.ReadAngle16(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uAngle3 != 0 {
		if out.Angles[2], err = r.ReadAngle16(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uOldOrigin != 0 {
		for i := 0; i < 3; i++ {
			if out.OldOrigin[i], err = r.ReadPos(); err != nil {
				return 0, EntityState{}, false, err
			}
		}
	}
	if bits&uModel != 0 {
		if out.ModelIndex, err = r.ReadByte_(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uModel2 != 0 {
		if out.ModelIndex2, err = r.ReadByte_(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uModel3 != 0 {
		if out.ModelIndex3, err = r.ReadByte_(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uModel4 != 0 {
		if out.ModelIndex4, err = r.ReadByte_(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uFrame != 0 {
		v, e := r.ReadShort()
		if e != nil {
			return 0, EntityState{}, false, e
		}
		out.Frame = uint16(v)
	}
	if bits&uSkin != 0 {
		v, e := r.ReadLong()
		if e != nil {
			return 0, EntityState{}, false, e
		}
		out.Skin = uint32(v)
	}
	if bits&uEffects != 0 {
		v, e := r.ReadLong()
		if e != nil {
			return 0, EntityState{}, false, e
		}
		out.Effects = uint32(v)
	}
	if bits&uRenderFX != 0 {
		if out.RenderFX, err = r.ReadLong(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uSolid != 0 {
		v, e := r.ReadLong()
		if e != nil {
			return 0, EntityState{}, false, e
		}
		out.Solid = uint32(v)
	}
	if bits&uSound != 0 {
		if out.Sound, err = r.ReadByte_(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	if bits&uEvent != 0 {
		if out.Event, err = r.ReadByte_(); err != nil {
			return 0, EntityState{}, false, err
		}
	}
	return num, out, false, nil
}
