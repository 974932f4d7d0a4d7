package msg

// UserCmd is a single-tick client input record.
type UserCmd struct {
	Angles     [3]float32
	Forward    int16
	Side       int16
	Up         int16
	Buttons    uint8
	Msec       uint8
	Impulse    uint8
	LightLevel uint8
}

const (
	ucAngle1 = 1 << iota
	ucAngle2
	ucAngle3
	ucForward
	ucSide
	ucUp
	ucButtons
	ucImpulse
)

// EncodeDeltaUserCmd emits a bit-mask of changed fields (relative to prev)
// followed by only the changed fields, then msec and lightlevel
// unconditionally (as R1Q2 does — they are cheap and needed every command).
func EncodeDeltaUserCmd(w *Writer, prev, cmd UserCmd) {
	var bits uint8
	if cmd.Angles[0] != prev.Angles[0] {
		bits |= ucAngle1
	}
	if cmd.Angles[1] != prev.Angles[1] {
		bits |= ucAngle2
	}
	if cmd.Angles[2] != prev.Angles[2] {
		bits |= ucAngle3
	}
	if cmd.Forward != prev.Forward {
		bits |= ucForward
	}
	if cmd.Side != prev.Side {
		bits |= ucSide
	}
	if cmd.Up != prev.Up {
		bits |= ucUp
	}
	if cmd.Buttons != prev.Buttons {
		bits |= ucButtons
	}
	if cmd.Impulse != prev.Impulse {
		bits |= ucImpulse
	}

	w.WriteByte_(bits)
	if bits&ucAngle1 != 0 {
		w.WriteAngle16(cmd.Angles[0])
	}
	if bits&ucAngle2 != 0 {
		w.WriteAngle16(cmd.Angles[1])
	}
	if bits&ucAngle3 != 0 {
		w.WriteAngle16(cmd.Angles[2])
	}
	if bits&ucForward != 0 {
		w.WriteShort(cmd.Forward)
	}
	if bits&ucSide != 0 {
		w.WriteShort(cmd.Side)
	}
	if bits&ucUp != 0 {
		w.WriteShort(cmd.Up)
	}
	if bits&ucButtons != 0 {
		w.WriteByte_(cmd.Buttons)
	}
	if bits&ucImpulse != 0 {
		w.WriteByte_(cmd.Impulse)
	}
	w.WriteByte_(cmd.Msec)
	w.WriteByte_(cmd.LightLevel)
}

// DecodeDeltaUserCmd is the exact inverse of EncodeDeltaUserCmd.
func DecodeDeltaUserCmd(r *Reader, prev UserCmd) (UserCmd, error) {
	bits, err := r.ReadByte_()
	if err != nil {
		return UserCmd{}, err
	}
	cmd := prev
	if bits&ucAngle1 != 0 {
		if cmd.Angles[0], err = r.ReadAngle16(); err != nil {
			return UserCmd{}, err
		}
	}
	if bits&ucAngle2 != 0 {
		if cmd.Angles[1], err = r.ReadAngle16(); err != nil {
			return UserCmd{}, err
		}
	}
	if bits&ucAngle3 != 0 {
		if cmd.Angles[2], err = r.ReadAngle16(); err != nil {
			return UserCmd{}, err
		}
	}
	if bits&ucForward != 0 {
		if cmd.Forward, err = r.ReadShort(); err != nil {
			return UserCmd{}, err
		}
	}
	if bits&ucSide != 0 {
		if cmd.Side, err = r.ReadShort(); err != nil {
			return UserCmd{}, err
		}
	}
	if bits&ucUp != 0 {
		if cmd.Up, err = r.ReadShort(); err != nil {
			return UserCmd{}, err
		}
	}
	if bits&ucButtons != 0 {
		if cmd.Buttons, err = r.ReadByte_(); err != nil {
			return UserCmd{}, err
		}
	}
	if bits&ucImpulse != 0 {
		if cmd.Impulse, err = r.ReadByte_(); err != nil {
			return UserCmd{}, err
		}
	}
	if cmd.Msec, err = r.ReadByte_(); err != nil {
		return UserCmd{}, err
	}
	if cmd.LightLevel, err = r.ReadByte_(); err != nil {
		return UserCmd{}, err
	}
	return cmd, nil
}
