package vm

// Direction is the state of one axis of the directional input.
type Direction int8

const (
	Neutral Direction = 0
	// Left and Up are the negative ends of their axis.
	Left Direction = -1
	Up   Direction = -1
	// Right and Down are the positive ends of their axis.
	Right Direction = 1
	Down  Direction = 1
)

// InputState is the snapshot of the player input for one frame.
type InputState struct {
	Horizontal Direction
	Vertical   Direction
	Button     bool
	// LastChar is the last typed character, 0 if none. Used by the password
	// screen.
	LastChar byte
}

const (
	maskRight  = 0x01
	maskLeft   = 0x02
	maskDown   = 0x04
	maskUp     = 0x08
	maskButton = 0x80
)

// applyInput maps in into the input variables.
func (b *VariableBank) applyInput(in InputState) {
	var mask int16

	switch {
	case in.Vertical < 0:
		mask |= maskUp
		b.Set(VarHeroPosUpDown, -1)
	case in.Vertical > 0:
		mask |= maskDown
		b.Set(VarHeroPosUpDown, 1)
	default:
		b.Set(VarHeroPosUpDown, 0)
	}
	b.Set(VarHeroPosJumpDown, b.Peek(VarHeroPosUpDown))

	switch {
	case in.Horizontal < 0:
		mask |= maskLeft
		b.Set(VarHeroPosLeftRight, -1)
	case in.Horizontal > 0:
		mask |= maskRight
		b.Set(VarHeroPosLeftRight, 1)
	default:
		b.Set(VarHeroPosLeftRight, 0)
	}
	b.Set(VarHeroPosMask, mask)

	if in.Button {
		mask |= maskButton
		b.Set(VarHeroAction, 1)
	} else {
		b.Set(VarHeroAction, 0)
	}
	b.Set(VarHeroActionPosMask, mask)

	if in.LastChar != 0 {
		b.Set(VarLastKeyChar, int16(in.LastChar))
	}
}
