package vm

import (
	"fmt"

	"github.com/zurustar/ootw/pkg/resource"
)

// StepOutcome is the result of executing one instruction.
type StepOutcome int

const (
	// Continue means the thread keeps running in this frame.
	Continue StepOutcome = iota
	// Yield ends the thread's slice; it resumes after the yield next frame.
	Yield
	// Finished ends the thread; it becomes inactive at the frame boundary.
	Finished
	// Fatal is returned together with a *RuntimeError.
	Fatal
)

var outcomeNames = [...]string{"continue", "yield", "finished", "fatal"}

func (o StepOutcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("StepOutcome(%d)", int(o))
}

const (
	defaultZoom = 0x40
	charWidth   = 8

	// last visible line, used to clamp short polygon positions
	maxY = 199
)

// cursor reads big-endian operands from the code. The first read past the
// end records a fault and every later read returns 0.
type cursor struct {
	code []byte
	pos  int
	err  *RuntimeError
}

func (c *cursor) u8() uint8 {
	if c.err != nil {
		return 0
	}
	if c.pos >= len(c.code) {
		c.err = newMalformedOperandError("read past end of bytecode at 0x%04x (size 0x%04x)", c.pos, len(c.code))
		return 0
	}
	b := c.code[c.pos]
	c.pos++
	return b
}

func (c *cursor) u16() uint16 {
	hi := c.u8()
	lo := c.u8()
	return uint16(hi)<<8 | uint16(lo)
}

func (c *cursor) i16() int16 {
	return int16(c.u16())
}

// Step executes one instruction of thread id at its program counter.
// It does not check whether the thread is runnable. On Fatal the program
// counter is left on the faulting instruction.
func (vm *VM) Step(id int) (StepOutcome, error) {
	t := &vm.threads[id]
	start := t.pc
	c := cursor{code: vm.program.Code, pos: start}

	outcome, rerr := vm.execute(t, &c)
	if rerr == nil {
		rerr = c.err
	}
	if rerr != nil {
		rerr.ThreadID = id
		rerr.PC = vm.pcOf(start)
		return Fatal, rerr
	}

	t.pc = c.pos
	return outcome, nil
}

func (vm *VM) execute(t *Thread, c *cursor) (StepOutcome, *RuntimeError) {
	b := c.u8()
	if c.err != nil {
		return Fatal, c.err
	}
	op, ok := Decode(b)
	if !ok {
		return Fatal, newUnknownOpcodeError(b)
	}

	switch op {
	case OpSetI:
		v, imm := c.u8(), c.i16()
		vm.setVar(c, v, imm)
		vm.trace(op, "var", v, "value", imm)

	case OpSet:
		dst, src := c.u8(), c.u8()
		vm.setVar(c, dst, vm.getVar(c, src))
		vm.trace(op, "dst", dst, "src", src)

	case OpAdd:
		dst, src := c.u8(), c.u8()
		vm.setVar(c, dst, vm.getVar(c, dst)+vm.getVar(c, src))
		vm.trace(op, "dst", dst, "src", src)

	case OpAddI:
		v, imm := c.u8(), c.i16()
		vm.setVar(c, v, vm.getVar(c, v)+imm)
		vm.trace(op, "var", v, "value", imm)

	case OpSub:
		dst, src := c.u8(), c.u8()
		vm.setVar(c, dst, vm.getVar(c, dst)-vm.getVar(c, src))
		vm.trace(op, "dst", dst, "src", src)

	case OpAnd:
		v, imm := c.u8(), c.i16()
		vm.setVar(c, v, vm.getVar(c, v)&imm)
		vm.trace(op, "var", v, "mask", imm)

	case OpOr:
		v, imm := c.u8(), c.i16()
		vm.setVar(c, v, vm.getVar(c, v)|imm)
		vm.trace(op, "var", v, "mask", imm)

	case OpShl:
		v, n := c.u8(), c.u16()
		vm.setVar(c, v, vm.getVar(c, v)<<n)
		vm.trace(op, "var", v, "shift", n)

	case OpShr:
		v, n := c.u8(), c.u16()
		vm.setVar(c, v, vm.getVar(c, v)>>n)
		vm.trace(op, "var", v, "shift", n)

	case OpCall:
		target := c.u16()
		if c.err != nil {
			break
		}
		if len(t.callStack) >= vm.maxCallDepth {
			return Fatal, newCallStackOverflowError(len(t.callStack) + 1)
		}
		t.callStack = append(t.callStack, c.pos)
		c.pos = int(target)
		vm.trace(op, "target", target, "depth", len(t.callStack))

	case OpReturn:
		if len(t.callStack) == 0 {
			return Fatal, newCallStackUnderflowError()
		}
		ret := t.callStack[len(t.callStack)-1]
		t.callStack = t.callStack[:len(t.callStack)-1]
		c.pos = ret
		vm.trace(op, "target", ret)

	case OpYield:
		vm.trace(op)
		return Yield, nil

	case OpKill:
		vm.trace(op)
		return Finished, nil

	case OpJump:
		target := c.u16()
		if c.err == nil {
			c.pos = int(target)
		}
		vm.trace(op, "target", target)

	case OpJumpNotZero:
		v, target := c.u8(), c.u16()
		if c.err != nil {
			break
		}
		n := vm.getVar(c, v) - 1
		vm.setVar(c, v, n)
		if n != 0 {
			c.pos = int(target)
		}
		vm.trace(op, "var", v, "value", n, "target", target)

	case OpCondJump:
		return vm.condJump(c)

	case OpSetVector:
		id, target := c.u8(), c.u16()
		if c.err != nil {
			break
		}
		if int(id) >= NumThreads {
			return Fatal, newMalformedOperandError("setvec: thread 0x%02x out of range", id)
		}
		vm.threads[id].start(int(target))
		vm.trace(op, "thread", id, "target", target)

	case OpResetThread:
		return Continue, vm.resetThread(c)

	case OpSetPalette:
		return Continue, vm.setPalette(c)

	case OpSelectPage:
		page := c.u8()
		if c.err == nil {
			vm.pages.render = vm.lookupPage(page)
		}
		vm.trace(op, "page", page, "render", vm.pages.render)

	case OpFillPage:
		page, color := c.u8(), c.u8()
		if c.err == nil {
			vm.renderer.Draw(DrawRequest{Kind: DrawFill, Page: vm.lookupPage(page), Color: color})
		}
		vm.trace(op, "page", page, "color", color)

	case OpCopyPage:
		src, dst := c.u8(), c.u8()
		if c.err != nil {
			break
		}
		var vscroll int16
		if src < 0xfe && src&0x80 != 0 {
			vscroll = vm.getVar(c, VarScrollY)
		}
		vm.renderer.Draw(DrawRequest{
			Kind:    DrawCopy,
			SrcPage: vm.lookupPage(src),
			Page:    vm.lookupPage(dst),
			VScroll: vscroll,
		})
		vm.trace(op, "src", src, "dst", dst, "vscroll", vscroll)

	case OpBlit:
		page := c.u8()
		if c.err != nil {
			break
		}
		front := vm.lookupPage(page)
		if page == 0xff {
			vm.pages.back, vm.pages.front = vm.pages.front, vm.pages.back
		}
		vm.pages.front = front
		vm.renderer.Draw(DrawRequest{Kind: DrawPresent, Page: front})
		vm.setVar(c, VarSlicesUsed, 1)
		vm.trace(op, "page", page, "front", front)

	case OpDrawString:
		vm.drawString(c)

	case OpPlaySound:
		vm.playSound(c)

	case OpPlayMusic:
		vm.playMusic(c)

	case OpLoadResource:
		return Continue, vm.loadResource(c)

	case OpDrawPolygon:
		vm.drawPolygon(b, c)

	case OpDrawPolygonShort:
		vm.drawPolygonShort(b, c)

	default:
		return Fatal, newUnknownOpcodeError(b)
	}
	return Continue, nil
}

func (vm *VM) getVar(c *cursor, i uint8) int16 {
	if c.err != nil {
		return 0
	}
	return vm.vars.Get(i)
}

// setVar is a no-op once an operand read failed, so a truncated instruction
// leaves the variables untouched.
func (vm *VM) setVar(c *cursor, i uint8, v int16) {
	if c.err != nil {
		return
	}
	vm.vars.Set(i, v)
}

func (vm *VM) trace(op Op, args ...any) {
	vm.log.Debug("op "+op.String(), args...)
}

// condJump evaluates mode&7 between a variable and an operand:
// 0 ==, 1 !=, 2 >, 3 >=, 4 <, 5 <=, 6 signed overflow of v-operand.
func (vm *VM) condJump(c *cursor) (StepOutcome, *RuntimeError) {
	mode, v := c.u8(), c.u8()
	value := vm.getVar(c, v)
	var operand int16
	switch {
	case mode&0x80 != 0:
		operand = vm.getVar(c, c.u8())
	case mode&0x40 != 0:
		operand = c.i16()
	default:
		operand = int16(c.u8())
	}
	target := c.u16()
	if c.err != nil {
		return Fatal, c.err
	}

	var taken bool
	switch mode & 7 {
	case 0:
		taken = value == operand
	case 1:
		taken = value != operand
	case 2:
		taken = value > operand
	case 3:
		taken = value >= operand
	case 4:
		taken = value < operand
	case 5:
		taken = value <= operand
	case 6:
		taken = subOverflows(value, operand)
	default:
		return Fatal, newMalformedOperandError("condjump: undefined predicate in mode 0x%02x", mode)
	}
	if taken {
		c.pos = int(target)
	}
	vm.trace(OpCondJump, "mode", mode, "var", v, "value", value, "operand", operand, "target", target, "taken", taken)
	return Continue, nil
}

// subOverflows reports whether a-b overflows 16 bits.
func subOverflows(a, b int16) bool {
	d := int32(a) - int32(b)
	return d < -0x8000 || d > 0x7fff
}

const (
	resetUnpause    = 0
	resetPause      = 1
	resetDeactivate = 2
)

// resetThread only writes the requested fields. Pausing and unpausing
// affect active threads only; deactivation applies to the whole range.
func (vm *VM) resetThread(c *cursor) *RuntimeError {
	first, last, kind := c.u8(), c.u8(), c.u8()
	if c.err != nil {
		return c.err
	}
	if int(last) >= NumThreads || last < first {
		return newMalformedOperandError("resetthread: invalid thread range 0x%02x-0x%02x", first, last)
	}
	if kind > resetDeactivate {
		return newMalformedOperandError("resetthread: invalid operation %d", kind)
	}

	for i := int(first); i <= int(last); i++ {
		t := &vm.threads[i]
		switch kind {
		case resetDeactivate:
			t.finish()
		case resetPause, resetUnpause:
			if t.active {
				t.nextPaused = kind == resetPause
			}
		}
	}
	vm.trace(OpResetThread, "first", first, "last", last, "kind", kind)
	return nil
}

// lookupPage resolves a page operand to a page number 0-3.
func (vm *VM) lookupPage(page uint8) int {
	switch {
	case page == 0xff:
		return vm.pages.back
	case page == 0xfe:
		return vm.pages.front
	case page <= 3:
		return int(page)
	case page&0xfc == 0x40, page&0xf8 == 0x80:
		return int(page & 3)
	default:
		vm.log.Warn("Unmanaged page id", "page", fmt.Sprintf("0x%02x", page))
		return int(page & 3)
	}
}

func (vm *VM) setPalette(c *cursor) *RuntimeError {
	index, fade := c.u8(), c.u8()
	if c.err != nil {
		return c.err
	}
	off := int(index) * resource.PaletteSize
	if off+resource.PaletteSize > len(vm.program.Palette) {
		return newMalformedOperandError("setpalette: palette %d out of range of %d bytes", index, len(vm.program.Palette))
	}
	vm.renderer.Draw(DrawRequest{
		Kind:       DrawPalette,
		Palette:    int(index),
		FadeSpeed:  fade,
		ResourceID: vm.program.PaletteID,
		Data:       vm.program.Palette[off : off+resource.PaletteSize : off+resource.PaletteSize],
	})
	vm.trace(OpSetPalette, "palette", index, "fade", fade)
	return nil
}

func (vm *VM) drawString(c *cursor) {
	id, x, y, color := c.u16(), c.u8(), c.u8(), c.u8()
	if c.err != nil {
		return
	}
	vm.trace(OpDrawString, "id", id, "x", x, "y", y, "color", color)

	var text string
	ok := false
	if vm.strings != nil {
		text, ok = vm.strings.Lookup(int(id))
	}
	if !ok {
		vm.log.Error("Cannot find string", "id", fmt.Sprintf("0x%04x", id))
		return
	}
	vm.renderer.Draw(DrawRequest{
		Kind:     DrawText,
		Page:     vm.pages.render,
		StringID: int(id),
		Text:     text,
		X:        int16(x) * charWidth,
		Y:        int16(y),
		Color:    color,
	})
}

func (vm *VM) playSound(c *cursor) {
	id, freq, vol, channel := c.u16(), c.u8(), c.u8(), c.u8()
	if c.err != nil {
		return
	}
	vm.trace(OpPlaySound, "id", id, "freq", freq, "vol", vol, "channel", channel)
	if vol == 0 {
		vm.mixer.Play(AudioRequest{Kind: AudioStopSample, Channel: channel})
		return
	}
	vm.mixer.Play(AudioRequest{
		Kind:       AudioPlaySample,
		ResourceID: int(id),
		Frequency:  freq,
		Volume:     vol,
		Channel:    channel,
	})
}

func (vm *VM) playMusic(c *cursor) {
	id, delay, pos := c.u16(), c.u16(), c.u8()
	if c.err != nil {
		return
	}
	vm.trace(OpPlayMusic, "id", id, "delay", delay, "pos", pos)
	if id == 0 && delay == 0 {
		vm.mixer.Play(AudioRequest{Kind: AudioStopMusic})
		return
	}
	vm.mixer.Play(AudioRequest{
		Kind:       AudioPlayMusic,
		ResourceID: int(id),
		Delay:      delay,
		Position:   pos,
	})
}

// loadResource handles the three meanings of the LoadResource opcode: 0
// stops all audio, ids from resource.FirstSceneID request a scene change and
// anything else loads a resource, bitmaps being drawn to page 0 at once.
func (vm *VM) loadResource(c *cursor) *RuntimeError {
	id := int(c.u16())
	if c.err != nil {
		return c.err
	}
	vm.trace(OpLoadResource, "id", id)

	switch {
	case id == 0:
		vm.mixer.Play(AudioRequest{Kind: AudioStopAll})
		return nil
	case id >= resource.FirstSceneID:
		vm.requestedScene = id - resource.FirstSceneID
		vm.log.Info("Scene change requested", "scene", vm.requestedScene)
		return nil
	}

	if vm.resources == nil {
		return newResourceError(id, resource.ErrUnknownResource)
	}
	data, err := vm.resources.Load(id)
	if err != nil {
		return newResourceError(id, err)
	}
	desc, err := vm.resources.Descriptor(id)
	if err != nil {
		return newResourceError(id, err)
	}
	if desc.Type == resource.TypeBitmap {
		vm.renderer.Draw(DrawRequest{Kind: DrawBitmap, Page: 0, ResourceID: id, Data: data})
	}
	return nil
}

// drawPolygon decodes the operand modes of opcodes 0x40-0x7f:
//
//	bits 5-4  x: 0 i16, 1 variable, 2 u8, 3 u8+256
//	bits 3-2  y: 0 i16, 1 variable, 2-3 u8
//	bits 1-0  zoom: 0 default, 1 variable, 2 u8, 3 default with the video2 segment
func (vm *VM) drawPolygon(op byte, c *cursor) {
	offset := int(c.u16()) * 2

	var x int16
	switch op & 0x30 {
	case 0x00:
		x = c.i16()
	case 0x10:
		x = vm.getVar(c, c.u8())
	case 0x20:
		x = int16(c.u8())
	case 0x30:
		x = int16(c.u8()) + 0x100
	}

	var y int16
	switch op & 0x0c {
	case 0x00:
		y = c.i16()
	case 0x04:
		y = vm.getVar(c, c.u8())
	default:
		y = int16(c.u8())
	}

	zoom := uint16(defaultZoom)
	segment := SegmentCinematic
	switch op & 0x03 {
	case 0x01:
		zoom = uint16(vm.getVar(c, c.u8()))
	case 0x02:
		zoom = uint16(c.u8())
	case 0x03:
		segment = SegmentVideo2
	}
	if c.err != nil {
		return
	}

	vm.emitPolygon(segment, offset, x, y, zoom)
}

// drawPolygonShort handles opcodes 0x80-0xff, always drawn from the
// cinematic segment at the default zoom. Lines below the screen are folded
// back onto x.
func (vm *VM) drawPolygonShort(op byte, c *cursor) {
	offset := (int(op&0x7f)<<8 | int(c.u8())) * 2
	x := int16(c.u8())
	y := int16(c.u8())
	if c.err != nil {
		return
	}
	if h := y - maxY; h > 0 {
		y = maxY
		x += h
	}
	vm.emitPolygon(SegmentCinematic, offset, x, y, defaultZoom)
}

func (vm *VM) emitPolygon(segment Segment, offset int, x, y int16, zoom uint16) {
	id := vm.program.CinematicID
	if segment == SegmentVideo2 {
		id = vm.program.Video2ID
	}
	vm.log.Debug("op polygon", "segment", segment.String(), "offset", offset, "x", x, "y", y, "zoom", zoom)
	vm.renderer.Draw(DrawRequest{
		Kind:       DrawPolygon,
		Page:       vm.pages.render,
		Segment:    segment,
		ResourceID: id,
		Offset:     offset,
		X:          x,
		Y:          y,
		Zoom:       zoom,
	})
}
