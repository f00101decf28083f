package vm

// NumVariables is the size of the variable bank.
const NumVariables = 256

// Variables with an engine-defined meaning.
const (
	VarRandomSeed        = 0x3c
	VarLastKeyChar       = 0xda
	VarHeroPosUpDown     = 0xe5
	VarMusicSync         = 0xf4
	VarGfxDetail         = 0xf6
	VarSlicesUsed        = 0xf7
	VarScrollY           = 0xf9
	VarHeroAction        = 0xfa
	VarHeroPosJumpDown   = 0xfb
	VarHeroPosLeftRight  = 0xfc
	VarHeroPosMask       = 0xfd
	VarHeroActionPosMask = 0xfe
	VarPauseSlices       = 0xff
)

// ReadHandler computes the value returned by a read from the stored one.
type ReadHandler func(stored int16) int16

// WriteHandler observes a write after the value has been stored.
type WriteHandler func(value int16)

// VariableBank holds the 256 signed 16-bit variables shared by all threads.
// Writes are visible to every subsequent read, within the same frame.
type VariableBank struct {
	values  [NumVariables]int16
	onRead  [NumVariables]ReadHandler
	onWrite [NumVariables]WriteHandler
}

// Get reads variable i through its read handler, if any.
func (b *VariableBank) Get(i uint8) int16 {
	if h := b.onRead[i]; h != nil {
		return h(b.values[i])
	}
	return b.values[i]
}

// Set writes variable i and notifies its write handler, if any.
func (b *VariableBank) Set(i uint8, v int16) {
	b.values[i] = v
	if h := b.onWrite[i]; h != nil {
		h(v)
	}
}

// Peek reads the stored value without side effects.
func (b *VariableBank) Peek(i uint8) int16 {
	return b.values[i]
}

// Poke stores a value without side effects.
func (b *VariableBank) Poke(i uint8, v int16) {
	b.values[i] = v
}

// OnRead installs a read handler for variable i. nil removes it.
func (b *VariableBank) OnRead(i uint8, h ReadHandler) {
	b.onRead[i] = h
}

// OnWrite installs a write handler for variable i. nil removes it.
func (b *VariableBank) OnWrite(i uint8, h WriteHandler) {
	b.onWrite[i] = h
}

// Values returns a copy of the stored values.
func (b *VariableBank) Values() [NumVariables]int16 {
	return b.values
}
