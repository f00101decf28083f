package vm

import "fmt"

const (
	// NumThreads is the size of the thread pool.
	NumThreads = 64
	// DefaultMaxCallDepth bounds the call stack of each thread.
	DefaultMaxCallDepth = 64
)

// PC addresses an instruction: a bytecode resource id and a byte offset
// into it.
type PC struct {
	Resource int
	Offset   int
}

func (pc PC) String() string {
	return fmt.Sprintf("0x%02x:%04x", pc.Resource, pc.Offset)
}

// Thread is one slot of the pool. The current fields drive scheduling of the
// running frame; the next fields are what opcodes write, and commit copies
// them over the current ones between frames.
type Thread struct {
	active bool
	paused bool
	pc     int

	nextActive  bool
	nextPaused  bool
	nextPC      int
	pcRequested bool

	callStack []int
}

// start requests the thread to run from pc at the next frame.
func (t *Thread) start(pc int) {
	t.nextActive = true
	t.nextPaused = false
	t.nextPC = pc
	t.pcRequested = true
}

// finish requests deactivation; a pending vector is dropped.
func (t *Thread) finish() {
	t.nextActive = false
	t.pcRequested = false
}

// end handles a thread that finished its routine. Only the current state
// ends: a vector requested earlier in the frame still restarts the thread at
// the next frame.
func (t *Thread) end() {
	if t.pcRequested && t.nextActive {
		return
	}
	t.nextActive = false
	t.pcRequested = false
}

func (t *Thread) commit() {
	t.active = t.nextActive
	t.paused = t.nextPaused
	if t.pcRequested {
		t.pc = t.nextPC
		t.callStack = t.callStack[:0]
		t.pcRequested = false
	}
}

func (t *Thread) reset() {
	*t = Thread{callStack: t.callStack[:0]}
}

// ThreadState is a read-only view of a thread.
type ThreadState struct {
	ID     int
	Active bool
	Paused bool
	PC     PC

	RequestedActive bool
	RequestedPaused bool
	// RequestedPC is -1 unless a vector is pending.
	RequestedPC int

	CallDepth int
}

// Runnable reports whether the thread runs in the current frame.
func (s ThreadState) Runnable() bool {
	return s.Active && !s.Paused
}
