package vm

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ThreadSnapshot is the saved state of one thread.
type ThreadSnapshot struct {
	Active      bool  `cbor:"1,keyasint"`
	Paused      bool  `cbor:"2,keyasint"`
	PC          int   `cbor:"3,keyasint"`
	NextActive  bool  `cbor:"4,keyasint"`
	NextPaused  bool  `cbor:"5,keyasint"`
	NextPC      int   `cbor:"6,keyasint"`
	PCRequested bool  `cbor:"7,keyasint"`
	CallStack   []int `cbor:"8,keyasint,omitempty"`
}

// Snapshot is the complete state of a VM. Resources are referenced by id;
// their bytes are not part of it.
type Snapshot struct {
	Frame          uint64           `cbor:"1,keyasint"`
	CodeID         int              `cbor:"2,keyasint"`
	Resources      []int            `cbor:"3,keyasint"` // resources required when the snapshot was taken
	Variables      []int16          `cbor:"4,keyasint"`
	Threads        []ThreadSnapshot `cbor:"5,keyasint"`
	RenderPage     int              `cbor:"6,keyasint"`
	BackPage       int              `cbor:"7,keyasint"`
	FrontPage      int              `cbor:"8,keyasint"`
	Random         []byte           `cbor:"9,keyasint"`
	RequestedScene int              `cbor:"10,keyasint"`
	Scene          int              `cbor:"11,keyasint"` // set by the engine
}

// ErrSnapshotMismatch is returned when a snapshot does not fit the VM.
var ErrSnapshotMismatch = errors.New("snapshot does not match the vm")

// Snapshot captures the state of the VM between two frames.
func (vm *VM) Snapshot() *Snapshot {
	s := &Snapshot{
		Frame:          vm.frame,
		CodeID:         vm.program.CodeID,
		Variables:      make([]int16, NumVariables),
		Threads:        make([]ThreadSnapshot, NumThreads),
		RenderPage:     vm.pages.render,
		BackPage:       vm.pages.back,
		FrontPage:      vm.pages.front,
		RequestedScene: vm.requestedScene,
	}
	copy(s.Variables, vm.vars.values[:])
	for i := range vm.threads {
		t := &vm.threads[i]
		s.Threads[i] = ThreadSnapshot{
			Active:      t.active,
			Paused:      t.paused,
			PC:          t.pc,
			NextActive:  t.nextActive,
			NextPaused:  t.nextPaused,
			NextPC:      t.nextPC,
			PCRequested: t.pcRequested,
			CallStack:   append([]int(nil), t.callStack...),
		}
	}
	// PCG.MarshalBinary never fails
	s.Random, _ = vm.rng.MarshalBinary()
	return s
}

// Restore replaces the state of the VM with s. The VM must run the same
// bytecode resource the snapshot was taken with.
func (vm *VM) Restore(s *Snapshot) error {
	if s.CodeID != vm.program.CodeID {
		return fmt.Errorf("%w: code resource 0x%02x, vm runs 0x%02x", ErrSnapshotMismatch, s.CodeID, vm.program.CodeID)
	}
	if len(s.Variables) != NumVariables || len(s.Threads) != NumThreads {
		return fmt.Errorf("%w: %d variables and %d threads", ErrSnapshotMismatch, len(s.Variables), len(s.Threads))
	}
	for _, p := range []int{s.RenderPage, s.BackPage, s.FrontPage} {
		if p < 0 || p > 3 {
			return fmt.Errorf("%w: invalid page %d", ErrSnapshotMismatch, p)
		}
	}
	for i, ts := range s.Threads {
		if len(ts.CallStack) > vm.maxCallDepth {
			return fmt.Errorf("%w: thread %d call depth %d", ErrSnapshotMismatch, i, len(ts.CallStack))
		}
		if !validOffset(ts.PC) || !validOffset(ts.NextPC) {
			return fmt.Errorf("%w: thread %d pc %d next pc %d", ErrSnapshotMismatch, i, ts.PC, ts.NextPC)
		}
		for _, ret := range ts.CallStack {
			if !validOffset(ret) {
				return fmt.Errorf("%w: thread %d return address %d", ErrSnapshotMismatch, i, ret)
			}
		}
	}
	if err := vm.rng.UnmarshalBinary(s.Random); err != nil {
		return fmt.Errorf("%w: random state: %v", ErrSnapshotMismatch, err)
	}

	vm.frame = s.Frame
	copy(vm.vars.values[:], s.Variables)
	for i, ts := range s.Threads {
		vm.threads[i] = Thread{
			active:      ts.Active,
			paused:      ts.Paused,
			pc:          ts.PC,
			nextActive:  ts.NextActive,
			nextPaused:  ts.NextPaused,
			nextPC:      ts.NextPC,
			pcRequested: ts.PCRequested,
			callStack:   append([]int(nil), ts.CallStack...),
		}
	}
	vm.pages = pages{render: s.RenderPage, back: s.BackPage, front: s.FrontPage}
	vm.requestedScene = s.RequestedScene
	vm.log.Debug("VM restored", "frame", s.Frame)
	return nil
}

// validOffset reports whether off can be a bytecode offset.
func validOffset(off int) bool {
	return off >= 0 && off <= 0xffff
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalSnapshot serializes a Snapshot to canonical CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("vm: unmarshal snapshot: %w", err)
	}
	return &s, nil
}
