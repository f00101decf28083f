package vm

import (
	"fmt"

	"github.com/zurustar/ootw/pkg/resource"
)

// MockRenderer records draw requests.
type MockRenderer struct {
	requests []DrawRequest
}

func (m *MockRenderer) Draw(req DrawRequest) {
	m.requests = append(m.requests, req)
}

func (m *MockRenderer) ofKind(kind DrawKind) []DrawRequest {
	var out []DrawRequest
	for _, r := range m.requests {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// MockMixer records audio requests.
type MockMixer struct {
	requests []AudioRequest
}

func (m *MockMixer) Play(req AudioRequest) {
	m.requests = append(m.requests, req)
}

// MockInput replays a fixed sequence of input states, then repeats the last.
type MockInput struct {
	states []InputState
	polls  int
}

func (m *MockInput) Poll() InputState {
	m.polls++
	if len(m.states) == 0 {
		return InputState{}
	}
	i := m.polls - 1
	if i >= len(m.states) {
		i = len(m.states) - 1
	}
	return m.states[i]
}

// MockResources serves resources from a map.
type MockResources struct {
	data  map[int][]byte
	types map[int]resource.Type
	err   error
	loads []int
}

func NewMockResources() *MockResources {
	return &MockResources{data: map[int][]byte{}, types: map[int]resource.Type{}}
}

func (m *MockResources) Add(id int, t resource.Type, data []byte) {
	m.data[id] = data
	m.types[id] = t
}

func (m *MockResources) Load(id int) ([]byte, error) {
	m.loads = append(m.loads, id)
	if m.err != nil {
		return nil, m.err
	}
	data, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("resource 0x%02x: %w", id, resource.ErrUnknownResource)
	}
	return data, nil
}

func (m *MockResources) Descriptor(id int) (resource.Descriptor, error) {
	t, ok := m.types[id]
	if !ok {
		return resource.Descriptor{}, fmt.Errorf("resource 0x%02x: %w", id, resource.ErrUnknownResource)
	}
	return resource.Descriptor{ID: id, Type: t, Size: len(m.data[id]), PackedSize: len(m.data[id])}, nil
}

// mapStrings is a StringTable backed by a map.
type mapStrings map[int]string

func (m mapStrings) Lookup(id int) (string, bool) {
	s, ok := m[id]
	return s, ok
}

// Instruction encoders used to assemble test programs.

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func seti(v uint8, imm int16) []byte { return append([]byte{0x00, v}, be16(uint16(imm))...) }
func set(dst, src uint8) []byte     { return []byte{0x01, dst, src} }
func add(dst, src uint8) []byte     { return []byte{0x02, dst, src} }
func addi(v uint8, imm int16) []byte { return append([]byte{0x03, v}, be16(uint16(imm))...) }
func call(target uint16) []byte     { return append([]byte{0x04}, be16(target)...) }
func ret() []byte                   { return []byte{0x05} }
func yield() []byte                 { return []byte{0x06} }
func jump(target uint16) []byte     { return append([]byte{0x07}, be16(target)...) }
func setvec(thread uint8, pc uint16) []byte {
	return append([]byte{0x08, thread}, be16(pc)...)
}
func jnz(v uint8, target uint16) []byte { return append([]byte{0x09, v}, be16(target)...) }
func sub(dst, src uint8) []byte        { return []byte{0x13, dst, src} }
func kill() []byte                     { return []byte{0x11} }

// condImm encodes a condjump against a 16-bit immediate.
func condImm(pred uint8, v uint8, imm int16, target uint16) []byte {
	b := []byte{0x0a, 0x40 | pred, v}
	b = append(b, be16(uint16(imm))...)
	return append(b, be16(target)...)
}

// condVar encodes a condjump against another variable.
func condVar(pred uint8, v, other uint8, target uint16) []byte {
	return append([]byte{0x0a, 0x80 | pred, v, other}, be16(target)...)
}

// condByte encodes a condjump against an unsigned byte.
func condByte(pred uint8, v, imm uint8, target uint16) []byte {
	return append([]byte{0x0a, pred, v, imm}, be16(target)...)
}

func resetThread(first, last, kind uint8) []byte { return []byte{0x0c, first, last, kind} }

func program(parts ...[]byte) []byte {
	var code []byte
	for _, p := range parts {
		code = append(code, p...)
	}
	return code
}

// newTestVM builds a VM around code with recording collaborators.
func newTestVM(code []byte, opts ...Option) (*VM, *MockRenderer, *MockMixer) {
	r := &MockRenderer{}
	m := &MockMixer{}
	opts = append([]Option{WithRenderer(r), WithMixer(m)}, opts...)
	return New(Program{CodeID: 0x15, Code: code, CinematicID: 0x16, Video2ID: 0x11}, opts...), r, m
}

// activate makes thread id runnable at pc from the current frame on.
func activate(vm *VM, id, pc int) {
	t := &vm.threads[id]
	t.active, t.nextActive = true, true
	t.pc = pc
}
