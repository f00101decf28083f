// Package vm implements the cooperative bytecode virtual machine: a pool of
// script threads stepped frame by frame over a shared variable bank, with
// thread state changes deferred to the frame boundary.
//
// A VM is built for one scene and replaced when the scripts request another
// one. It never draws or plays anything itself; it emits requests to the
// Renderer and Mixer it was given.
package vm

import (
	"log/slog"
	"math/rand/v2"

	"github.com/zurustar/ootw/pkg/logger"
)

// DefaultSeed is the random seed the scene setup writes into VarRandomSeed.
const DefaultSeed uint16 = 0xbeef

// NoScene is returned by RequestedScene when no scene change is pending.
const NoScene = -1

// Program holds the resources of a scene that the interpreter reads.
// The slices are borrowed from the resource manager and never modified.
type Program struct {
	CodeID      int
	Code        []byte
	PaletteID   int
	Palette     []byte
	CinematicID int
	Cinematic   []byte
	Video2ID    int
	Video2      []byte
}

// FaultPolicy decides what an opcode fault does to the frame.
type FaultPolicy int

const (
	// FaultAbort stops the frame and returns the fault. Thread state changes
	// requested during the aborted frame are not committed.
	FaultAbort FaultPolicy = iota
	// FaultIsolate logs the fault, deactivates the faulting thread at the
	// frame boundary and runs the remaining threads.
	FaultIsolate
)

func (p FaultPolicy) String() string {
	if p == FaultIsolate {
		return "isolate"
	}
	return "abort"
}

// pages tracks the video page roles. Page numbers are 0-3.
type pages struct {
	render int
	back   int
	front  int
}

// VM is the execution context of one scene.
type VM struct {
	program Program
	vars    VariableBank
	threads [NumThreads]Thread
	rng     *rand.PCG
	pages   pages

	requestedScene int
	frame          uint64

	resources ResourceProvider
	renderer  Renderer
	mixer     Mixer
	input     InputProvider
	strings   StringTable

	policy       FaultPolicy
	budget       int
	maxCallDepth int
	seed         uint16
	randomTick   bool
	initialVars  *[NumVariables]int16

	log *slog.Logger
}

// Option is a functional option for configuring the VM.
type Option func(*VM)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(vm *VM) {
		vm.log = log
	}
}

// WithResources sets the provider used by the LoadResource opcode.
func WithResources(p ResourceProvider) Option {
	return func(vm *VM) {
		vm.resources = p
	}
}

// WithRenderer sets the consumer of draw requests.
func WithRenderer(r Renderer) Option {
	return func(vm *VM) {
		vm.renderer = r
	}
}

// WithMixer sets the consumer of audio requests.
func WithMixer(m Mixer) Option {
	return func(vm *VM) {
		vm.mixer = m
	}
}

// WithInput sets the input polled at the start of every frame.
func WithInput(in InputProvider) Option {
	return func(vm *VM) {
		vm.input = in
	}
}

// WithStrings sets the string table of the DrawString opcode.
func WithStrings(t StringTable) Option {
	return func(vm *VM) {
		vm.strings = t
	}
}

// WithFaultPolicy selects how opcode faults are handled.
func WithFaultPolicy(p FaultPolicy) Option {
	return func(vm *VM) {
		vm.policy = p
	}
}

// WithInstructionBudget bounds the instructions a thread may execute in one
// frame. 0 disables the bound.
func WithInstructionBudget(n int) Option {
	return func(vm *VM) {
		vm.budget = n
	}
}

// WithMaxCallDepth bounds the call stack of every thread.
func WithMaxCallDepth(n int) Option {
	return func(vm *VM) {
		vm.maxCallDepth = n
	}
}

// WithSeed sets the random seed written at scene setup.
func WithSeed(seed uint16) Option {
	return func(vm *VM) {
		vm.seed = seed
	}
}

// WithRandomFrameTick advances the random generator once per frame, in
// addition to the reads of VarRandomSeed.
func WithRandomFrameTick(enabled bool) Option {
	return func(vm *VM) {
		vm.randomTick = enabled
	}
}

// WithVariables starts the VM from the variables of a previous scene.
// The scene setup writes are applied on top of them.
func WithVariables(values [NumVariables]int16) Option {
	return func(vm *VM) {
		vm.initialVars = &values
	}
}

// New creates the VM of a scene: variables initialized, every thread reset
// and thread 0 active at offset 0 of the code.
func New(program Program, opts ...Option) *VM {
	vm := &VM{
		program:        program,
		rng:            rand.NewPCG(0, 0),
		requestedScene: NoScene,
		renderer:       nopRenderer{},
		mixer:          nopMixer{},
		input:          nopInput{},
		policy:         FaultAbort,
		maxCallDepth:   DefaultMaxCallDepth,
		seed:           DefaultSeed,
		log:            logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(vm)
	}

	if vm.initialVars != nil {
		vm.vars.values = *vm.initialVars
	}
	vm.vars.OnRead(VarRandomSeed, func(int16) int16 {
		return int16(vm.rng.Uint64())
	})
	vm.vars.OnWrite(VarRandomSeed, func(v int16) {
		vm.reseed(uint16(v))
	})

	vm.vars.Set(VarRandomSeed, int16(vm.seed))
	vm.vars.Set(0xbc, 0x10)
	vm.vars.Set(0xf2, 0xfa0)
	vm.vars.Set(0xdc, 0x21)

	for i := range vm.threads {
		vm.threads[i].reset()
	}
	t := &vm.threads[0]
	t.active, t.nextActive = true, true

	vm.log.Debug("VM created", "code", program.CodeID, "size", len(program.Code),
		"policy", vm.policy.String(), "budget", vm.budget)
	return vm
}

func (vm *VM) reseed(seed uint16) {
	vm.rng.Seed(uint64(seed), 0x6f6f7477)
}

// Frame returns the number of frames committed so far.
func (vm *VM) Frame() uint64 {
	return vm.frame
}

// Program returns the resources the VM runs.
func (vm *VM) Program() Program {
	return vm.program
}

// Variables gives direct access to the variable bank.
func (vm *VM) Variables() *VariableBank {
	return &vm.vars
}

// Thread returns the state of thread id.
func (vm *VM) Thread(id int) ThreadState {
	t := &vm.threads[id]
	s := ThreadState{
		ID:              id,
		Active:          t.active,
		Paused:          t.paused,
		PC:              vm.pcOf(t.pc),
		RequestedActive: t.nextActive,
		RequestedPaused: t.nextPaused,
		RequestedPC:     -1,
		CallDepth:       len(t.callStack),
	}
	if t.pcRequested {
		s.RequestedPC = t.nextPC
	}
	return s
}

// Threads returns the state of every thread.
func (vm *VM) Threads() []ThreadState {
	states := make([]ThreadState, NumThreads)
	for i := range states {
		states[i] = vm.Thread(i)
	}
	return states
}

// RequestedScene returns the scene index requested by LoadResource, or
// NoScene.
func (vm *VM) RequestedScene() int {
	return vm.requestedScene
}

// Pages returns the render, back and front page numbers.
func (vm *VM) Pages() (render, back, front int) {
	return vm.pages.render, vm.pages.back, vm.pages.front
}

// WaitFrames is the number of display frames the host should wait before
// the next frame, as set by the scripts in VarPauseSlices.
func (vm *VM) WaitFrames() int {
	return int(vm.vars.Peek(VarPauseSlices))
}

func (vm *VM) pcOf(offset int) PC {
	return PC{Resource: vm.program.CodeID, Offset: offset}
}
