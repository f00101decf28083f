// Package engine runs the game: it loads scenes through the resource
// manager, drives the VM one frame per tick and switches to the scene a
// script requests at the following frame boundary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zurustar/ootw/pkg/logger"
	"github.com/zurustar/ootw/pkg/resource"
	"github.com/zurustar/ootw/pkg/vm"
)

// ErrNotStarted is returned by operations that need a running scene.
var ErrNotStarted = errors.New("engine not started")

// DefaultFrameDuration is the length of one pause slice of var 0xff.
const DefaultFrameDuration = 20 * time.Millisecond

// TickResult describes one frame run by the engine.
type TickResult struct {
	Frame        uint64
	Instructions int
	// Scene is the scene running after the tick.
	Scene        int
	SceneChanged bool
	// WaitFrames is the pause requested by the scripts, in slices.
	WaitFrames int
	Faults     []*vm.RuntimeError
}

// Engine owns the resources, the VM of the current scene and its
// collaborators.
type Engine struct {
	mu        sync.Mutex
	resources *resource.Manager
	machine   *vm.VM
	scene     int

	renderer vm.Renderer
	mixer    vm.Mixer
	input    vm.InputProvider
	strings  vm.StringTable
	vmOpts   []vm.Option

	frameDuration time.Duration
	log           *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger of the engine and of the VMs it creates.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

func WithRenderer(r vm.Renderer) Option {
	return func(e *Engine) {
		e.renderer = r
	}
}

func WithMixer(m vm.Mixer) Option {
	return func(e *Engine) {
		e.mixer = m
	}
}

func WithInput(in vm.InputProvider) Option {
	return func(e *Engine) {
		e.input = in
	}
}

func WithStrings(t vm.StringTable) Option {
	return func(e *Engine) {
		e.strings = t
	}
}

// WithVMOptions adds options applied to the VM of every scene.
func WithVMOptions(opts ...vm.Option) Option {
	return func(e *Engine) {
		e.vmOpts = append(e.vmOpts, opts...)
	}
}

// WithFrameDuration enables real-time pacing in Run: after every frame the
// engine waits WaitFrames times d. Zero runs frames back to back.
func WithFrameDuration(d time.Duration) Option {
	return func(e *Engine) {
		e.frameDuration = d
	}
}

// New creates an engine on top of a resource manager. Start must be called
// before the first Tick.
func New(resources *resource.Manager, opts ...Option) *Engine {
	e := &Engine{
		resources: resources,
		scene:     vm.NoScene,
		log:       logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start loads scene index and creates its VM. Variables of the previous
// scene carry over.
func (e *Engine) Start(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.start(index)
}

func (e *Engine) start(index int) error {
	loaded := e.resources.Loaded()
	machine, err := e.newVM(index, true)
	if err != nil {
		e.reload(loaded)
		return err
	}
	e.machine = machine
	e.scene = index
	e.log.Info("Scene started", "scene", index, "frame", machine.Frame())
	return nil
}

func (e *Engine) newVM(index int, carry bool) (*vm.VM, error) {
	s, err := resource.SceneByIndex(index)
	if err != nil {
		return nil, err
	}
	seg, err := e.resources.LoadScene(s)
	if err != nil {
		return nil, err
	}

	program := vm.Program{
		CodeID:      s.Code,
		Code:        seg.Code,
		PaletteID:   s.Palette,
		Palette:     seg.Palette,
		CinematicID: s.Cinematic,
		Cinematic:   seg.Cinematic,
		Video2ID:    s.Video2,
		Video2:      seg.Video2,
	}

	opts := []vm.Option{vm.WithLogger(e.log), vm.WithResources(e.resources)}
	if e.renderer != nil {
		opts = append(opts, vm.WithRenderer(e.renderer))
	}
	if e.mixer != nil {
		opts = append(opts, vm.WithMixer(e.mixer))
	}
	if e.input != nil {
		opts = append(opts, vm.WithInput(e.input))
	}
	if e.strings != nil {
		opts = append(opts, vm.WithStrings(e.strings))
	}
	opts = append(opts, e.vmOpts...)
	if carry && e.machine != nil {
		opts = append(opts, vm.WithVariables(e.machine.Variables().Values()))
	}
	return vm.New(program, opts...), nil
}

// reload puts the manager back to the resources the running scene had
// required before a failed scene load.
func (e *Engine) reload(ids []int) {
	e.resources.Evict()
	if err := e.resources.Require(ids...); err != nil {
		e.log.Warn("Failed to reload the running scene", "error", err)
	}
}

// Scene returns the index of the running scene, or vm.NoScene.
func (e *Engine) Scene() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scene
}

// VM returns the VM of the running scene, nil before Start.
func (e *Engine) VM() *vm.VM {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine
}

// Tick runs one frame. A scene change requested during the frame is applied
// before Tick returns, so the next Tick runs the new scene.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machine == nil {
		return TickResult{}, ErrNotStarted
	}
	res, err := e.machine.RunFrame(ctx)
	out := TickResult{
		Frame:        res.Frame,
		Instructions: res.Instructions,
		Scene:        e.scene,
		WaitFrames:   e.machine.WaitFrames(),
		Faults:       res.Faults,
	}
	if err != nil {
		return out, err
	}

	if res.SceneRequest != vm.NoScene {
		if err := e.start(res.SceneRequest); err != nil {
			return out, fmt.Errorf("scene change at frame %d: %w", res.Frame, err)
		}
		out.Scene = e.scene
		out.SceneChanged = true
	}
	return out, nil
}

// Run ticks until frames frames have run (0 means no limit) or the context
// is done. The end of the context is a normal stop. It returns the number of
// frames run.
func (e *Engine) Run(ctx context.Context, frames int) (int, error) {
	n := 0
	for frames == 0 || n < frames {
		if ctx.Err() != nil {
			break
		}
		res, err := e.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				break
			}
			return n, err
		}
		n++
		if res.SceneChanged {
			e.log.Info("Scene changed", "frame", res.Frame, "scene", res.Scene)
		}
		if err := e.pace(ctx, res.WaitFrames); err != nil {
			break
		}
	}
	e.log.Info("Engine stopped", "frames", n, "scene", e.Scene())
	return n, nil
}

func (e *Engine) pace(ctx context.Context, slices int) error {
	if e.frameDuration <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(max(slices, 1)) * e.frameDuration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Snapshot captures the running scene between two ticks.
func (e *Engine) Snapshot() (*vm.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.machine == nil {
		return nil, ErrNotStarted
	}
	s := e.machine.Snapshot()
	s.Scene = e.scene
	s.Resources = e.resources.Loaded()
	return s, nil
}

// Restore reloads the scene of s with the resources it had loaded and
// continues from its state. The running scene is kept when s cannot be
// restored.
func (e *Engine) Restore(s *vm.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := resource.SceneByIndex(s.Scene); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	loaded := e.resources.Loaded()
	machine, err := e.restore(s)
	if err != nil {
		e.reload(loaded)
		return fmt.Errorf("restore: %w", err)
	}
	e.machine = machine
	e.scene = s.Scene
	e.log.Info("Snapshot restored", "scene", s.Scene, "frame", s.Frame)
	return nil
}

func (e *Engine) restore(s *vm.Snapshot) (*vm.VM, error) {
	machine, err := e.newVM(s.Scene, false)
	if err != nil {
		return nil, err
	}
	for _, id := range s.Resources {
		if _, err := e.resources.Load(id); err != nil {
			return nil, err
		}
	}
	if err := machine.Restore(s); err != nil {
		return nil, err
	}
	return machine, nil
}
