// Package window hosts the engine in an Ebitengine window: keyboard input
// feeds the input variables, the engine ticks at the pace the scripts ask
// for and the page on screen is shown with a status line.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/zurustar/ootw/pkg/engine"
	"github.com/zurustar/ootw/pkg/logger"
	"github.com/zurustar/ootw/pkg/resource"
	"github.com/zurustar/ootw/pkg/vm"
)

// Config configures the window.
type Config struct {
	Title string
	// Scale multiplies the 320x200 screen for the initial window size.
	Scale int
	// FrameDuration is the length of one pause slice.
	FrameDuration time.Duration
	// ShowStatus draws the scene, frame and fault count over the screen.
	ShowStatus bool
}

// DefaultConfig returns the window configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Title:         "ootw",
		Scale:         3,
		FrameDuration: engine.DefaultFrameDuration,
		ShowStatus:    true,
	}
}

// KeyboardInput is the vm.InputProvider of the window. The game loop sets
// the state before every tick.
type KeyboardInput struct {
	mu    sync.Mutex
	state vm.InputState
}

func (k *KeyboardInput) Poll() vm.InputState {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.state
}

func (k *KeyboardInput) set(in vm.InputState) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.state = in
}

// keyState maps the keyboard to an input state. Arrow keys move, space is
// the action button and the last typed letter or digit is kept for the
// password screen.
func keyState(pressed func(ebiten.Key) bool, typed []rune) vm.InputState {
	var in vm.InputState
	switch {
	case pressed(ebiten.KeyArrowLeft):
		in.Horizontal = vm.Left
	case pressed(ebiten.KeyArrowRight):
		in.Horizontal = vm.Right
	}
	switch {
	case pressed(ebiten.KeyArrowUp):
		in.Vertical = vm.Up
	case pressed(ebiten.KeyArrowDown):
		in.Vertical = vm.Down
	}
	in.Button = pressed(ebiten.KeySpace) || pressed(ebiten.KeyEnter)

	for _, r := range typed {
		r = unicode.ToUpper(r)
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			in.LastChar = byte(r)
		}
	}
	if pressed(ebiten.KeyBackspace) {
		in.LastChar = 0x08
	}
	return in
}

// pacer decides when the next engine tick is due. Every update of the game
// loop advances it by one update period.
type pacer struct {
	wait time.Duration
}

// due advances the pacer by dt and reports whether a tick should run.
func (p *pacer) due(dt time.Duration) bool {
	p.wait -= dt
	return p.wait <= 0
}

// ticked schedules the next tick after slices pause slices of d.
func (p *pacer) ticked(slices int, d time.Duration) {
	p.wait += time.Duration(max(slices, 1)) * d
	if p.wait < 0 {
		p.wait = 0
	}
}

// Game implements ebiten.Game on top of an engine.
type Game struct {
	ctx   context.Context
	eng   *engine.Engine
	view  *View
	input *KeyboardInput
	cfg   Config

	pace    pacer
	paused  bool
	last    engine.TickResult
	faults  int
	screen  *ebiten.Image
	version uint64
	log     *slog.Logger
}

// NewGame creates the game. The engine must have been created with view as
// its renderer and input as its input provider.
func NewGame(ctx context.Context, eng *engine.Engine, view *View, input *KeyboardInput, cfg Config) *Game {
	return &Game{
		ctx:     ctx,
		eng:     eng,
		view:    view,
		input:   input,
		cfg:     cfg,
		version: ^uint64(0),
		log:     logger.GetLogger(),
	}
}

// Update runs on every Ebitengine tick. Escape quits, P pauses, N steps one
// frame while paused and F held skips the pacing.
func (g *Game) Update() error {
	if g.ctx.Err() != nil {
		g.log.Info("Window context done", "reason", g.ctx.Err())
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		g.paused = !g.paused
		g.log.Info("Pause toggled", "paused", g.paused)
	}

	g.input.set(keyState(ebiten.IsKeyPressed, ebiten.AppendInputChars(nil)))

	step := g.paused && inpututil.IsKeyJustPressed(ebiten.KeyN)
	fast := ebiten.IsKeyPressed(ebiten.KeyF)
	if g.paused && !step {
		return nil
	}
	if !step && !fast && !g.pace.due(time.Second/time.Duration(ebiten.TPS())) {
		return nil
	}
	return g.tick()
}

func (g *Game) tick() error {
	res, err := g.eng.Tick(g.ctx)
	if err != nil {
		if g.ctx.Err() != nil && errors.Is(err, g.ctx.Err()) {
			return ebiten.Termination
		}
		return err
	}
	g.last = res
	g.faults += len(res.Faults)
	g.pace.ticked(res.WaitFrames, g.cfg.FrameDuration)
	return nil
}

// Draw shows the front page and the status line.
func (g *Game) Draw(screen *ebiten.Image) {
	img, version := g.view.Frame()
	if g.screen == nil || version != g.version {
		if g.screen != nil {
			g.screen.Deallocate()
		}
		g.screen = ebiten.NewImageFromImage(img)
		g.version = version
	}
	screen.DrawImage(g.screen, nil)

	if g.cfg.ShowStatus {
		status := fmt.Sprintf("scene %d  frame %d  wait %d  faults %d", g.last.Scene, g.last.Frame, g.last.WaitFrames, g.faults)
		if g.paused {
			status += "  [paused]"
		}
		ebitenutil.DebugPrint(screen, status)
	}
}

// Layout keeps the original resolution; Ebitengine scales it to the window.
func (g *Game) Layout(outsideWidth, outsideHeight int) (int, int) {
	return resource.ScreenWidth, resource.ScreenHeight
}

// Run opens the window and runs the engine until Escape is pressed, the
// window is closed or ctx is done.
func Run(ctx context.Context, eng *engine.Engine, view *View, input *KeyboardInput, cfg Config) error {
	game := NewGame(ctx, eng, view, input, cfg)

	scale := max(cfg.Scale, 1)
	ebiten.SetWindowSize(resource.ScreenWidth*scale, resource.ScreenHeight*scale)
	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)

	if err := ebiten.RunGame(game); err != nil {
		return fmt.Errorf("failed to run game: %w", err)
	}
	return nil
}
