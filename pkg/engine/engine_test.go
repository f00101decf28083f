package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"testing/fstest"
	"time"

	"github.com/zurustar/ootw/pkg/fileutil"
	"github.com/zurustar/ootw/pkg/resource"
	"github.com/zurustar/ootw/pkg/vm"
)

func be16(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }

func program(parts ...[]byte) []byte {
	var code []byte
	for _, p := range parts {
		code = append(code, p...)
	}
	return code
}

// sceneZero counts frames in var 0x11 and requests scene 1 at the third.
func sceneZero(next uint16) []byte {
	return program(
		[]byte{0x00, 0x10}, be16(42),                // 0: seti 0x10 42
		[]byte{0x03, 0x11}, be16(1),                 // 4: addi 0x11 1
		[]byte{0x0a, 0x40, 0x11}, be16(3), be16(19), // 8: if 0x11 == 3 jump 19
		[]byte{0x06},                                // 15: yield
		[]byte{0x07}, be16(4),                       // 16: jump 4
		[]byte{0x19}, be16(next),                    // 19: loadresource
		[]byte{0x11},                                // 22: kill
	)
}

var sceneOne = program(
	[]byte{0x0e, 0x01, 0x07},    // fill page 1 with color 7
	[]byte{0x03, 0x12}, be16(5), // addi 0x12 5
	[]byte{0x11},                // kill
)

func testFiles(next uint16) fstest.MapFS {
	b := resource.NewBankBuilder()
	b.Set(0x14, resource.TypePalette, 1, make([]byte, 64), false)
	b.Set(0x15, resource.TypeBytecode, 1, sceneZero(next), true)
	b.Set(0x16, resource.TypeCinematic, 1, []byte{0xc0, 0x00}, false)
	b.Set(0x17, resource.TypePalette, 1, make([]byte, 64), false)
	b.Set(0x18, resource.TypeBytecode, 1, sceneOne, false)
	b.Set(0x19, resource.TypeCinematic, 2, []byte{0xc0, 0x01}, false)

	fsys := fstest.MapFS{}
	for name, data := range b.Files() {
		fsys[name] = &fstest.MapFile{Data: data}
	}
	return fsys
}

func newTestEngine(t *testing.T, fsys fstest.MapFS, opts ...Option) (*Engine, *RecordingRenderer) {
	t.Helper()
	mgr, err := resource.NewManager(fileutil.NewFS(fsys, "test"))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	r := NewRecordingRenderer()
	opts = append([]Option{WithRenderer(r), WithMixer(NewRecordingMixer())}, opts...)
	return New(mgr, opts...), r
}

func TestTickBeforeStart(t *testing.T) {
	e, _ := newTestEngine(t, testFiles(resource.FirstSceneID+1))
	if _, err := e.Tick(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if _, err := e.Snapshot(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("expected ErrNotStarted from Snapshot, got %v", err)
	}
	if e.Scene() != vm.NoScene {
		t.Errorf("expected no scene, got %d", e.Scene())
	}
}

func TestStartUnknownScene(t *testing.T) {
	e, _ := newTestEngine(t, testFiles(resource.FirstSceneID+1))
	if err := e.Start(42); !errors.Is(err, resource.ErrUnknownScene) {
		t.Errorf("expected ErrUnknownScene, got %v", err)
	}
	if e.VM() != nil {
		t.Error("no VM should be created for an unknown scene")
	}
}

func TestSceneChange(t *testing.T) {
	e, r := newTestEngine(t, testFiles(resource.FirstSceneID+1))
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := e.Tick(ctx)
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		if res.SceneChanged || res.Scene != 0 {
			t.Fatalf("tick %d: unexpected scene change to %d", i, res.Scene)
		}
	}

	res, err := e.Tick(ctx)
	if err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if !res.SceneChanged || res.Scene != 1 {
		t.Fatalf("expected change to scene 1, got %+v", res)
	}
	if e.VM().Program().CodeID != 0x18 {
		t.Errorf("expected code 0x18, got 0x%02x", e.VM().Program().CodeID)
	}
	if got := e.VM().Frame(); got != 0 {
		t.Errorf("new scene should start at frame 0, got %d", got)
	}

	if _, err := e.Tick(ctx); err != nil {
		t.Fatalf("tick in scene 1: %v", err)
	}
	vars := e.VM().Variables()
	if vars.Peek(0x10) != 42 || vars.Peek(0x11) != 3 {
		t.Errorf("variables should carry over, got 0x10=%d 0x11=%d", vars.Peek(0x10), vars.Peek(0x11))
	}
	if vars.Peek(0x12) != 5 {
		t.Errorf("scene 1 did not run, 0x12=%d", vars.Peek(0x12))
	}
	if n := r.Count(vm.DrawFill); n != 1 {
		t.Errorf("expected 1 fill, got %d", n)
	}
	if got := e.VM().Thread(0); got.Active {
		t.Error("thread 0 of scene 1 should have finished")
	}
}

func TestSceneChangeEvictsPreviousScene(t *testing.T) {
	fsys := testFiles(resource.FirstSceneID + 1)
	mgr, err := resource.NewManager(fileutil.NewFS(fsys, "test"))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	e := New(mgr)
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := e.Run(context.Background(), 3); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := mgr.Loaded(), []int{0x17, 0x18, 0x19}; !reflect.DeepEqual(got, want) {
		t.Errorf("loaded resources: got %v, want %v", got, want)
	}
}

func TestSceneChangeToUnknownScene(t *testing.T) {
	e, _ := newTestEngine(t, testFiles(resource.FirstSceneID+20))
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, err := e.Run(context.Background(), 3)
	if !errors.Is(err, resource.ErrUnknownScene) {
		t.Fatalf("expected ErrUnknownScene, got %v", err)
	}
	if e.Scene() != 0 {
		t.Errorf("engine should stay on scene 0, got %d", e.Scene())
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	e, _ := newTestEngine(t, testFiles(resource.FirstSceneID+1))
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := e.Run(ctx, 10)
	if err != nil {
		t.Fatalf("a cancelled context is a normal stop, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 frames, got %d", n)
	}
}

func TestRunWithPacing(t *testing.T) {
	e, _ := newTestEngine(t, testFiles(resource.FirstSceneID+1), WithFrameDuration(time.Millisecond))
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	start := time.Now()
	n, err := e.Run(context.Background(), 2)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 frames, got %d", n)
	}
	if time.Since(start) < 2*time.Millisecond {
		t.Errorf("frames were not paced")
	}
}

func TestRunPacingTimeout(t *testing.T) {
	e, _ := newTestEngine(t, testFiles(resource.FirstSceneID+1), WithFrameDuration(time.Hour))
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	n, err := e.Run(ctx, 0)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 frame before the timeout, got %d", n)
	}
}

func TestDeterministicRuns(t *testing.T) {
	run := func() ([]vm.DrawRequest, [vm.NumVariables]int16) {
		input := NewScriptedInput(
			vm.InputState{Horizontal: vm.Right},
			vm.InputState{Button: true},
		)
		e, r := newTestEngine(t, testFiles(resource.FirstSceneID+1), WithInput(input), WithVMOptions(vm.WithSeed(7)))
		if err := e.Start(0); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if _, err := e.Run(context.Background(), 5); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return r.Draws(), e.VM().Variables().Values()
	}

	draws1, vars1 := run()
	draws2, vars2 := run()
	if !reflect.DeepEqual(draws1, draws2) {
		t.Errorf("draw traces differ:\n%v\n%v", draws1, draws2)
	}
	if vars1 != vars2 {
		t.Error("variables differ between identical runs")
	}
}

func TestSnapshotRestore(t *testing.T) {
	fsys := testFiles(resource.FirstSceneID + 1)
	ctx := context.Background()

	e, _ := newTestEngine(t, fsys)
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := e.Run(ctx, 1); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	s, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if s.Scene != 0 {
		t.Errorf("snapshot scene: got %d, want 0", s.Scene)
	}
	if want := []int{0x14, 0x15, 0x16}; !reflect.DeepEqual(s.Resources, want) {
		t.Errorf("snapshot resources: got %v, want %v", s.Resources, want)
	}

	data, err := vm.MarshalSnapshot(s)
	if err != nil {
		t.Fatalf("MarshalSnapshot failed: %v", err)
	}
	decoded, err := vm.UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("UnmarshalSnapshot failed: %v", err)
	}

	restored, _ := newTestEngine(t, fsys)
	if err := restored.Restore(decoded); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		want, err := e.Tick(ctx)
		if err != nil {
			t.Fatalf("original tick %d: %v", i, err)
		}
		got, err := restored.Tick(ctx)
		if err != nil {
			t.Fatalf("restored tick %d: %v", i, err)
		}
		if got.Frame != want.Frame || got.Scene != want.Scene || got.SceneChanged != want.SceneChanged {
			t.Errorf("tick %d: got %+v, want %+v", i, got, want)
		}
	}
	if e.VM().Variables().Values() != restored.VM().Variables().Values() {
		t.Error("variables diverged after restore")
	}
}

func TestRestoreUnknownSceneKeepsRunningScene(t *testing.T) {
	e, _ := newTestEngine(t, testFiles(resource.FirstSceneID+1))
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	before := e.VM()

	s.Scene = 12
	if err := e.Restore(s); !errors.Is(err, resource.ErrUnknownScene) {
		t.Fatalf("expected ErrUnknownScene, got %v", err)
	}
	if e.VM() != before || e.Scene() != 0 {
		t.Error("a failed restore replaced the running scene")
	}
}

func TestRestoreMismatchKeepsLoadedResources(t *testing.T) {
	e, _ := newTestEngine(t, testFiles(resource.FirstSceneID+1))
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := e.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	s, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	before := e.VM()

	// Scene 1 loads fine but runs other bytecode than the snapshot.
	s.Scene = 1
	if err := e.Restore(s); !errors.Is(err, vm.ErrSnapshotMismatch) {
		t.Fatalf("expected ErrSnapshotMismatch, got %v", err)
	}
	if e.VM() != before || e.Scene() != 0 {
		t.Fatal("a failed restore replaced the running scene")
	}
	after, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if want := []int{0x14, 0x15, 0x16}; !reflect.DeepEqual(after.Resources, want) {
		t.Errorf("resources after failed restore: got %v, want %v", after.Resources, want)
	}
	if _, err := e.Tick(context.Background()); err != nil {
		t.Errorf("scene 0 should keep running: %v", err)
	}
}

func TestFailedSceneChangeKeepsLoadedResources(t *testing.T) {
	fsys := testFiles(resource.FirstSceneID + 1)
	// 0x19 lives in bank02: scene 1 is indexed but cannot be read.
	delete(fsys, "bank02")
	e, _ := newTestEngine(t, fsys)
	if err := e.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := e.Run(context.Background(), 3); err == nil {
		t.Fatal("expected the scene change to fail")
	}
	if e.Scene() != 0 {
		t.Errorf("engine should stay on scene 0, got %d", e.Scene())
	}
	s, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if want := []int{0x14, 0x15, 0x16}; !reflect.DeepEqual(s.Resources, want) {
		t.Errorf("resources after failed scene change: got %v, want %v", s.Resources, want)
	}
}

func TestScriptedInput(t *testing.T) {
	in := NewScriptedInput(vm.InputState{Button: true}, vm.InputState{Vertical: vm.Up})
	if in.Remaining() != 2 {
		t.Fatalf("expected 2 remaining, got %d", in.Remaining())
	}
	if got := in.Poll(); !got.Button {
		t.Errorf("first poll: got %+v", got)
	}
	if got := in.Poll(); got.Vertical != vm.Up {
		t.Errorf("second poll: got %+v", got)
	}
	if got := in.Poll(); got != (vm.InputState{}) {
		t.Errorf("exhausted script should be neutral, got %+v", got)
	}
}

func TestRecordingMixer(t *testing.T) {
	m := NewRecordingMixer()
	m.Play(vm.AudioRequest{Kind: vm.AudioPlaySample, ResourceID: 0x5a, Channel: 1})
	m.Play(vm.AudioRequest{Kind: vm.AudioStopAll})
	if got := m.Requests(); len(got) != 2 || got[1].Kind != vm.AudioStopAll {
		t.Errorf("unexpected requests %+v", got)
	}
	m.Reset()
	if len(m.Requests()) != 0 {
		t.Error("Reset did not clear the requests")
	}
}
