package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zurustar/ootw/pkg/cli"
	"github.com/zurustar/ootw/pkg/config"
	"github.com/zurustar/ootw/pkg/engine"
	"github.com/zurustar/ootw/pkg/fileutil"
	"github.com/zurustar/ootw/pkg/logger"
	"github.com/zurustar/ootw/pkg/resource"
	"github.com/zurustar/ootw/pkg/text"
	"github.com/zurustar/ootw/pkg/vm"
	"github.com/zurustar/ootw/pkg/window"
)

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	args   *cli.Config
	config *config.Config
	log    *slog.Logger
	stdout io.Writer
	stderr io.Writer

	resources *resource.Manager
	strings   text.Table
}

// Option Applicationの設定
type Option func(*Application)

// WithOutput 標準出力と標準エラーの代わりに使う出力先を指定
func WithOutput(stdout, stderr io.Writer) Option {
	return func(app *Application) {
		app.stdout = stdout
		app.stderr = stderr
	}
}

// New Applicationを作成
func New(opts ...Option) *Application {
	app := &Application{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Run アプリケーションを実行
func (app *Application) Run(args []string) error {
	// 1. コマンドライン引数の解析
	parsed, err := cli.ParseArgs(args)
	if err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}
	app.args = parsed

	if app.args.ShowHelp {
		cli.PrintHelp(app.stdout)
		return nil
	}

	// 2. ロガーの初期化
	if err := logger.InitLoggerTo(app.stderr, app.args.LogLevel); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.log = logger.GetLogger()

	// 3. 設定ファイルの読み込み（コマンドライン引数が優先）
	if err := app.loadConfig(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.log.Info("Application started", "data", app.config.Data.Dir, "config", app.config.Path)

	// 4. リソースインデックスの読み込み
	fsys := fileutil.NewRealFS(app.config.Data.Dir)
	app.resources, err = resource.NewManager(fsys, resource.WithLogger(app.log))
	if err != nil {
		return fmt.Errorf("failed to load resources: %w", err)
	}
	app.log.Info("Resource index loaded", "entries", app.resources.Len())

	ctx := context.Background()
	if app.args.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.args.Timeout)
		defer cancel()
	}

	// 5. ツールモード
	if app.args.ListResources {
		fmt.Fprint(app.stdout, app.resources.FormatIndex())
		app.resources.LogStats()
		return nil
	}
	if app.args.DumpDir != "" {
		if err := app.resources.Dump(ctx, app.args.DumpDir, app.config.Engine.Workers); err != nil {
			return fmt.Errorf("failed to dump resources: %w", err)
		}
		app.log.Info("Resources dumped", "dir", app.args.DumpDir)
		return nil
	}

	// 6. 文字列テーブルの読み込み（無くても実行は続ける）
	app.strings, err = text.Load(fsys)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load strings: %w", err)
		}
		app.log.Warn("String table not found, text will not be drawn", "file", text.FileName)
	}

	// 7. 実行
	if app.args.Headless {
		return app.runHeadless(ctx)
	}
	return app.runWindow(ctx)
}

// loadConfig 設定ファイルを読み込み、コマンドライン引数で上書きする
func (app *Application) loadConfig() error {
	var c *config.Config
	switch {
	case app.args.ConfigPath != "":
		loaded, err := config.Load(app.args.ConfigPath)
		if err != nil {
			return err
		}
		c = loaded
	default:
		dir := app.args.DataDir
		if dir == "" {
			dir = "."
		}
		loaded, err := config.Load(filepath.Join(dir, config.FileName))
		switch {
		case err == nil:
			c = loaded
		case errors.Is(err, fs.ErrNotExist):
			c = config.Default()
		default:
			return err
		}
	}

	if app.args.IsSet("data") {
		c.Data.Dir = app.args.DataDir
	}
	if app.args.IsSet("scene") {
		c.Engine.StartScene = app.args.Scene
	}
	if app.args.IsSet("frames") {
		c.Engine.Frames = app.args.Frames
	}
	if app.args.IsSet("realtime") {
		c.Engine.Realtime = app.args.Realtime
	}
	if app.args.IsSet("fault-policy") {
		c.VM.FaultPolicy = app.args.FaultPolicy
	}
	if app.args.IsSet("budget") {
		c.VM.InstructionBudget = app.args.Budget
	}
	if app.args.IsSet("seed") {
		c.VM.Seed = app.args.Seed
	}
	if err := c.Validate(); err != nil {
		return err
	}
	app.config = c
	return nil
}

// newEngine エンジンを作成し、開始シーンまたはスナップショットから開始する
func (app *Application) newEngine(opts ...engine.Option) (*engine.Engine, error) {
	opts = append(opts,
		engine.WithLogger(app.log),
		engine.WithStrings(app.strings),
		engine.WithVMOptions(app.config.VMOptions()...),
	)
	eng := engine.New(app.resources, opts...)

	if app.args.RestorePath != "" {
		data, err := os.ReadFile(app.args.RestorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot: %w", err)
		}
		s, err := vm.UnmarshalSnapshot(data)
		if err != nil {
			return nil, err
		}
		if err := eng.Restore(s); err != nil {
			return nil, err
		}
		return eng, nil
	}

	if err := eng.Start(app.config.Engine.StartScene); err != nil {
		return nil, fmt.Errorf("failed to start scene %d: %w", app.config.Engine.StartScene, err)
	}
	return eng, nil
}

// runHeadless ウィンドウを開かずに指定フレーム数だけ実行する
func (app *Application) runHeadless(ctx context.Context) error {
	app.log.Info("Headless mode", "frames", app.config.Engine.Frames, "realtime", app.config.Engine.Realtime)

	renderer := engine.NewRecordingRenderer()
	mixer := engine.NewRecordingMixer()
	opts := []engine.Option{
		engine.WithRenderer(renderer),
		engine.WithMixer(mixer),
		engine.WithInput(engine.NewScriptedInput()),
	}
	if app.config.Engine.Realtime {
		opts = append(opts, engine.WithFrameDuration(app.config.Engine.FrameDuration.Duration))
	}

	eng, err := app.newEngine(opts...)
	if err != nil {
		return err
	}

	n, runErr := eng.Run(ctx, app.config.Engine.Frames)
	app.log.Info("Headless run finished", "frames", n, "scene", eng.Scene(),
		"draws", len(renderer.Draws()), "audio", len(mixer.Requests()))

	if err := app.writeSnapshot(eng); err != nil {
		return err
	}
	return runErr
}

// runWindow ウィンドウで実行する
func (app *Application) runWindow(ctx context.Context) error {
	app.log.Info("Starting window")

	view := window.NewView()
	input := &window.KeyboardInput{}
	eng, err := app.newEngine(engine.WithRenderer(view), engine.WithInput(input))
	if err != nil {
		return err
	}

	wcfg := window.Config{
		Title:         app.config.Window.Title,
		Scale:         app.config.Window.Scale,
		FrameDuration: app.config.Engine.FrameDuration.Duration,
		ShowStatus:    app.config.Window.ShowStatus,
	}
	runErr := window.Run(ctx, eng, view, input, wcfg)
	if err := app.writeSnapshot(eng); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	app.log.Info("Application terminated normally")
	return nil
}

// writeSnapshot 終了時のスナップショットを書き出す（指定がある場合）
func (app *Application) writeSnapshot(eng *engine.Engine) error {
	if app.args.SnapshotPath == "" {
		return nil
	}
	s, err := eng.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to take snapshot: %w", err)
	}
	data, err := vm.MarshalSnapshot(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(app.args.SnapshotPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	app.log.Info("Snapshot written", "path", app.args.SnapshotPath, "frame", s.Frame, "scene", s.Scene)
	return nil
}
