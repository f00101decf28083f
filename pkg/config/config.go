// Package config handles the ootw.toml engine configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/zurustar/ootw/pkg/engine"
	"github.com/zurustar/ootw/pkg/resource"
	"github.com/zurustar/ootw/pkg/vm"
)

// FileName is the name of the configuration file looked up in the data
// directory when no file is given on the command line.
const FileName = "ootw.toml"

// Config is the engine configuration.
type Config struct {
	Data   Data   `toml:"data"`
	Engine Engine `toml:"engine"`
	VM     VM     `toml:"vm"`
	Window Window `toml:"window"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-"`
}

// Data locates the game files.
type Data struct {
	Dir string `toml:"dir"`
}

// Engine configures scenes and frame pacing.
type Engine struct {
	StartScene int `toml:"start-scene"`
	// Frames limits headless runs, 0 means no limit.
	Frames        int      `toml:"frames"`
	FrameDuration Duration `toml:"frame-duration"`
	// Realtime paces headless runs like the window does.
	Realtime bool `toml:"realtime"`
	Workers  int  `toml:"preload-workers"`
}

// VM configures the interpreter.
type VM struct {
	FaultPolicy       string `toml:"fault-policy"`
	InstructionBudget int    `toml:"instruction-budget"`
	MaxCallDepth      int    `toml:"max-call-depth"`
	Seed              int    `toml:"seed"`
	RandomFrameTick   bool   `toml:"random-frame-tick"`
}

// Window configures the Ebitengine host.
type Window struct {
	Title      string `toml:"title"`
	Scale      int    `toml:"scale"`
	ShowStatus bool   `toml:"show-status"`
}

// Duration is a time.Duration written as a string ("20ms") in the file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Data: Data{Dir: "."},
		Engine: Engine{
			FrameDuration: Duration{engine.DefaultFrameDuration},
			Workers:       4,
		},
		VM: VM{
			FaultPolicy:  "abort",
			MaxCallDepth: vm.DefaultMaxCallDepth,
			Seed:         int(vm.DefaultSeed),
		},
		Window: Window{
			Title:      "ootw",
			Scale:      3,
			ShowStatus: true,
		},
	}
}

// Load reads a configuration file over the defaults. A missing file is an
// error matching fs.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes a configuration over the defaults. Unknown keys are
// rejected.
func Parse(data []byte, path string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	c.Path = path
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return c, nil
}

// Validate checks the ranges of the values.
func (c *Config) Validate() error {
	if c.Engine.StartScene < 0 || c.Engine.StartScene >= len(resource.Scenes) {
		return fmt.Errorf("start-scene %d: %w", c.Engine.StartScene, resource.ErrUnknownScene)
	}
	if c.Engine.Frames < 0 {
		return fmt.Errorf("frames must be non-negative, got %d", c.Engine.Frames)
	}
	if c.Engine.FrameDuration.Duration < 0 {
		return fmt.Errorf("frame-duration must be non-negative, got %v", c.Engine.FrameDuration)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("preload-workers must be at least 1, got %d", c.Engine.Workers)
	}
	if _, err := ParseFaultPolicy(c.VM.FaultPolicy); err != nil {
		return err
	}
	if c.VM.InstructionBudget < 0 {
		return fmt.Errorf("instruction-budget must be non-negative, got %d", c.VM.InstructionBudget)
	}
	if c.VM.MaxCallDepth < 1 {
		return fmt.Errorf("max-call-depth must be at least 1, got %d", c.VM.MaxCallDepth)
	}
	if c.VM.Seed < 0 || c.VM.Seed > 0xffff {
		return fmt.Errorf("seed must fit in 16 bits, got %d", c.VM.Seed)
	}
	if c.Window.Scale < 1 {
		return fmt.Errorf("scale must be at least 1, got %d", c.Window.Scale)
	}
	return nil
}

// ParseFaultPolicy converts the name of a fault policy.
func ParseFaultPolicy(name string) (vm.FaultPolicy, error) {
	switch strings.ToLower(name) {
	case "abort":
		return vm.FaultAbort, nil
	case "isolate":
		return vm.FaultIsolate, nil
	default:
		return vm.FaultAbort, fmt.Errorf("invalid fault policy: %s (must be abort or isolate)", name)
	}
}

// VMOptions returns the VM options of the configuration. It must be valid.
func (c *Config) VMOptions() []vm.Option {
	policy, _ := ParseFaultPolicy(c.VM.FaultPolicy)
	return []vm.Option{
		vm.WithFaultPolicy(policy),
		vm.WithInstructionBudget(c.VM.InstructionBudget),
		vm.WithMaxCallDepth(c.VM.MaxCallDepth),
		vm.WithSeed(uint16(c.VM.Seed)),
		vm.WithRandomFrameTick(c.VM.RandomFrameTick),
	}
}

// Encode writes the configuration as TOML.
func (c *Config) Encode() (string, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", err
	}
	return b.String(), nil
}
