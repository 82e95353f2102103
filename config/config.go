// Package config handles tcvm.toml configuration for the collector tools.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"

	"github.com/chazu/tcvm/dmm"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "tcvm.toml"

//go:embed schema.cue
var schemaSource string

// Config represents a tcvm.toml file.
type Config struct {
	Pacing Pacing `toml:"pacing" json:"pacing"`
	Bench  Bench  `toml:"bench" json:"bench"`
	Log    Log    `toml:"log" json:"log"`
	Record Record `toml:"record" json:"record"`

	// Dir is the directory containing the tcvm.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Pacing mirrors dmm.Pacing.
type Pacing struct {
	PauseFactor    float64 `toml:"pause-factor" json:"pause-factor"`
	StepMultiplier float64 `toml:"step-multiplier" json:"step-multiplier"`
	MinSleep       uint64  `toml:"min-sleep" json:"min-sleep"`
	SweepFactor    float64 `toml:"sweep-factor" json:"sweep-factor"`
}

// Bench configures the synthetic workload driver.
type Bench struct {
	Steps      int     `toml:"steps" json:"steps"`
	Allocs     int     `toml:"allocs" json:"allocs"`
	Retain     float64 `toml:"retain" json:"retain"`
	Window     int     `toml:"window" json:"window"`
	Userdata   int     `toml:"userdata" json:"userdata"`
	Seed       uint64  `toml:"seed" json:"seed"`
	Collect    string  `toml:"collect" json:"collect"` // debt, step or all
	StepBudget float64 `toml:"step-budget" json:"step-budget"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Record configures metrics sampling.
type Record struct {
	Database string `toml:"database" json:"database"` // SQLite file; empty disables
	Every    int    `toml:"every" json:"every"`
	Dump     string `toml:"dump" json:"dump"` // CBOR file of the last sample
}

// Default returns the configuration used when no tcvm.toml exists.
func Default() *Config {
	p := dmm.DefaultPacing
	return &Config{
		Pacing: Pacing{
			PauseFactor:    p.PauseFactor,
			StepMultiplier: p.StepMultiplier,
			MinSleep:       p.MinSleep,
			SweepFactor:    p.SweepFactor,
		},
		Bench: Bench{
			Steps:      1000,
			Allocs:     64,
			Retain:     0.1,
			Window:     256,
			Userdata:   256,
			Seed:       1,
			Collect:    "debt",
			StepBudget: 4096,
		},
		Log:    Log{Verbosity: 1},
		Record: Record{Every: 1},
	}
}

// Load parses a tcvm.toml file from the given directory. Keys missing from
// the file keep their default values.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// Parse decodes and validates configuration text.
func Parse(data []byte) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a tcvm.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks the configuration against the embedded CUE schema.
func (c *Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	// Round-trip through JSON so CUE sees the same keys as the file.
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename(FileName))
	if err := value.Err(); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// PacingConfig converts the [pacing] section.
func (c *Config) PacingConfig() dmm.Pacing {
	return dmm.Pacing{
		PauseFactor:    c.Pacing.PauseFactor,
		StepMultiplier: c.Pacing.StepMultiplier,
		MinSleep:       c.Pacing.MinSleep,
		SweepFactor:    c.Pacing.SweepFactor,
	}
}

// Path resolves p against the configuration directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}
