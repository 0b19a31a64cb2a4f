// Package config loads cookiechain.yaml.
//
// The file is decoded with yaml.v3 and then unified with an embedded CUE
// schema that supplies defaults and rejects unknown keys, out-of-range
// numbers and malformed durations. An empty or missing file yields the
// defaults.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cookiechain/internal/engine"
	"github.com/roach88/cookiechain/internal/ledger"
)

//go:embed schema.cue
var schemaCUE string

// Config is the effective configuration.
type Config struct {
	Database string
	LogLevel string
	Ledger   Ledger
	Engine   Engine
}

// Ledger configures which contract is addressed and how the simulated
// ledger behaves.
type Ledger struct {
	ModuleAddress string
	Network       string
	Latency       time.Duration
	FailRate      float64
}

// Engine tunes the transaction pipeline.
type Engine struct {
	FinalityTimeout time.Duration
	RefreshInterval time.Duration
	CoalesceWindow  time.Duration
	MaxBurst        int
	MaxInFlight     int
	SubmitRate      float64
	RetainTerminal  int
}

// document mirrors the schema with durations as strings. CUE decodes it
// through json tags; YAML renders it back out.
type document struct {
	Database string `json:"database" yaml:"database"`
	LogLevel string `json:"log_level" yaml:"log_level"`
	Ledger   struct {
		ModuleAddress string  `json:"module_address" yaml:"module_address"`
		Network       string  `json:"network" yaml:"network"`
		Latency       string  `json:"latency" yaml:"latency"`
		FailRate      float64 `json:"fail_rate" yaml:"fail_rate"`
	} `json:"ledger" yaml:"ledger"`
	Engine struct {
		FinalityTimeout string  `json:"finality_timeout" yaml:"finality_timeout"`
		RefreshInterval string  `json:"refresh_interval" yaml:"refresh_interval"`
		CoalesceWindow  string  `json:"coalesce_window" yaml:"coalesce_window"`
		MaxBurst        int     `json:"max_burst" yaml:"max_burst"`
		MaxInFlight     int     `json:"max_in_flight" yaml:"max_in_flight"`
		SubmitRate      float64 `json:"submit_rate" yaml:"submit_rate"`
		RetainTerminal  int     `json:"retain_terminal" yaml:"retain_terminal"`
	} `json:"engine" yaml:"engine"`
}

// ValidationError reports a value the schema rejected.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("config: %s: %s", e.Path, e.Message)
	}
	return "config: " + e.Message
}

// IsValidationError reports whether err is a schema violation.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Default returns the configuration an empty file produces.
func Default() Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("config: built-in defaults invalid: %v", err))
	}
	return cfg
}

// Load reads path. A missing file is not an error when path is empty.
func Load(path string) (Config, error) {
	if path == "" {
		return Parse(nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML bytes.
func Parse(data []byte) (Config, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, formatCUEError(err)
	}

	var doc document
	if err := v.Decode(&doc); err != nil {
		return Config{}, formatCUEError(err)
	}
	return fromDocument(doc)
}

func fromDocument(doc document) (Config, error) {
	cfg := Config{
		Database: doc.Database,
		LogLevel: doc.LogLevel,
		Ledger: Ledger{
			ModuleAddress: ledger.NormalizeAddress(doc.Ledger.ModuleAddress),
			Network:       doc.Ledger.Network,
			FailRate:      doc.Ledger.FailRate,
		},
		Engine: Engine{
			MaxBurst:       doc.Engine.MaxBurst,
			MaxInFlight:    doc.Engine.MaxInFlight,
			SubmitRate:     doc.Engine.SubmitRate,
			RetainTerminal: doc.Engine.RetainTerminal,
		},
	}

	durations := []struct {
		path string
		in   string
		out  *time.Duration
	}{
		{"ledger.latency", doc.Ledger.Latency, &cfg.Ledger.Latency},
		{"engine.finality_timeout", doc.Engine.FinalityTimeout, &cfg.Engine.FinalityTimeout},
		{"engine.refresh_interval", doc.Engine.RefreshInterval, &cfg.Engine.RefreshInterval},
		{"engine.coalesce_window", doc.Engine.CoalesceWindow, &cfg.Engine.CoalesceWindow},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return Config{}, &ValidationError{Path: d.path, Message: err.Error()}
		}
		*d.out = v
	}
	return cfg, nil
}

// formatCUEError turns the first CUE error into a ValidationError with its
// field path.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	format, args := first.Msg()
	return &ValidationError{
		Path:    strings.Join(first.Path(), "."),
		Message: fmt.Sprintf(format, args...),
	}
}

// SessionConfig converts the engine section for engine.NewSession.
func (c Config) SessionConfig() engine.Config {
	return engine.Config{
		FinalityTimeout: c.Engine.FinalityTimeout,
		RefreshInterval: c.Engine.RefreshInterval,
		CoalesceWindow:  c.Engine.CoalesceWindow,
		MaxBurst:        c.Engine.MaxBurst,
		MaxInFlight:     c.Engine.MaxInFlight,
		SubmitRate:      c.Engine.SubmitRate,
		RetainTerminal:  c.Engine.RetainTerminal,
	}
}

// Contract returns the configured game contract.
func (c Config) Contract() ledger.Contract {
	return ledger.Contract{Address: c.Ledger.ModuleAddress, Module: ledger.ModuleName}
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) document() document {
	var doc document
	doc.Database = c.Database
	doc.LogLevel = c.LogLevel
	doc.Ledger.ModuleAddress = c.Ledger.ModuleAddress
	doc.Ledger.Network = c.Ledger.Network
	doc.Ledger.Latency = c.Ledger.Latency.String()
	doc.Ledger.FailRate = c.Ledger.FailRate
	doc.Engine.FinalityTimeout = c.Engine.FinalityTimeout.String()
	doc.Engine.RefreshInterval = c.Engine.RefreshInterval.String()
	doc.Engine.CoalesceWindow = c.Engine.CoalesceWindow.String()
	doc.Engine.MaxBurst = c.Engine.MaxBurst
	doc.Engine.MaxInFlight = c.Engine.MaxInFlight
	doc.Engine.SubmitRate = c.Engine.SubmitRate
	doc.Engine.RetainTerminal = c.Engine.RetainTerminal
	return doc
}

// YAML renders the effective configuration with durations as strings.
func (c Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.document())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// MarshalJSON uses the file layout, so durations are strings.
func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.document())
}
