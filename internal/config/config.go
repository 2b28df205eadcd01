package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configuration files can use human readable
// strings such as "50ms" while still accepting nanosecond integers.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Empty strings and null values decode
// to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: line %d: expected a scalar", value.Line)
	}
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	if value.Tag == "!!null" {
		*d = 0
		return nil
	}
	return d.parse(value.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config captures everything needed to run the edit engine against a world.
type Config struct {
	Engine    EngineConfig    `json:"engine" yaml:"engine"`
	Pipeline  PipelineConfig  `json:"pipeline" yaml:"pipeline"`
	Monitor   MonitorConfig   `json:"monitor" yaml:"monitor"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	World     WorldConfig     `json:"world" yaml:"world"`
	Terrain   TerrainConfig   `json:"terrain" yaml:"terrain"`
	Materials MaterialsConfig `json:"materials" yaml:"materials"`
	Journal   JournalConfig   `json:"journal" yaml:"journal"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

type EngineConfig struct {
	TickRate  Duration `json:"tickRate" yaml:"tickRate"`   // e.g. "50ms"
	MaxVolume int      `json:"maxVolume" yaml:"maxVolume"` // largest volume estimate accepted
	// OperationsPerSecond limits how often one actor may submit edits; zero
	// disables the limit.
	OperationsPerSecond float64 `json:"operationsPerSecond" yaml:"operationsPerSecond"`
	OperationBurst      int     `json:"operationBurst" yaml:"operationBurst"`
}

type PipelineConfig struct {
	MinBatch         int `json:"minBatch" yaml:"minBatch"`
	MaxBatch         int `json:"maxBatch" yaml:"maxBatch"`
	InitialBatch     int `json:"initialBatch" yaml:"initialBatch"`
	ChunkSize        int `json:"chunkSize" yaml:"chunkSize"`
	Workers          int `json:"workers" yaml:"workers"` // 0 means one per CPU
	QueueCapacity    int `json:"queueCapacity" yaml:"queueCapacity"`
	AdjustEvery      int `json:"adjustEvery" yaml:"adjustEvery"`
	MaxDelayTicks    int `json:"maxDelayTicks" yaml:"maxDelayTicks"`
	EmptyPollConfirm int `json:"emptyPollConfirm" yaml:"emptyPollConfirm"`
	ProgressStep     int `json:"progressStep" yaml:"progressStep"` // percent
}

type MonitorConfig struct {
	Window    int     `json:"window" yaml:"window"`
	Excellent float64 `json:"excellent" yaml:"excellent"`
	Good      float64 `json:"good" yaml:"good"`
	Fair      float64 `json:"fair" yaml:"fair"`
	Poor      float64 `json:"poor" yaml:"poor"`
}

type HistoryConfig struct {
	Capacity int `json:"capacity" yaml:"capacity"`
}

type WorldConfig struct {
	ChunkWidth    int           `json:"chunkWidth" yaml:"chunkWidth"`
	ChunkLength   int           `json:"chunkLength" yaml:"chunkLength"`
	MinY          int           `json:"minY" yaml:"minY"`
	MaxY          int           `json:"maxY" yaml:"maxY"`
	ChunksPerAxis int           `json:"chunksPerAxis" yaml:"chunksPerAxis"`
	Origin        ChunkIndex    `json:"origin" yaml:"origin"`
	Storage       StorageConfig `json:"storage" yaml:"storage"`
}

// Height is the number of addressable layers.
func (w WorldConfig) Height() int { return w.MaxY - w.MinY + 1 }

type StorageConfig struct {
	Kind       string `json:"kind" yaml:"kind"` // "memory" or "disk"
	Path       string `json:"path" yaml:"path"`
	SyncWrites bool   `json:"syncWrites" yaml:"syncWrites"`
}

type ChunkIndex struct {
	X int `json:"x" yaml:"x"`
	Z int `json:"z" yaml:"z"`
}

type TerrainConfig struct {
	Seed        int64   `json:"seed" yaml:"seed"`
	Frequency   float64 `json:"frequency" yaml:"frequency"`
	Octaves     int     `json:"octaves" yaml:"octaves"`
	Persistence float64 `json:"persistence" yaml:"persistence"`
	Lacunarity  float64 `json:"lacunarity" yaml:"lacunarity"`
	SurfaceY    int     `json:"surfaceY" yaml:"surfaceY"`
	Amplitude   float64 `json:"amplitude" yaml:"amplitude"`
	Workers     int     `json:"workers" yaml:"workers"`
}

// MaterialsConfig extends the built-in material classification.
type MaterialsConfig struct {
	Structural []string `json:"structural,omitempty" yaml:"structural,omitempty"`
	Inert      []string `json:"inert,omitempty" yaml:"inert,omitempty"`
	Gravity    []string `json:"gravity,omitempty" yaml:"gravity,omitempty"`
	Fluid      []string `json:"fluid,omitempty" yaml:"fluid,omitempty"`
	Redstone   []string `json:"redstone,omitempty" yaml:"redstone,omitempty"`
	Mechanism  []string `json:"mechanism,omitempty" yaml:"mechanism,omitempty"`
}

type JournalConfig struct {
	Path string `json:"path" yaml:"path"` // empty disables the journal
}

type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// Load reads configuration from a JSON or YAML file, chosen by extension. An
// empty path returns defaults. Fields missing from the file keep their
// default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			TickRate:            Duration(50 * time.Millisecond),
			MaxVolume:           4_000_000,
			OperationsPerSecond: 2,
			OperationBurst:      4,
		},
		Pipeline: PipelineConfig{
			MinBatch:         100,
			MaxBatch:         10_000,
			InitialBatch:     1_000,
			ChunkSize:        1_000,
			Workers:          0,
			QueueCapacity:    8,
			AdjustEvery:      5,
			MaxDelayTicks:    10,
			EmptyPollConfirm: 3,
			ProgressStep:     10,
		},
		Monitor: MonitorConfig{
			Window:    100,
			Excellent: 0.95,
			Good:      0.85,
			Fair:      0.7,
			Poor:      0.5,
		},
		History: HistoryConfig{
			Capacity: 25,
		},
		World: WorldConfig{
			ChunkWidth:    16,
			ChunkLength:   16,
			MinY:          0,
			MaxY:          255,
			ChunksPerAxis: 32,
			Origin:        ChunkIndex{X: -16, Z: -16},
			Storage: StorageConfig{
				Kind: "memory",
			},
		},
		Terrain: TerrainConfig{
			Seed:        1337,
			Frequency:   0.01,
			Octaves:     4,
			Persistence: 0.5,
			Lacunarity:  2.0,
			SurfaceY:    64,
			Amplitude:   12,
			Workers:     4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) Validate() error {
	if c.Engine.TickRate <= 0 {
		return errors.New("engine.tickRate must be positive")
	}
	if c.Engine.MaxVolume <= 0 {
		return errors.New("engine.maxVolume must be positive")
	}
	if c.Engine.OperationsPerSecond < 0 {
		return errors.New("engine.operationsPerSecond cannot be negative")
	}
	if c.Engine.OperationsPerSecond > 0 && c.Engine.OperationBurst <= 0 {
		return errors.New("engine.operationBurst must be positive when rate limiting")
	}
	p := c.Pipeline
	if p.MinBatch <= 0 {
		return errors.New("pipeline.minBatch must be positive")
	}
	if p.MaxBatch < p.MinBatch {
		return errors.New("pipeline.maxBatch must be >= minBatch")
	}
	if p.InitialBatch < p.MinBatch || p.InitialBatch > p.MaxBatch {
		return errors.New("pipeline.initialBatch must lie within [minBatch, maxBatch]")
	}
	if p.ChunkSize <= 0 {
		return errors.New("pipeline.chunkSize must be positive")
	}
	if p.Workers < 0 {
		return errors.New("pipeline.workers cannot be negative")
	}
	if p.QueueCapacity <= 0 {
		return errors.New("pipeline.queueCapacity must be positive")
	}
	if p.AdjustEvery <= 0 || p.MaxDelayTicks <= 0 || p.EmptyPollConfirm <= 0 {
		return errors.New("pipeline.adjustEvery, maxDelayTicks and emptyPollConfirm must be positive")
	}
	if p.ProgressStep < 0 || p.ProgressStep > 100 {
		return errors.New("pipeline.progressStep must lie within [0, 100]")
	}
	m := c.Monitor
	if m.Window <= 0 {
		return errors.New("monitor.window must be positive")
	}
	if !(m.Excellent > m.Good && m.Good > m.Fair && m.Fair > m.Poor && m.Poor > 0 && m.Excellent <= 1) {
		return errors.New("monitor thresholds must satisfy 1 >= excellent > good > fair > poor > 0")
	}
	if c.History.Capacity <= 0 {
		return errors.New("history.capacity must be positive")
	}
	w := c.World
	if w.ChunkWidth <= 0 || w.ChunkLength <= 0 {
		return errors.New("world chunk dimensions must be positive")
	}
	if w.MaxY < w.MinY {
		return errors.New("world.maxY must be >= minY")
	}
	if w.ChunksPerAxis < 0 {
		return errors.New("world.chunksPerAxis cannot be negative")
	}
	switch w.Storage.Kind {
	case "", "memory":
	case "disk":
		if w.Storage.Path == "" {
			return errors.New("world.storage.path must be set for disk storage")
		}
	default:
		return fmt.Errorf("world.storage.kind %q is not supported", w.Storage.Kind)
	}
	if c.Terrain.Workers < 0 {
		return errors.New("terrain.workers cannot be negative")
	}
	if c.Terrain.SurfaceY < w.MinY || c.Terrain.SurfaceY > w.MaxY {
		return errors.New("terrain.surfaceY must lie within the world height")
	}
	return nil
}
