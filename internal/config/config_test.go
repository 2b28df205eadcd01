package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestValidateDetectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "non positive tick rate",
			mutate:  func(cfg *Config) { cfg.Engine.TickRate = 0 },
			wantErr: "engine.tickRate must be positive",
		},
		{
			name:    "non positive max volume",
			mutate:  func(cfg *Config) { cfg.Engine.MaxVolume = 0 },
			wantErr: "engine.maxVolume must be positive",
		},
		{
			name:    "rate limit without burst",
			mutate:  func(cfg *Config) { cfg.Engine.OperationBurst = 0 },
			wantErr: "engine.operationBurst must be positive when rate limiting",
		},
		{
			name:    "inverted batch bounds",
			mutate:  func(cfg *Config) { cfg.Pipeline.MaxBatch = 10 },
			wantErr: "pipeline.maxBatch must be >= minBatch",
		},
		{
			name:    "initial batch outside bounds",
			mutate:  func(cfg *Config) { cfg.Pipeline.InitialBatch = 50_000 },
			wantErr: "pipeline.initialBatch must lie within [minBatch, maxBatch]",
		},
		{
			name:    "negative workers",
			mutate:  func(cfg *Config) { cfg.Pipeline.Workers = -1 },
			wantErr: "pipeline.workers cannot be negative",
		},
		{
			name:    "unordered thresholds",
			mutate:  func(cfg *Config) { cfg.Monitor.Good = 0.99 },
			wantErr: "monitor thresholds must satisfy 1 >= excellent > good > fair > poor > 0",
		},
		{
			name:    "zero history",
			mutate:  func(cfg *Config) { cfg.History.Capacity = 0 },
			wantErr: "history.capacity must be positive",
		},
		{
			name:    "inverted height",
			mutate:  func(cfg *Config) { cfg.World.MaxY = -1 },
			wantErr: "world.maxY must be >= minY",
		},
		{
			name:    "disk storage without path",
			mutate:  func(cfg *Config) { cfg.World.Storage.Kind = "disk" },
			wantErr: "world.storage.path must be set for disk storage",
		},
		{
			name:    "unknown storage",
			mutate:  func(cfg *Config) { cfg.World.Storage.Kind = "s3" },
			wantErr: `world.storage.kind "s3" is not supported`,
		},
		{
			name:    "negative terrain workers",
			mutate:  func(cfg *Config) { cfg.Terrain.Workers = -1 },
			wantErr: "terrain.workers cannot be negative",
		},
		{
			name:    "surface above the world",
			mutate:  func(cfg *Config) { cfg.Terrain.SurfaceY = 1000 },
			wantErr: "terrain.surfaceY must lie within the world height",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("unexpected error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if want := Default(); !reflect.DeepEqual(cfg, want) {
		t.Fatalf("default configuration mismatch:\nwant: %#v\n got: %#v", want, cfg)
	}
}

func TestLoadReadsJSONAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Engine.MaxVolume = 1000
	cfg.World.Storage = StorageConfig{Kind: "disk", Path: "/tmp/world", SyncWrites: true}
	cfg.Materials.Gravity = []string{"snow_layer"}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("loaded configuration mismatch:\nwant: %#v\n got: %#v", cfg, got)
	}
}

func TestLoadReadsPartialYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
engine:
  tickRate: 25ms
  maxVolume: 500000
pipeline:
  workers: 2
world:
  storage:
    kind: disk
    path: /var/lib/voxedit
materials:
  fluid: [honey]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if got.Engine.TickRate.Duration() != 25*time.Millisecond {
		t.Fatalf("tick rate: got %v", got.Engine.TickRate)
	}
	if got.Engine.MaxVolume != 500000 || got.Pipeline.Workers != 2 {
		t.Fatalf("overrides not applied: %+v %+v", got.Engine, got.Pipeline)
	}
	if got.Pipeline.MaxBatch != Default().Pipeline.MaxBatch {
		t.Fatalf("missing fields should keep defaults, got maxBatch=%d", got.Pipeline.MaxBatch)
	}
	if got.World.Storage.Path != "/var/lib/voxedit" || len(got.Materials.Fluid) != 1 {
		t.Fatalf("nested sections not decoded: %+v %+v", got.World.Storage, got.Materials)
	}
}

func TestLoadInvalidConfiguration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.World.ChunkWidth = 0

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err = Load(path)
	if err == nil {
		t.Fatalf("expected load to fail")
	}
	if !strings.Contains(err.Error(), "validate config: world chunk dimensions must be positive") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDurationDecoding(t *testing.T) {
	var holder struct {
		D Duration `json:"d" yaml:"d"`
	}
	cases := []struct {
		name   string
		decode func() error
		want   time.Duration
	}{
		{"json string", func() error { return json.Unmarshal([]byte(`{"d":"150ms"}`), &holder) }, 150 * time.Millisecond},
		{"json nanos", func() error { return json.Unmarshal([]byte(`{"d":2000}`), &holder) }, 2 * time.Microsecond},
		{"json null", func() error { return json.Unmarshal([]byte(`{"d":null}`), &holder) }, 0},
		{"yaml string", func() error { return yaml.Unmarshal([]byte("d: 2s\n"), &holder) }, 2 * time.Second},
		{"yaml nanos", func() error { return yaml.Unmarshal([]byte("d: 5000\n"), &holder) }, 5 * time.Microsecond},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			holder.D = Duration(time.Hour)
			if err := tc.decode(); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if holder.D.Duration() != tc.want {
				t.Fatalf("got %v want %v", holder.D.Duration(), tc.want)
			}
		})
	}

	if err := json.Unmarshal([]byte(`{"d":"soon"}`), &holder); err == nil {
		t.Fatal("expected an error for an unparsable duration")
	}
	if err := yaml.Unmarshal([]byte("d: [1]\n"), &holder); err == nil {
		t.Fatal("expected an error for a non scalar duration")
	}
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(Default())
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	if !strings.Contains(string(out), "tickRate: 50ms") {
		t.Fatalf("expected human readable tick rate in:\n%s", out)
	}
	var back Config
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("unmarshal yaml: %v", err)
	}
	if !reflect.DeepEqual(&back, Default()) {
		t.Fatalf("yaml round trip mismatch:\nwant: %#v\n got: %#v", Default(), &back)
	}
}
