package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcascade/cascade/internal/gate"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Gate.Threshold != gate.DefaultThreshold {
		t.Errorf("threshold = %v, want %v", cfg.Gate.Threshold, gate.DefaultThreshold)
	}
	if !cfg.Escalation.Enabled {
		t.Error("escalation disabled by default")
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("storage type = %q, want memory", cfg.Storage.Type)
	}
	if cfg.Experiment.MinSamples != 5 {
		t.Errorf("min_samples = %d, want 5", cfg.Experiment.MinSamples)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
gate:
  threshold: 0.85
providers:
  - name: cheap
    type: openai
    model: gpt-4o-mini
    api_key: sk-test
    cost: 1
  - name: strong
    type: anthropic
    model: claude-sonnet-4-20250514
    api_key: sk-ant-test
    cost: 10
    timeout: 45s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Gate.Threshold != 0.85 {
		t.Errorf("threshold = %v, want 0.85", cfg.Gate.Threshold)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.Providers))
	}
	d, err := cfg.Providers[1].TimeoutDuration(0)
	if err != nil || d.Seconds() != 45 {
		t.Errorf("strong timeout = %v (%v), want 45s", d, err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CASCADE_SERVER__PORT", "7070")
	t.Setenv("CASCADE_GATE__THRESHOLD", "0.5")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Gate.Threshold != 0.5 {
		t.Errorf("threshold = %v, want env override 0.5", cfg.Gate.Threshold)
	}
}

func TestAPIKeyEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_UPSTREAM_KEY", "sk-from-env")
	path := writeConfig(t, `
providers:
  - name: cheap
    type: openai
    api_key: ${TEST_UPSTREAM_KEY}
    cost: 1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers[0].APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want substituted value", cfg.Providers[0].APIKey)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "bad port",
			cfg:  Config{Server: ServerConfig{Port: -1}},
		},
		{
			name: "threshold out of range",
			cfg: Config{
				Server:  ServerConfig{Port: 8080},
				Gate:    GateConfig{Threshold: 1.5},
				Storage: StorageConfig{Type: "memory"},
			},
		},
		{
			name: "unknown storage",
			cfg: Config{
				Server:  ServerConfig{Port: 8080},
				Storage: StorageConfig{Type: "redis"},
			},
		},
		{
			name: "duplicate provider",
			cfg: Config{
				Server:  ServerConfig{Port: 8080},
				Storage: StorageConfig{Type: "memory"},
				Providers: []ProviderConfig{
					{Name: "a", Type: "openai"},
					{Name: "a", Type: "anthropic"},
				},
			},
		},
		{
			name: "unknown fallback provider",
			cfg: Config{
				Server:     ServerConfig{Port: 8080},
				Storage:    StorageConfig{Type: "memory"},
				Providers:  []ProviderConfig{{Name: "a", Type: "openai"}},
				Experiment: ExperimentConfig{FallbackProvider: "missing"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
