package config

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/saurabh2727/property-finder/internal/domain"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if !reflect.DeepEqual(cfg, want) {
		t.Fatalf("cfg=%+v\nwant=%+v", cfg, want)
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte(`
server:
  address: ":9090"
sessions:
  backend: redis
  redis_addr: cache:6379
engines:
  order: [ml, rule]
  timeouts:
    ai: 30s
    ml: 2s
ai:
  provider: ollama
  model: llama3.2
`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.Sessions.Backend != "redis" || cfg.Sessions.RedisAddr != "cache:6379" {
		t.Fatalf("server/sessions=%+v %+v", cfg.Server, cfg.Sessions)
	}
	if cfg.Engines.Timeouts.AI != 30*time.Second || cfg.Engines.Timeouts.ML != 2*time.Second || cfg.Engines.Timeouts.Rule != 5*time.Second {
		t.Fatalf("timeouts=%+v", cfg.Engines.Timeouts)
	}
	order, _ := cfg.EngineOrder()
	if !reflect.DeepEqual(order, []domain.EngineTag{domain.EngineML, domain.EngineRule}) {
		t.Fatalf("order=%v", order)
	}
	if cfg.Sessions.Retain != 5 || cfg.AI.DigestLimit != 60 {
		t.Fatalf("unset keys lost their defaults: %+v %+v", cfg.Sessions, cfg.AI)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("sessions:\n  backend: redis\n"), 0o644)
	t.Setenv("SESSION_BACKEND", "memory")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("ENGINE_ORDER", "rule")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sessions.Backend != "memory" || cfg.AI.APIKey != "sk-env" {
		t.Fatalf("env not applied: %+v %+v", cfg.Sessions, cfg.AI)
	}
	if order, _ := cfg.EngineOrder(); len(order) != 1 || order[0] != domain.EngineRule {
		t.Fatalf("order=%v", order)
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"backend":  "sessions:\n  backend: mongo\n",
		"engine":   "engines:\n  order: [ai, oracle]\n",
		"provider": "ai:\n  provider: carrier-pigeon\n",
		"limit":    "server:\n  recommend_per_minute: -1\n",
		"yaml":     "server: [",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".yaml")
		os.WriteFile(path, []byte(body), 0o644)
		if _, err := Load(path); err == nil {
			t.Fatalf("%s: invalid config loaded", name)
		}
	}
}

func TestFileWatcher_ReportsWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	os.WriteFile(path, []byte(`{}`), 0o644)

	w, err := NewFileWatcher(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewFileWatcher: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan string, 10)
	go w.Run(ctx, func(p string) { changed <- p })

	os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0o644)
	os.WriteFile(path, []byte(`{"version":"2"}`), 0o644)

	select {
	case p := <-changed:
		if filepath.Base(p) != "model.json" {
			t.Fatalf("changed=%s", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change reported")
	}
}
