package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/artpar/facet/config"
	"github.com/rs/zerolog"
)

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if len(got.Resources) != 1 || got.Resources[0].Name != "item" {
		t.Errorf("Resources = %+v", got.Resources)
	}
	if !filepath.IsAbs(h.Path()) {
		t.Errorf("Path() = %s, want absolute", h.Path())
	}
}

func TestHolder_ReloadPolicies(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var (
		mu       sync.Mutex
		received *config.Config
		results  []error
	)
	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		received = cfg
		mu.Unlock()
	})
	h.OnReload(func(err error) {
		mu.Lock()
		results = append(results, err)
		mu.Unlock()
	})

	if err := os.WriteFile(path, []byte(validConfig()+`
access:
  enabled: true
  policies:
    - role: admin
      allow: ["facet:*"]
`), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received == nil || len(received.Access.Policies) != 1 {
		t.Errorf("OnChange received %+v", received)
	}
	if len(results) != 1 || results[0] != nil {
		t.Errorf("OnReload results = %v", results)
	}
}

func TestHolder_ReloadInvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var failed error
	h.OnReload(func(err error) { failed = err })

	invalid := `
server:
  router: gin
`
	if err := os.WriteFile(path, []byte(invalid), 0644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Error("Reload should fail for invalid config")
	}
	if failed == nil {
		t.Error("OnReload not told about the failure")
	}

	cfg := h.Get()
	if cfg.Server.Router != config.RouterChi || len(cfg.Resources) != 1 {
		t.Errorf("should keep old config, got %+v", cfg.Server)
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := make(chan *config.Config, 4)
	h.OnChange(func(cfg *config.Config) {
		select {
		case changed <- cfg:
		default:
		}
	})

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	if err := os.WriteFile(path, []byte(validConfig()+"\nlogging:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("file watcher did not trigger reload")
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Get().Logging.Level != "debug" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.Get().Logging.Level != "debug" {
		t.Errorf("after file watch, Logging.Level = %s, want debug", h.Get().Logging.Level)
	}
}

func TestHolder_StopTwice(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	h.Stop()
	h.Stop()
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if h.Get() == nil {
					t.Error("concurrent Get returned nil")
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}
	wg.Wait()
}

func TestReloadableFields(t *testing.T) {
	reloadable := config.ReloadableFields()
	if len(reloadable) != 1 || reloadable[0] != "access.policies" {
		t.Errorf("ReloadableFields = %v", reloadable)
	}

	for _, f := range config.NonReloadableFields() {
		if f == "access.policies" {
			t.Error("access.policies listed as non-reloadable")
		}
	}
}

// Helpers

func validConfig() string {
	return `
resources:
  - name: item
    model_id: id
    route_base: /items
    routes:
      - verb: get
        path: ""
        event: "facet:item:find"
        processor: true
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
