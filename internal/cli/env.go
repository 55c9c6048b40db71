package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/specflow/specflow/internal/config"
	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/health"
	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/registry"
	"github.com/specflow/specflow/internal/runner"
	"github.com/specflow/specflow/internal/store"
	"github.com/specflow/specflow/internal/workflow"
)

// env is everything a workflow command needs.
type env struct {
	cfg      *config.Config
	store    *store.Store
	registry *registry.Registry
	svc      *workflow.Service
}

func loadConfig() (*config.Config, error) {
	home, err := config.ResolveHome(homeFlag)
	if err != nil {
		return nil, errs.Config("resolving home", err)
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, errs.Config("loading config", err).
			WithHint(fmt.Sprintf("check %s", filepath.Join(home, "config.yaml")))
	}
	return cfg, nil
}

func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Home, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", cfg.Home, err)
	}
	st, err := store.NewStore(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	reg := registry.New(cfg.RegistryPath())

	svc := workflow.New(workflow.Options{
		Store:        st,
		Agent:        runner.New(cfg, nil),
		Registry:     reg,
		Monitor:      health.NewMonitor(cfg.ClaudeProjectsDir(), cfg.StalenessThreshold()),
		Killer:       process.NewKiller(cfg.KillGrace()),
		Metrics:      metrics.Default,
		PollTimeout:  cfg.DetachedTimeout(),
		PollInterval: cfg.PollInterval(),
	})
	return &env{cfg: cfg, store: st, registry: reg, svc: svc}, nil
}

func (e *env) Close() {
	_ = e.store.Close()
}

// projectRoot walks up from the working directory to the nearest directory
// holding .specify, falling back to the working directory itself.
func projectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	for dir := cwd; ; {
		if info, err := os.Stat(filepath.Join(dir, ".specify")); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return cwd, nil
		}
		dir = parent
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
