package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonathan/brigade/internal/agent"
	"github.com/jonathan/brigade/internal/config"
	"github.com/jonathan/brigade/internal/llm"
	"github.com/jonathan/brigade/internal/pipeline"
	"github.com/jonathan/brigade/internal/pipeline/steps"
	"github.com/jonathan/brigade/internal/session"
	"github.com/jonathan/brigade/internal/store"
	"github.com/jonathan/brigade/internal/usage"
	"github.com/spf13/cobra"
)

// newLLMClient builds the model backend. Tests replace it with a scripted client.
var newLLMClient = llm.NewClient

// app holds the components a pipeline command needs
type app struct {
	cfg      config.Config
	store    store.Store
	sessions *session.Manager
	client   llm.Client
	orch     *pipeline.Orchestrator
	watcher  *steps.Watcher
}

// loadConfig layers the config file, then command flags via override, then the
// environment and built-in defaults.
func loadConfig(cmd *cobra.Command, override func(*config.Config)) (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
		slog.Debug("loaded config", "path", configPath)
	}

	// Only override if the flag was explicitly set
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store = storeKind
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("db-url") {
		cfg.DatabaseURL = databaseURL
	}
	if flags.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if override != nil {
		override(&cfg)
	}

	// the key follows the chosen provider, which may come from a flag
	if cfg.APIKey == "" {
		cfg.APIKey = config.APIKeyFromEnv(cfg.Provider)
	}
	cfg = cfg.MergeWithDefaults(config.FromEnv())

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openSessions opens the configured store and loads its sessions
func openSessions(ctx context.Context, cfg config.Config) (store.Store, *session.Manager, error) {
	st, err := store.Open(ctx, store.Options{
		Kind:        store.Kind(cfg.Store),
		Namespace:   cfg.Namespace,
		DataDir:     cfg.DataDir,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}

	mgr, err := session.NewManager(ctx, st, session.WithCostPerMillion(cfg.CostPerMillion))
	if err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	return st, mgr, nil
}

// registryFor returns the role topology. With watch set, a registry file is
// hot-reloaded on change.
func registryFor(cfg config.Config, watch bool) (steps.Provider, *steps.Watcher, error) {
	if cfg.RegistryPath == "" {
		reg := steps.Default()
		if cfg.CompetitorAnalysis {
			reg = reg.WithCompetitorAnalyzer()
		}
		return reg, nil, nil
	}

	if watch {
		w, err := steps.NewWatcher(cfg.RegistryPath, slog.Default())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to watch registry: %w", err)
		}
		return w, w, nil
	}

	reg, err := steps.Load(cfg.RegistryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return reg, nil, nil
}

func apiKeyVar(p llm.Provider) string {
	if p == llm.ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return "GEMINI_API_KEY"
}

// newApp wires store, sessions, backend, registry and orchestrator from cfg
func newApp(ctx context.Context, cfg config.Config, watch bool, opts ...pipeline.Option) (*app, error) {
	llmCfg, err := cfg.LLMConfig()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s environment variable or --api-key flag is required", apiKeyVar(llmCfg.Provider))
	}

	a := &app{cfg: cfg}
	a.store, a.sessions, err = openSessions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.client, err = newLLMClient(ctx, llmCfg, cfg.APIKey)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create %s client: %w", llmCfg.Provider, err)
	}

	var registry steps.Provider
	registry, a.watcher, err = registryFor(cfg, watch)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := registry.Current().Validate(); err != nil {
		_ = a.Close()
		return nil, err
	}

	estimator := usage.ForName(cfg.Estimator)
	slog.Debug("pipeline wired",
		"provider", llmCfg.Provider,
		"store", cfg.Store,
		"estimator", estimator.Name(),
		"steps", len(registry.Current().Steps))

	invoker := agent.NewInvoker(a.client, agent.WithEstimator(estimator))
	opts = append([]pipeline.Option{
		pipeline.WithRegistry(registry),
		pipeline.WithParallelLimit(cfg.ParallelLimit),
	}, opts...)
	a.orch = pipeline.New(invoker, a.sessions, opts...)
	return a, nil
}

// Close releases the watcher, backend and store
func (a *app) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
