package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/skywalker/internal/agents"
	"github.com/ChamsBouzaiene/skywalker/internal/config"
	"github.com/ChamsBouzaiene/skywalker/internal/engine"
	"github.com/ChamsBouzaiene/skywalker/internal/knowledge"
	"github.com/ChamsBouzaiene/skywalker/internal/logging"
	"github.com/ChamsBouzaiene/skywalker/internal/metrics"
	"github.com/ChamsBouzaiene/skywalker/internal/providers"
	"github.com/ChamsBouzaiene/skywalker/internal/sandbox"
	"github.com/ChamsBouzaiene/skywalker/internal/session"
	"github.com/ChamsBouzaiene/skywalker/internal/tools"
	kbtool "github.com/ChamsBouzaiene/skywalker/internal/tools/knowledge"
	"github.com/ChamsBouzaiene/skywalker/internal/tools/supportdb"
)

// baseEnv is what every command needs: configuration, logging and metrics.
type baseEnv struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func loadBaseEnv(flags *globalFlags) (*baseEnv, error) {
	mgr, err := config.NewManager(flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: flags.verbose,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("config loaded", zap.String("path", mgr.Path()), zap.Bool("exists", mgr.Exists()))
	return &baseEnv{cfg: cfg, logger: logger, metrics: metrics.New()}, nil
}

// serveMetrics exposes /metrics in the background when configured.
func (b *baseEnv) serveMetrics(ctx context.Context) {
	addr := b.cfg.Metrics.Addr
	if addr == "" {
		return
	}
	go func() {
		if err := b.metrics.Serve(ctx, addr); err != nil {
			b.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	b.logger.Info("serving metrics", zap.String("addr", addr))
}

// knowledgeEnv is the knowledge base: index, job store and service.
type knowledgeEnv struct {
	index   *knowledge.Index
	store   *knowledge.JobStore
	service *knowledge.Service
}

func openKnowledge(ctx context.Context, b *baseEnv) (*knowledgeEnv, error) {
	kc := b.cfg.Knowledge
	for _, p := range []string{kc.IndexPath, kc.DBPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create knowledge dir: %w", err)
		}
	}
	index, err := knowledge.OpenIndex(kc.IndexPath, b.logger)
	if err != nil {
		return nil, err
	}
	store, err := knowledge.OpenJobStore(ctx, kc.DBPath)
	if err != nil {
		index.Close()
		return nil, err
	}
	svc := knowledge.NewService(store, index, knowledge.NewMarkdownChunker(kc.ChunkSize, kc.ChunkOverlap), b.logger,
		knowledge.WithMetrics(b.metrics))
	return &knowledgeEnv{index: index, store: store, service: svc}, nil
}

func (k *knowledgeEnv) Close() error {
	var errs *multierror.Error
	if err := k.index.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := k.store.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// runtimeEnv is everything the conversational commands need.
type runtimeEnv struct {
	*baseEnv
	sessions *session.Manager
	manager  *agents.Manager
}

func (r *runtimeEnv) Close() {
	if err := r.manager.Close(); err != nil {
		r.logger.Warn("failed to close resources", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func prepareRuntimeEnv(ctx context.Context, flags *globalFlags) (*runtimeEnv, error) {
	b, err := loadBaseEnv(flags)
	if err != nil {
		return nil, err
	}
	cfg, logger := b.cfg, b.logger

	sessions, err := session.NewManager(cfg.Sessions.Root, logger)
	if err != nil {
		return nil, err
	}

	configs, err := agents.LoadConfigs(cfg.Agents.Dir, logger)
	if err != nil {
		// Invalid declarations are skipped; the valid ones still load.
		logger.Warn("some agent configs were skipped", zap.Error(err))
	}

	creds := make(map[string]providers.Credentials, len(cfg.Providers))
	for name, p := range cfg.Providers {
		creds[name] = providers.Credentials{APIKey: p.APIKey, BaseURL: p.BaseURL}
	}
	llms := providers.NewFactory(creds)

	guardCfg := agents.GuardrailConfig{Enabled: cfg.Guardrails.Enabled, Logger: logger, Metrics: b.metrics}
	if cfg.Guardrails.Enabled {
		llm, model, err := llms.Client(cfg.Guardrails.Model)
		if err != nil {
			logger.Warn("guardrail model unavailable, guardrails disabled", zap.String("model", cfg.Guardrails.Model), zap.Error(err))
			guardCfg.Enabled = false
		}
		guardCfg.LLM, guardCfg.Model = llm, model
	}

	runner, err := sandbox.NewRunner(ctx, sandbox.Config{
		Mode:        sandbox.ParseMode(cfg.Sandbox.Mode),
		DockerImage: cfg.Sandbox.DockerImage,
		CPU:         cfg.Sandbox.CPU,
		Memory:      cfg.Sandbox.Memory,
		CmdTimeout:  cfg.Sandbox.CmdTimeout.Duration,
	}, logger)
	if err != nil {
		return nil, err
	}

	extra, closers := optionalTools(ctx, b)

	manager, err := agents.NewManager(agents.ManagerConfig{
		Agents:       configs,
		Sessions:     sessions,
		LLMs:         llms,
		DefaultModel: cfg.DefaultModel,
		Guardrail:    agents.NewGuardrail(guardCfg),
		ExtraTools:   extra,
		ToolOptions: tools.SessionOptions{
			Runner:      runner,
			FindBackend: cfg.Search.FindBackend,
			CmdTimeout:  cfg.Sandbox.CmdTimeout.Duration,
			Logger:      logger,
		},
		CacheCapacity: cfg.ExecutorCache.Capacity,
		MaxDepth:      cfg.Delegation.MaxDepth,
		Closers:       closers,
		Logger:        logger,
		Metrics:       b.metrics,
	})
	if err != nil {
		return nil, err
	}
	return &runtimeEnv{baseEnv: b, sessions: sessions, manager: manager}, nil
}

// optionalTools opens the knowledge index and the support database. Either
// may be missing or locked by another process; its tools are then left out.
func optionalTools(ctx context.Context, b *baseEnv) ([]engine.Tool, []io.Closer) {
	var (
		extra   []engine.Tool
		closers []io.Closer
	)

	index, err := knowledge.OpenIndex(b.cfg.Knowledge.IndexPath, b.logger)
	if err != nil {
		b.logger.Warn("knowledge index unavailable, rag_search disabled", zap.Error(err))
	} else {
		extra = append(extra, kbtool.NewRagSearchTool(index, kbtool.SearchTimeout, b.logger))
		closers = append(closers, index)
	}

	db, err := supportdb.Open(ctx, b.cfg.SupportDB.Path)
	switch {
	case errors.Is(err, supportdb.ErrNotFound):
		b.logger.Debug("support database not initialized", zap.String("path", b.cfg.SupportDB.Path))
	case err != nil:
		b.logger.Warn("support database unavailable", zap.Error(err))
	default:
		extra = append(extra, supportdb.NewTools(db)...)
		closers = append(closers, db)
	}
	return extra, closers
}
