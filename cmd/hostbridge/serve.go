package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hostbridge/hostbridge/internal/api"
	"github.com/hostbridge/hostbridge/internal/audit"
	"github.com/hostbridge/hostbridge/internal/cache"
	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/dispatch"
	"github.com/hostbridge/hostbridge/internal/hitl"
	"github.com/hostbridge/hostbridge/internal/mcp"
	"github.com/hostbridge/hostbridge/internal/memory"
	"github.com/hostbridge/hostbridge/internal/plan"
	"github.com/hostbridge/hostbridge/internal/policy"
	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/secrets"
	"github.com/hostbridge/hostbridge/internal/store/sqlite"
	"github.com/hostbridge/hostbridge/internal/tools"
	"github.com/hostbridge/hostbridge/internal/workspace"
)

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	path := configPath()
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			path = v
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applyFlags(cfg, args)

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := sqlite.New(ctx, cfg.DBPath())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sec, err := secrets.Open(cfg.Secrets.File, cfg.Secrets.IdentityFile,
		logger.With("component", "secrets"))
	if err != nil {
		return err
	}

	lists := cache.NewListCache(0)
	if cfg.Secrets.Watch {
		if err := sec.Watch(ctx, lists.Invalidate); err != nil {
			return fmt.Errorf("watch secrets: %w", err)
		}
	}

	pol, err := policy.NewEngine(cfg.Policy, logger.With("component", "policy"))
	if err != nil {
		return err
	}

	hitlBus := hitl.NewBus()
	approvals := hitl.NewManager(hitlBus, cfg.HITL.TTLSeconds,
		logger.With("component", "hitl"))

	auditBus := audit.NewBus()
	auditor := audit.NewLogger(db, auditBus, cfg.Audit.SummaryLimitBytes,
		logger.With("component", "audit"))

	ws, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		return err
	}

	reg := registry.New()
	engine := dispatch.NewEngine(reg, pol, approvals, sec, auditor,
		time.Duration(cfg.ToolTimeoutSeconds)*time.Second,
		logger.With("component", "dispatch"))

	mem := memory.NewService(db, logger.With("component", "memory"))
	plans := plan.NewService(engine, logger.With("component", "plan"))

	if err := tools.RegisterAll(reg, tools.Deps{
		Workspace: ws,
		Secrets:   sec,
		Memory:    mem,
		Plans:     plans,
		Shell: tools.ShellConfig{
			ExtraCommands:  cfg.Shell.AllowCommands,
			DefaultTimeout: cfg.Shell.DefaultTimeoutSeconds,
			MaxTimeout:     cfg.Shell.MaxTimeoutSeconds,
		},
		HTTP: tools.HTTPConfig{
			AllowPrivateHosts:  !cfg.HTTP.BlockPrivateIPs,
			AllowMetadataHosts: !cfg.HTTP.BlockMetadataEndpoints,
			AllowDomains:       cfg.HTTP.AllowDomains,
			BlockDomains:       cfg.HTTP.BlockDomains,
			DefaultTimeout:     cfg.HTTP.DefaultTimeoutSeconds,
			MaxTimeout:         cfg.HTTP.MaxTimeoutSeconds,
			MaxResponseSizeKB:  cfg.HTTP.MaxResponseSizeKB,
		},
		Logger: logger.With("component", "tools"),
	}); err != nil {
		return err
	}

	mcpSrv := mcp.NewServer(engine, reg, lists, version,
		logger.With("component", "mcp"))

	router := api.NewRouter(api.Deps{
		Engine:        engine,
		Registry:      reg,
		Store:         db,
		Secrets:       sec,
		HITL:          approvals,
		HITLBus:       hitlBus,
		AuditBus:      auditBus,
		Workspace:     ws,
		Lists:         lists,
		MCP:           mcpSrv,
		AdminPassword: cfg.AdminPassword,
		DBPath:        cfg.DBPath(),
		Version:       version,
		Logger:        logger.With("component", "api"),
	})

	// No read or write timeout: a dispatch held for approval legitimately
	// blocks until its TTL runs out.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	logger.Info("hostbridge starting",
		"version", version,
		"workspace", ws.Root(),
		"tools", reg.Count(),
		"db", cfg.DBPath(),
		"admin_api", cfg.AdminPassword != "")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		approvals.Run(ctx)
		return nil
	})
	g.Go(func() error {
		auditor.RunRetention(ctx, cfg.Audit.RetentionDays)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		// Expire pending approvals first so dispatch calls suspended on
		// them unblock and the listener can drain.
		approvals.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// applyFlags parses --addr=X style overrides from the args list.
func applyFlags(cfg *config.Config, args []string) {
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--addr="); ok {
			cfg.ListenAddr = v
		}
		if v, ok := strings.CutPrefix(arg, "--workspace="); ok {
			cfg.WorkspaceRoot = v
		}
	}
}
