// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/SectorWiki/services/api"
	"github.com/AleutianAI/SectorWiki/services/assist/agent"
	"github.com/AleutianAI/SectorWiki/services/assist/consult"
	"github.com/AleutianAI/SectorWiki/services/assist/persona"
	"github.com/AleutianAI/SectorWiki/services/assist/tools"
	"github.com/AleutianAI/SectorWiki/services/assist/workflows"
	"github.com/AleutianAI/SectorWiki/services/config"
	"github.com/AleutianAI/SectorWiki/services/graphstore"
	"github.com/AleutianAI/SectorWiki/services/llm"
	"github.com/AleutianAI/SectorWiki/services/resilience"
	"github.com/AleutianAI/SectorWiki/services/secrets"
	badgerstore "github.com/AleutianAI/SectorWiki/services/storage/badger"
	"github.com/AleutianAI/SectorWiki/services/telemetry"
)

// app holds every long-lived component and closes them in reverse order.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	gateway *llm.Gateway
	graph   *graphstore.Client
	cacheDB *badgerstore.DB
	service *workflows.Service

	shutdownTracing telemetry.ShutdownFunc
}

// loadConfig reads --config and applies the logging flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// newApp wires the assistant from configuration.
//
// Description:
//
//	Opens nothing eagerly except the optional tool cache: the graph store
//	connects on first use and the gateway on first request. A cache that
//	cannot be opened is logged and skipped.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	level, err := telemetry.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := telemetry.NewLogger(os.Stderr, level, cfg.Log.Format)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	a.shutdownTracing, err = telemetry.InitTracing(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	secretStore := secrets.NewManager(nil)

	apiKey, err := llmCredential(ctx, secretStore, cfg.LLM)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if apiKey == nil {
		logger.Warn("LLM API key not set; requests are sent without authorization",
			slog.String("env", cfg.LLM.APIKeyEnv))
	}
	a.gateway, err = llm.NewGateway(llm.GatewayConfig{
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.LLM.Timeout,
		MaxAttempts:       cfg.LLM.MaxAttempts,
		BaseDelay:         cfg.LLM.BaseDelay,
		RequestsPerSecond: cfg.LLM.RequestsPerMinute / 60,
		Headers:           cfg.LLM.Headers,
		AuditEnabled:      cfg.LLM.Audit,
		Logger:            logger,
	}, apiKey)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	if a.graph, err = newGraphClient(ctx, cfg.Graph, secretStore, logger); err != nil {
		a.Close(ctx)
		return nil, err
	}

	registry, err := a.newToolRegistry(ctx, secretStore)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	catalog, err := persona.DefaultCatalog()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	loop := agent.NewLoop(a.gateway,
		agent.WithMaxIterations(cfg.Loop.MaxIterations),
		agent.WithLogger(logger),
	)
	coordinator := consult.NewCoordinator(loop, catalog, registry,
		consult.WithMaxParallel(cfg.Consult.MaxParallel),
		consult.WithMaxIterations(cfg.Loop.MaxIterations),
		consult.WithLogger(logger),
	)
	a.service = workflows.NewService(coordinator, a.graph, logger)

	logger.Info("Assistant initialized",
		slog.String("model", cfg.LLM.Model),
		slog.Any("tools", registry.Names()),
		slog.String("graph_uri", cfg.Graph.URI),
	)
	return a, nil
}

func newGraphClient(ctx context.Context, cfg config.GraphConfig, store *secrets.Manager, logger *slog.Logger) (*graphstore.Client, error) {
	password, err := optionalCredential(ctx, store, cfg.PasswordEnv)
	if err != nil {
		return nil, err
	}
	connector := graphstore.NewNeo4jConnector(graphstore.Neo4jConfig{
		URI:            cfg.URI,
		Username:       cfg.Username,
		Password:       password,
		Database:       cfg.Database,
		MaxPoolSize:    cfg.MaxPoolSize,
		ConnectTimeout: cfg.ConnectTimeout,
	})
	breaker := resilience.NewCircuitBreaker(resilience.BreakerConfig{
		Name:             "graphstore",
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
		Logger:           logger,
	})
	policy := resilience.DefaultRetryPolicy("graphstore")
	policy.MaxAttempts = cfg.MaxAttempts
	policy.BaseDelay = cfg.BaseDelay
	policy.Logger = logger

	return graphstore.NewClient(graphstore.NewManager(connector, logger), breaker, policy, logger), nil
}

func (a *app) newToolRegistry(ctx context.Context, store *secrets.Manager) (*tools.Registry, error) {
	cfg := a.cfg.Tools
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var cache *tools.Cache
	if cfg.CacheDir != "" {
		dbCfg := badgerstore.DefaultConfig()
		dbCfg.Path = cfg.CacheDir
		dbCfg.Logger = a.logger
		db, err := badgerstore.OpenDB(dbCfg)
		if err != nil {
			a.logger.Warn("Tool cache unavailable, external lookups are not cached",
				slog.String("path", cfg.CacheDir),
				slog.String("error", err.Error()),
			)
		} else {
			a.cacheDB = db
			cache = tools.NewCache(db, cfg.CacheTTL, a.logger)
		}
	}

	deps := tools.Dependencies{Graph: a.graph, Cache: cache}
	if cfg.WebSearchURL != "" {
		key, err := optionalCredential(ctx, store, cfg.WebSearchKeyEnv)
		if err != nil {
			return nil, err
		}
		deps.WebSearch = &tools.WebSearchConfig{
			BaseURL:    cfg.WebSearchURL,
			Credential: key,
			HTTPClient: httpClient,
			MaxResults: cfg.MaxResults,
		}
	}
	if cfg.NVDURL != "" {
		key, err := optionalCredential(ctx, store, cfg.NVDKeyEnv)
		if err != nil {
			return nil, err
		}
		deps.NVD = &tools.NVDConfig{
			BaseURL:    cfg.NVDURL,
			Credential: key,
			HTTPClient: httpClient,
			MaxResults: cfg.MaxResults,
		}
	}
	return tools.NewDefaultRegistry(deps)
}

// llmCredential loads the completion API key. An unset key fails startup
// unless the endpoint is configured with allow_anonymous.
func llmCredential(ctx context.Context, store *secrets.Manager, cfg config.LLMConfig) (llm.CredentialSource, error) {
	if cfg.AllowAnonymous {
		return optionalCredential(ctx, store, cfg.APIKeyEnv)
	}
	cred, err := store.Credential(ctx, cfg.APIKeyEnv)
	if errors.Is(err, secrets.ErrSecretNotFound) {
		return nil, fmt.Errorf("LLM API key %s is not set (set llm.allow_anonymous for a keyless endpoint): %w",
			cfg.APIKeyEnv, err)
	}
	if err != nil {
		return nil, fmt.Errorf("loading secret %s: %w", cfg.APIKeyEnv, err)
	}
	return cred, nil
}

// optionalCredential returns nil for an unset secret. The result is an
// untyped nil interface in that case, never a nil *secrets.Credential.
func optionalCredential(ctx context.Context, store *secrets.Manager, key string) (llm.CredentialSource, error) {
	cred, err := store.Optional(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("loading secret %s: %w", key, err)
	}
	if cred == nil {
		return nil, nil
	}
	return cred, nil
}

// handlers builds the HTTP handlers over the wired service.
func (a *app) handlers() *api.Handlers {
	return api.NewHandlers(a.service, api.HandlersConfig{
		DefaultPersonas: a.cfg.Consult.DefaultPersonas,
		Store:           a.graph,
		Model:           a.gateway.Model(),
		Logger:          a.logger,
	})
}

// Close releases every component. Safe to call on a partially built app.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("graph store: %w", err))
		}
	}
	if a.cacheDB != nil {
		if err := a.cacheDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tool cache: %w", err))
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider: %w", err))
		}
	}
	secrets.Purge()

	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("Shutdown completed with errors", slog.String("error", err.Error()))
	}
}
