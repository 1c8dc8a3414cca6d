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
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/SectorWiki/services/api"
)

// runServeCommand serves the HTTP API until SIGINT or SIGTERM.
//
// Description:
//
//	On a signal the server stops accepting connections and drains
//	in-flight requests for up to server.shutdown_timeout. The graph store,
//	tool cache, and tracer provider are then closed and sealed secrets
//	are wiped.
func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: api.NewRouter(a.handlers()),
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting assistant server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		a.logger.Info("Shutting down assistant server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.logger.Warn("HTTP server did not drain cleanly", slog.String("error", serr.Error()))
	}
	a.Close(shutdownCtx)

	if err != nil {
		a.logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	return nil
}
