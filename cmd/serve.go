// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/phloton/boardup/pkg/logging"
	"github.com/phloton/boardup/pkg/status"
)

var (
	listenAddr     string
	serveAutoFlash bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline behind a websocket status server",
	Long: `Run the bring-up pipeline headless and publish its state over HTTP.

Endpoints:
  GET /status  latest snapshot as a CBOR frame (application/cbor)
  GET /ws      websocket streaming snapshot and log line frames

Frames are CBOR arrays [kind, payload] with integer payload keys. Clients may
send command frames [3, {0: action, 1: argument}] where action is one of
refresh, probe, select, firmware, flash or disconnect.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().BoolVar(&serveAutoFlash, "auto-flash", false, "Flash as soon as a chip is identified")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.ServeAddr
	if listenAddr != "" {
		addr = listenAddr
	}

	logger, err := newLogger(false)
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	ctx, cancel := signalContext()
	defer cancel()

	s := newStack(cfg, logger)
	ctrl := s.controller(ctx, cfg, serveAutoFlash)
	hub := status.NewHub(ctrl, ctrl, logger.Named("status"))

	server := &http.Server{
		Addr:              addr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 3)
	go func() {
		errCh <- ctrl.Run(ctx)
	}()
	go func() {
		errCh <- hub.Run(ctx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server: %w", err)
			return
		}
		errCh <- nil
	}()

	logger.Infow("Status server listening", "addr", addr)
	fmt.Printf("Boardup status server on %s (Ctrl+C to exit)\n", addr)

	var firstErr error
	remaining := 3
	select {
	case <-ctx.Done():
	case firstErr = <-errCh:
		remaining--
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	for range remaining {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
