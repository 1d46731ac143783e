package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kylekaufman/papertrade/internal/app"
	"github.com/kylekaufman/papertrade/internal/common"
	"github.com/kylekaufman/papertrade/internal/server"
)

func main() {
	a, err := app.NewApp(os.Getenv("PAPERTRADE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	common.PrintBanner(a.Config, a.Logger)

	// Restore the stored session, or the last guest account
	resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 15*time.Second)
	if sess, err := a.SessionService.Resume(resumeCtx); err != nil {
		a.Logger.Warn().Err(err).Msg("Session not resumed")
	} else {
		a.Logger.Info().Str("state", string(sess.State)).Str("user_id", sess.UserID).Msg("Session resumed")
	}
	resumeCancel()

	srv := server.NewServer(a)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	a.Logger.Info().
		Str("url", fmt.Sprintf("http://%s", srv.Addr())).
		Msg("Server ready")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	a.Logger.Info().Msg("Shutdown signal received")
	common.PrintShutdownBanner(a.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	a.Close()
	a.Logger.Info().Msg("Server stopped")
}
