package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/devserver"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newDevServerCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the inconsistent fake backend used for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevServer(cmd, subject)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Mint and print a bearer token for this subject on startup")
	return cmd
}

func runDevServer(cmd *cobra.Command, subject string) error {
	appConfig, logger, err := loadSettings()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if appConfig.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := devserver.NewTokenIssuer(devserver.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.DevSigningSecret),
	})
	if err != nil {
		return err
	}
	handler, err := devserver.NewServer(devserver.Dependencies{
		Tokens:   tokens,
		Articles: devserver.NewArticles(devserver.SampleArticles()...),
		Logger:   logger.Named("devserver"),
	})
	if err != nil {
		return err
	}

	if subject != "" {
		token, _, err := tokens.Issue(subject)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
	}

	httpServer := &http.Server{
		Addr:              appConfig.DevServerAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devserver starting", zap.String("address", appConfig.DevServerAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
