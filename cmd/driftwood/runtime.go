package main

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/driftwood/internal/client"
	"github.com/MarcoPoloResearchLab/driftwood/internal/config"
	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/logging"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// runtime is what every client-facing command needs.
type runtime struct {
	cfg    config.AppConfig
	logger *zap.Logger
	client *client.Client
}

func loadSettings() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func openRuntime() (*runtime, error) {
	appConfig, logger, err := loadSettings()
	if err != nil {
		return nil, err
	}
	dataClient, err := client.New(client.Config{App: appConfig, Logger: logger})
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open client: %w", err)
	}
	return &runtime{cfg: appConfig, logger: logger, client: dataClient}, nil
}

func (r *runtime) Close() {
	if err := r.client.Close(); err != nil {
		r.logger.Warn("close client", zap.Error(err))
	}
	_ = r.logger.Sync()
}

func parseID(raw string) (content.ResourceID, error) {
	id, err := content.NewResourceID(raw)
	if err != nil {
		return "", fmt.Errorf("resource id %q: %w", raw, err)
	}
	return id, nil
}
