package main

import (
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/config"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/settings"
)

func provideSettings(cfg *config.Config, log *logger.Logger) *settings.Service {
	store := settings.NewFileStore(cfg.Settings.Path, log)
	svc := settings.NewService(store, log)
	log.Info("Settings store ready", zap.String("path", store.Path()))
	return svc
}
