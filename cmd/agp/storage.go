package main

import (
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/config"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/storage"
)

func provideRepository(cfg *config.Config, log *logger.Logger) (*storage.Repository, func() error, error) {
	repo, err := storage.New(cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.DSN != "" {
		log.Info("Database ready", zap.String("driver", cfg.Database.Driver))
	} else {
		log.Info("Database ready", zap.String("driver", cfg.Database.Driver), zap.String("path", cfg.Database.Path))
	}
	return repo, repo.Close, nil
}
