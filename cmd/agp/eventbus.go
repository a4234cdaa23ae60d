package main

import (
	"github.com/agpstudio/agp/internal/common/config"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
)

func provideEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	provider, cleanup, err := events.Provide(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return provider.Bus, cleanup, nil
}
