package main

import (
	"context"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events/bus"
	gateways "github.com/agpstudio/agp/internal/gateway/websocket"
)

// provideGateway builds the WebSocket gateway, starts the hub loop and
// bridges event bus subjects into room broadcasts.
func provideGateway(ctx context.Context, log *logger.Logger, eventBus bus.EventBus) *gateways.Gateway {
	gateway := gateways.NewGateway(log)

	go gateway.Hub.Run(ctx)
	gateways.RegisterEventForwarder(ctx, eventBus, gateway.Hub, log)

	return gateway
}
