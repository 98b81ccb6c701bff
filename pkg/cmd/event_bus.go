package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/channels/gochannel"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/channels/kafka"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/eventbus"
)

const serviceName = "cortex-automation"

// NewEventBus builds the bus for provider: "gochannel" keeps events in
// process, "kafka" spreads them over brokers.
func NewEventBus(provider string, brokers []string, logger *slog.Logger) (eventbus.EventBus, error) {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub := gochannel.CreateChannel(watermillLogger)

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, brokers, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, logger), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider %q", provider)
	}
}
