package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

// StreamIntents is the Redis stream carrying outbound order intents. An
// execution adapter tails it with StreamRead; the engine never talks to a
// broker directly.
const StreamIntents = "intents:out"

// IntentPublisher emits outbound order intents.
type IntentPublisher interface {
	Publish(ctx context.Context, intent domain.OrderIntent) error
}

// BusIntentPublisher publishes intents to a durable Redis stream and mirrors
// each one into the structured log, so the outbound surface survives a
// restart and stays greppable.
type BusIntentPublisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewBusIntentPublisher creates a BusIntentPublisher.
func NewBusIntentPublisher(bus domain.SignalBus, logger *slog.Logger) *BusIntentPublisher {
	return &BusIntentPublisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "intent_publisher")),
	}
}

// Publish appends the intent to the outbound stream and logs it.
func (p *BusIntentPublisher) Publish(ctx context.Context, intent domain.OrderIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("executor: marshal intent %s: %w", intent.ID, err)
	}
	if err := p.bus.StreamAppend(ctx, StreamIntents, payload); err != nil {
		return fmt.Errorf("executor: append intent %s: %w", intent.ID, err)
	}

	p.logger.InfoContext(ctx, "order intent published",
		slog.String("intent_id", intent.ID),
		slog.String("action", string(intent.Action)),
		slog.String("symbol", intent.Symbol),
		slog.String("side", string(intent.Side)),
		slog.Float64("size", intent.Size),
		slog.Float64("ref_price", intent.RefPrice),
		slog.String("reason", intent.Reason),
	)
	return nil
}

// Compile-time interface check.
var _ IntentPublisher = (*BusIntentPublisher)(nil)
