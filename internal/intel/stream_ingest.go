package intel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/platform/flowalpha"
)

// StreamIngest folds incremental WebSocket events into the cached bundles.
// Each event is a read-modify-write against the enrichment cache: the cached
// bundle keeps every field the event does not carry.
type StreamIngest struct {
	stream *flowalpha.Stream
	cache  domain.EnrichmentCache
	marks  domain.MarkCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewStreamIngest creates a StreamIngest over an already-connected stream.
func NewStreamIngest(
	stream *flowalpha.Stream,
	cache domain.EnrichmentCache,
	marks domain.MarkCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *StreamIngest {
	return &StreamIngest{
		stream: stream,
		cache:  cache,
		marks:  marks,
		bus:    bus,
		logger: logger.With(slog.String("component", "stream_ingest")),
	}
}

// Run consumes stream events until the context ends or the stream closes.
func (si *StreamIngest) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-si.stream.Events():
			if !ok {
				return domain.ErrWSDisconnect
			}
			si.apply(ctx, event)
		}
	}
}

// apply folds one event into the cache and announces the delta.
func (si *StreamIngest) apply(ctx context.Context, event flowalpha.StreamEvent) {
	switch event.Type {
	case "flow":
		if event.Flow == nil {
			return
		}
		si.applyFlow(ctx, event)
	case "darkpool":
		if event.DarkPool == nil {
			return
		}
		si.applyDarkPool(ctx, event)
	case "mark":
		if event.Mark == nil {
			return
		}
		if err := si.marks.SetMark(ctx, event.Symbol, *event.Mark, event.At); err != nil {
			si.logger.WarnContext(ctx, "stream mark update failed",
				slog.String("symbol", event.Symbol),
				slog.String("error", err.Error()))
		}
	default:
		si.logger.DebugContext(ctx, "ignoring unknown stream event type",
			slog.String("type", event.Type))
	}
}

func (si *StreamIngest) applyFlow(ctx context.Context, event flowalpha.StreamEvent) {
	bundle, err := si.loadBundle(ctx, event.Symbol)
	if err != nil {
		return
	}

	flow := event.Flow
	bundle.FlowSentiment = domain.Sentiment(flow.Sentiment)
	bundle.FlowMagnitude = domain.Magnitude(flow.Magnitude)
	if flow.Conviction != nil {
		bundle.FlowConviction = flow.Conviction
	}
	if flow.PremiumNotional != nil {
		bundle.PremiumNotional = flow.PremiumNotional
	}
	if flow.SweepCount != nil {
		bundle.SweepCount = flow.SweepCount
	}
	if flow.BlockCount != nil {
		bundle.BlockCount = flow.BlockCount
	}
	if flow.CallPutRatio != nil {
		bundle.CallPutRatio = flow.CallPutRatio
	}
	if flow.OTMShare != nil {
		bundle.OTMShare = flow.OTMShare
	}
	if flow.NearDatedShare != nil {
		bundle.NearDatedShare = flow.NearDatedShare
	}
	if flow.OpenInterestChg != nil {
		bundle.OpenInterestChg = flow.OpenInterestChg
	}
	if flow.IVSkewShift != nil {
		bundle.IVSkewShift = flow.IVSkewShift
	}
	if flow.Toxicity != nil {
		bundle.Toxicity = flow.Toxicity
	}
	if event.At.After(bundle.AsOf) {
		bundle.AsOf = event.At
	}

	si.storeBundle(ctx, bundle)
}

func (si *StreamIngest) applyDarkPool(ctx context.Context, event flowalpha.StreamEvent) {
	bundle, err := si.loadBundle(ctx, event.Symbol)
	if err != nil {
		return
	}

	dark := event.DarkPool
	bundle.DarkPoolSentiment = domain.Sentiment(dark.Sentiment)
	if dark.Notional != nil {
		bundle.DarkPoolNotional = dark.Notional
	}
	if dark.Prints != nil {
		bundle.DarkPoolPrints = dark.Prints
	}
	if dark.LitDarkDivergence != nil {
		bundle.LitDarkDivergence = dark.LitDarkDivergence
	}
	if event.At.After(bundle.AsOf) {
		bundle.AsOf = event.At
	}

	si.storeBundle(ctx, bundle)
}

// loadBundle fetches the cached bundle for a symbol, starting a fresh one
// when nothing is cached yet.
func (si *StreamIngest) loadBundle(ctx context.Context, symbol string) (domain.FeatureBundle, error) {
	bundle, err := si.cache.GetBundle(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.FeatureBundle{Symbol: symbol}, nil
		}
		si.logger.WarnContext(ctx, "stream bundle read failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return domain.FeatureBundle{}, err
	}
	return bundle, nil
}

func (si *StreamIngest) storeBundle(ctx context.Context, bundle domain.FeatureBundle) {
	if err := si.cache.SetBundle(ctx, bundle); err != nil {
		si.logger.WarnContext(ctx, "stream bundle write failed",
			slog.String("symbol", bundle.Symbol),
			slog.String("error", err.Error()))
		return
	}

	payload, err := json.Marshal(UpdateEvent{Symbol: bundle.Symbol, AsOf: bundle.AsOf.UTC(), Source: "stream"})
	if err != nil {
		return
	}
	if err := si.bus.Publish(ctx, BusChannelIntel, payload); err != nil {
		si.logger.WarnContext(ctx, "publish stream delta failed",
			slog.String("symbol", bundle.Symbol),
			slog.String("error", err.Error()))
	}
}
