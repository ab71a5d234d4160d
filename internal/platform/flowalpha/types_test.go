package flowalpha

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

func TestToBundleMergesSections(t *testing.T) {
	flowAt := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	darkAt := flowAt.Add(2 * time.Minute)

	flow := FlowSnapshot{
		Symbol:          "NVDA",
		AsOf:            flowAt,
		Sentiment:       "bullish",
		Conviction:      fp(0.82),
		Magnitude:       "large",
		PremiumNotional: fp(4_200_000),
		SweepCount:      ip(14),
		BlockCount:      ip(5),
		Toxicity:        fp(0.2),
	}
	dark := &DarkPoolSummary{
		Symbol:    "NVDA",
		AsOf:      darkAt,
		Sentiment: "bullish",
		Notional:  fp(9_000_000),
		Prints:    ip(11),
	}
	tape := &TapeSummary{
		Symbol:    "NVDA",
		Mark:      fp(912.40),
		Momentum:  fp(0.011),
		RelVolume: fp(1.8),
	}

	b := ToBundle(flow, dark, tape, ip(4))

	assert.Equal(t, "NVDA", b.Symbol)
	assert.Equal(t, domain.SentimentBullish, b.FlowSentiment)
	assert.Equal(t, domain.MagnitudeLarge, b.FlowMagnitude)
	assert.Equal(t, domain.SentimentBullish, b.DarkPoolSentiment)
	require.NotNil(t, b.Mark)
	assert.InDelta(t, 912.40, *b.Mark, 1e-9)
	require.NotNil(t, b.HighConvictionStreak)
	assert.Equal(t, 4, *b.HighConvictionStreak)

	// AsOf advances to the newest contributing section.
	assert.Equal(t, darkAt, b.AsOf)
}

func TestToBundleWithoutOptionalSections(t *testing.T) {
	flow := FlowSnapshot{Symbol: "AMD", AsOf: time.Now(), Sentiment: "neutral", Magnitude: "small"}

	b := ToBundle(flow, nil, nil, nil)

	assert.Equal(t, "AMD", b.Symbol)
	assert.Equal(t, domain.Sentiment(""), b.DarkPoolSentiment)
	assert.Nil(t, b.Mark)
	assert.Nil(t, b.DarkPoolNotional)
	assert.Nil(t, b.HighConvictionStreak)
}

func TestHandleFrameCountsMalformed(t *testing.T) {
	s := NewStream("wss://example.invalid/v1/stream", nil)

	s.handleFrame([]byte(`{not json`))
	s.handleFrame([]byte(`{"type":"flow"}`))   // no symbol
	s.handleFrame([]byte(`{"symbol":"NVDA"}`)) // no type
	s.handleFrame([]byte(`{"type":"mark","symbol":"NVDA","mark":912.4}`))

	assert.Equal(t, int64(3), s.MalformedCount())

	select {
	case ev := <-s.Events():
		assert.Equal(t, "mark", ev.Type)
		assert.Equal(t, "NVDA", ev.Symbol)
		require.NotNil(t, ev.Mark)
		assert.InDelta(t, 912.4, *ev.Mark, 1e-9)
	default:
		t.Fatal("expected a delivered event")
	}
}

func TestHandleFrameDropsWhenConsumerStalls(t *testing.T) {
	s := NewStream("wss://example.invalid/v1/stream", nil)

	frame := []byte(`{"type":"mark","symbol":"NVDA","mark":1}`)
	for i := 0; i < eventBuffer+10; i++ {
		s.handleFrame(frame)
	}

	assert.Equal(t, int64(10), s.DroppedCount())
	assert.Len(t, s.events, eventBuffer)
}
