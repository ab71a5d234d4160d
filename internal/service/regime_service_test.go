package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flowbot/internal/domain"
)

type fakeMarket struct {
	snap MarketSnapshot
	err  error
}

func (m *fakeMarket) Market(ctx context.Context) (MarketSnapshot, error) {
	return m.snap, m.err
}

type memRegimeCache struct {
	current domain.RegimeState
	set     bool
	history []domain.RegimeState
}

func (c *memRegimeCache) SetCurrent(ctx context.Context, state domain.RegimeState) error {
	c.current = state
	c.set = true
	c.history = append(c.history, state)
	return nil
}

func (c *memRegimeCache) Current(ctx context.Context) (domain.RegimeState, error) {
	if !c.set {
		return domain.RegimeState{}, domain.ErrNotFound
	}
	return c.current, nil
}

func (c *memRegimeCache) History(ctx context.Context, limit int) ([]domain.RegimeState, error) {
	return c.history, nil
}

func regimeConfig() RegimeConfig {
	return RegimeConfig{
		VolRiskOff:  22,
		VolPanic:    32,
		TrendRiskOn: 1.0,
		StaleAfter:  time.Hour,
	}
}

func TestClassifyBands(t *testing.T) {
	svc := NewRegimeService(&fakeMarket{}, &memRegimeCache{}, regimeConfig(), quietLogger())

	cases := []struct {
		name string
		snap MarketSnapshot
		want domain.Regime
	}{
		{"calm uptrend with breadth", MarketSnapshot{VolIndex: 14, IndexTrend: 2.1, Breadth: 0.68}, domain.RegimeRiskOn},
		{"narrow rally stays neutral", MarketSnapshot{VolIndex: 14, IndexTrend: 2.1, Breadth: 0.35}, domain.RegimeNeutral},
		{"flat tape", MarketSnapshot{VolIndex: 17, IndexTrend: 0.2, Breadth: 0.5}, domain.RegimeNeutral},
		{"elevated vol", MarketSnapshot{VolIndex: 25, IndexTrend: 1.8, Breadth: 0.7}, domain.RegimeRiskOff},
		{"vol spike overrides trend", MarketSnapshot{VolIndex: 36, IndexTrend: 2.5, Breadth: 0.8}, domain.RegimePanic},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, svc.Classify(tc.snap))
		})
	}
}

func TestRefreshPersistsState(t *testing.T) {
	now := time.Now().UTC()
	cache := &memRegimeCache{}
	market := &fakeMarket{snap: MarketSnapshot{AsOf: now, VolIndex: 25, IndexTrend: -0.4, Breadth: 0.3}}
	svc := NewRegimeService(market, cache, regimeConfig(), quietLogger())

	state, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeRiskOff, state.Regime)
	assert.Equal(t, domain.RegimeRiskOff, cache.current.Regime)
	assert.InDelta(t, 25, cache.current.VolIndex, 1e-9)
}

func TestCurrentFallsBackToNeutral(t *testing.T) {
	cache := &memRegimeCache{}
	svc := NewRegimeService(&fakeMarket{}, cache, regimeConfig(), quietLogger())

	// Nothing cached yet.
	regime, err := svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeNeutral, regime)

	// Fresh state is served as-is.
	require.NoError(t, cache.SetCurrent(context.Background(), domain.RegimeState{
		Regime: domain.RegimePanic, AsOf: time.Now().UTC(),
	}))
	regime, err = svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegimePanic, regime)

	// Stale state degrades to neutral.
	require.NoError(t, cache.SetCurrent(context.Background(), domain.RegimeState{
		Regime: domain.RegimePanic, AsOf: time.Now().UTC().Add(-2 * time.Hour),
	}))
	regime, err = svc.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.RegimeNeutral, regime)
}
