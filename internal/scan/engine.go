package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/intel"
)

// RegimeSource supplies the current market regime to scanner evaluations.
type RegimeSource interface {
	Current(ctx context.Context) (domain.Regime, error)
}

// Engine orchestrates the scanners. It consumes intel-refresh announcements
// from the bus, loads the refreshed snapshot from the enrichment cache, fans
// it out to every active scanner, and forwards emitted candidates to the
// candidates channel consumed by the executor.
type Engine struct {
	registry    *Registry
	candidateCh chan<- domain.EntryCandidate
	cache       domain.EnrichmentReader
	regimes     RegimeSource
	bus         domain.SignalBus
	tracker     *MarkTracker
	logger      *slog.Logger

	mu          sync.Mutex
	activeNames []string
	intelChs    map[string]chan IntelUpdate
	markChs     map[string]chan MarkUpdate

	recentCandidates []domain.EntryCandidate
	recentLimit      int
}

// NewEngine creates an Engine. The candidateCh is the output channel where
// emitted candidates are sent to the executor. The shared MarkTracker keeps a
// 30-minute rolling window.
func NewEngine(
	registry *Registry,
	candidateCh chan<- domain.EntryCandidate,
	cache domain.EnrichmentReader,
	regimes RegimeSource,
	bus domain.SignalBus,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry:    registry,
		candidateCh: candidateCh,
		cache:       cache,
		regimes:     regimes,
		bus:         bus,
		tracker:     NewMarkTracker(30 * time.Minute),
		logger:      logger.With(slog.String("component", "scan_engine")),
		recentLimit: 500,
	}
}

// Tracker returns the shared mark tracker, which the reconciler also reads.
func (e *Engine) Tracker() *MarkTracker {
	return e.tracker
}

// ListNames returns the names of all registered scanners in sorted order.
func (e *Engine) ListNames() []string {
	return e.registry.List()
}

// ActiveNames returns the currently active scanner names.
func (e *Engine) ActiveNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.activeNames))
	copy(out, e.activeNames)
	return out
}

// RecentCandidates returns up to limit most recent emitted candidates in
// reverse chronological order (newest first).
func (e *Engine) RecentCandidates(limit int) []domain.EntryCandidate {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recentCandidates)
	if n == 0 {
		return []domain.EntryCandidate{}
	}
	if limit > n {
		limit = n
	}
	out := make([]domain.EntryCandidate, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recentCandidates[i])
	}
	return out
}

// SetActiveNames selects which registered scanners receive updates. Names
// must be registered in the registry.
func (e *Engine) SetActiveNames(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("scan: active scanner names cannot be empty")
	}
	for _, name := range names {
		if _, err := e.registry.Get(name); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeChannelsLocked()
	e.activeNames = names

	const buf = 64
	e.intelChs = make(map[string]chan IntelUpdate, len(names))
	e.markChs = make(map[string]chan MarkUpdate, len(names))
	for _, name := range names {
		e.intelChs[name] = make(chan IntelUpdate, buf)
		e.markChs[name] = make(chan MarkUpdate, buf)
	}

	e.logger.Info("active scanners set", slog.Any("scanners", names))
	return nil
}

func (e *Engine) closeChannelsLocked() {
	for _, ch := range e.intelChs {
		close(ch)
	}
	for _, ch := range e.markChs {
		close(ch)
	}
	e.intelChs = nil
	e.markChs = nil
}

// Run subscribes to intel announcements and runs one goroutine per active
// scanner. It blocks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	names := make([]string, len(e.activeNames))
	copy(names, e.activeNames)
	e.mu.Unlock()

	if len(names) == 0 {
		e.logger.Info("no active scanners, blocking until context done")
		<-ctx.Done()
		return ctx.Err()
	}

	updates, err := e.bus.Subscribe(ctx, intel.BusChannelIntel)
	if err != nil {
		return fmt.Errorf("scan: subscribe intel channel: %w", err)
	}

	e.logger.Info("scan engine started", slog.Any("scanners", names))
	defer func() {
		e.mu.Lock()
		e.closeChannelsLocked()
		e.mu.Unlock()
		e.logger.Info("scan engine stopped")
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			return e.runScanner(gctx, name)
		})
	}
	g.Go(func() error {
		return e.dispatchLoop(gctx, updates)
	})
	return g.Wait()
}

// dispatchLoop turns bus announcements into scanner updates.
func (e *Engine) dispatchLoop(ctx context.Context, updates <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-updates:
			if !ok {
				return domain.ErrWSDisconnect
			}

			var event intel.UpdateEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				e.logger.Warn("malformed intel announcement", slog.String("error", err.Error()))
				continue
			}
			e.dispatch(ctx, event.Symbol)
		}
	}
}

// dispatch loads the refreshed snapshot and fans it out to active scanners.
func (e *Engine) dispatch(ctx context.Context, symbol string) {
	bundle, err := e.cache.GetBundle(ctx, symbol)
	if err != nil {
		e.logger.Warn("bundle read failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return
	}

	var expanded *domain.ExpandedIntel
	if x, err := e.cache.GetExpandedIntel(ctx, symbol); err == nil {
		expanded = &x
	}

	regime := domain.RegimeNeutral
	if r, err := e.regimes.Current(ctx); err == nil {
		regime = r
	}

	now := time.Now().UTC()
	if bundle.Mark != nil {
		e.tracker.Track(symbol, *bundle.Mark, now)
	}

	update := IntelUpdate{Bundle: bundle, Intel: expanded, Regime: regime, At: now}

	e.mu.Lock()
	names := e.activeNames
	intelChs := e.intelChs
	markChs := e.markChs
	e.mu.Unlock()

	for _, name := range names {
		if ch, ok := intelChs[name]; ok {
			select {
			case ch <- update:
			case <-ctx.Done():
				return
			default:
				// Buffer full, skip this update for this scanner.
			}
		}
		if bundle.Mark != nil {
			if ch, ok := markChs[name]; ok {
				select {
				case ch <- MarkUpdate{Symbol: symbol, Mark: *bundle.Mark, At: now}:
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}
}

// runScanner runs a single scanner in a loop, reading from its channels and
// emitting candidates.
func (e *Engine) runScanner(ctx context.Context, name string) error {
	scanner, err := e.registry.Get(name)
	if err != nil {
		return err
	}
	if err := scanner.Init(ctx); err != nil {
		e.logger.Error("scanner init failed",
			slog.String("scanner", name),
			slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = scanner.Close() }()

	e.mu.Lock()
	intelCh := e.intelChs[name]
	markCh := e.markChs[name]
	e.mu.Unlock()
	if intelCh == nil || markCh == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-intelCh:
			if !ok {
				return nil
			}
			candidates, err := scanner.OnIntelUpdate(ctx, update)
			if err != nil {
				e.logger.Warn("scanner OnIntelUpdate error",
					slog.String("scanner", name),
					slog.String("error", err.Error()))
				continue
			}
			e.emit(ctx, candidates)
		case update, ok := <-markCh:
			if !ok {
				return nil
			}
			candidates, err := scanner.OnMarkUpdate(ctx, update)
			if err != nil {
				e.logger.Warn("scanner OnMarkUpdate error",
					slog.String("scanner", name),
					slog.String("error", err.Error()))
				continue
			}
			e.emit(ctx, candidates)
		}
	}
}

// emit sends each candidate to the candidates channel. It respects context
// cancellation.
func (e *Engine) emit(ctx context.Context, candidates []domain.EntryCandidate) {
	for i := range candidates {
		select {
		case <-ctx.Done():
			e.logger.Warn("context cancelled while emitting candidates",
				slog.Int("remaining", len(candidates)-i))
			return
		case e.candidateCh <- candidates[i]:
			e.remember(candidates[i])
			e.logger.Debug("candidate emitted",
				slog.String("candidate_id", candidates[i].ID),
				slog.String("source", candidates[i].Source),
				slog.String("symbol", candidates[i].Symbol),
				slog.Float64("score", candidates[i].Score))
		}
	}
}

func (e *Engine) remember(cand domain.EntryCandidate) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentCandidates = append(e.recentCandidates, cand)
	if overflow := len(e.recentCandidates) - e.recentLimit; overflow > 0 {
		e.recentCandidates = append([]domain.EntryCandidate(nil), e.recentCandidates[overflow:]...)
	}
}
