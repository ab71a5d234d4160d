package journal

import (
	"time"

	"github.com/alanyoungcy/flowbot/internal/domain"
	"github.com/alanyoungcy/flowbot/internal/learner"
)

// EntryRecord builds the attribution line for an opened position: symbol,
// score, per-factor contributions, regime, and the decision identifiers.
func EntryRecord(cand domain.EntryCandidate, positionID string, at time.Time) domain.JournalRecord {
	return domain.JournalRecord{
		Type:   domain.JournalTypeEntry,
		At:     at,
		Symbol: cand.Symbol,
		Data: map[string]any{
			"candidate_id": cand.ID,
			"position_id":  positionID,
			"source":       cand.Source,
			"side":         cand.Side,
			"score":        cand.Score,
			"components":   cand.Components,
			"freshness":    cand.Freshness,
			"regime":       cand.Regime,
			"ref_price":    cand.RefPrice,
			"size":         cand.Size,
			"reason":       cand.Reason,
		},
	}
}

// ExitRecord builds the attribution line for a closed position.
func ExitRecord(outcome domain.TradeOutcome) domain.JournalRecord {
	return domain.JournalRecord{
		Type:   domain.JournalTypeExit,
		At:     outcome.ClosedAt,
		Symbol: outcome.Symbol,
		Data: map[string]any{
			"outcome_id":       outcome.ID,
			"position_id":      outcome.PositionID,
			"side":             outcome.Side,
			"regime":           outcome.Regime,
			"entry_score":      outcome.EntryScore,
			"exit_score":       outcome.ExitScore,
			"entry_components": outcome.EntryComponents,
			"realized_pnl_pct": outcome.RealizedPnLPct,
			"close_reason":     outcome.CloseReason,
			"opened_at":        outcome.OpenedAt,
		},
	}
}

// DecisionRecord builds the line for a pipeline decision that did not open a
// position: rejections, displacement denials, reduce/exit actions.
func DecisionRecord(symbol, decision, reason string, detail map[string]any, at time.Time) domain.JournalRecord {
	data := map[string]any{
		"decision": decision,
		"reason":   reason,
	}
	for k, v := range detail {
		data[k] = v
	}
	return domain.JournalRecord{
		Type:   domain.JournalTypeDecision,
		At:     at,
		Symbol: symbol,
		Data:   data,
	}
}

// WeightUpdateRecord builds the line for one learner update pass:
// before/after multipliers and sample counts per adjusted band.
func WeightUpdateRecord(res learner.UpdateResult, at time.Time) domain.JournalRecord {
	adjustments := make([]map[string]any, 0, len(res.Adjustments))
	for _, adj := range res.Adjustments {
		adjustments = append(adjustments, map[string]any{
			"key":           adj.Key.String(),
			"action":        adj.Action,
			"before":        adj.Before,
			"after":         adj.After,
			"sample_count":  adj.SampleCount,
			"wilson_lower":  adj.WilsonLower,
			"wilson_upper":  adj.WilsonUpper,
			"ewma_win_rate": adj.EWMAWinRate,
			"ewma_pnl":      adj.EWMAPnL,
		})
	}
	return domain.JournalRecord{
		Type: domain.JournalTypeWeightUpdate,
		At:   at,
		Data: map[string]any{
			"adjusted_count":       res.AdjustedCount,
			"skipped_insufficient": res.SkippedInsufficient,
			"adjustments":          adjustments,
		},
	}
}
