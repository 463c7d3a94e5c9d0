// Package signals implements sensor selection, normalization, similarity
// scoring, and the EMA-maintained signal profiles used by reminder matching.
package signals

import (
	"sort"
	"time"

	"github.com/Andriy31193/aipatterner/internal/events"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/types"
)

// Default importance when the producer gives no hint. Booleans carry the
// most information per reading, free-form strings the least.
const (
	importanceBool    = 1.0
	importanceNumber  = 0.8
	importanceText    = 0.6
	importanceUnknown = 0.1
)

// Selected is one incoming sensor reading after selection and normalization.
type Selected struct {
	SensorID   string
	Kind       events.SignalKind
	Normalized float64
	Reference  string
	Importance float64
}

// Selector picks the top-K most important readings from an event and
// normalizes each by its variant. It never fails: readings it cannot
// interpret are kept with minimal importance and zero similarity potential.
type Selector struct {
	pol policy.Snapshot
}

// NewSelector returns a Selector bound to the given policy snapshot.
func NewSelector(pol policy.Snapshot) Selector {
	return Selector{pol: pol}
}

// Select normalizes and ranks the event's raw signal states, keeping at most
// the configured selection limit. Explicit importance hints take precedence
// over the kind heuristic. Ordering is deterministic: importance descending,
// then sensor id.
func (s Selector) Select(states map[string]events.SignalState) []Selected {
	if len(states) == 0 {
		return nil
	}
	out := make([]Selected, 0, len(states))
	for id, st := range states {
		sel := Selected{
			SensorID:   id,
			Kind:       st.Value.Kind,
			Importance: defaultImportance(st.Value.Kind),
		}
		if st.Importance != nil {
			sel.Importance = types.Clamp01(*st.Importance)
		}
		switch st.Value.Kind {
		case events.SignalBool:
			if st.Value.Bool {
				sel.Normalized = 1
			}
		case events.SignalNumber:
			min, max := s.pol.SignalRange(id)
			sel.Normalized = types.Clamp01((st.Value.Number - min) / (max - min))
		case events.SignalText:
			sel.Reference = st.Value.Text
		}
		out = append(out, sel)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].SensorID < out[j].SensorID
	})
	if limit := s.pol.Signals.SelectionLimit; limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func defaultImportance(kind events.SignalKind) float64 {
	switch kind {
	case events.SignalBool:
		return importanceBool
	case events.SignalNumber:
		return importanceNumber
	case events.SignalText:
		return importanceText
	default:
		return importanceUnknown
	}
}

// Score computes the weighted similarity between a baseline profile and the
// selected incoming readings. Per sensor: exact match scores 1 for boolean
// and categorical values, numeric values score 1−|Δ| over the normalized
// range, and anything missing or unknown scores 0. Sensor weights from the
// baseline normalize the mean.
func Score(baseline *types.SignalProfile, incoming []Selected) float64 {
	if baseline == nil || len(baseline.Sensors) == 0 {
		return 0
	}
	byID := make(map[string]Selected, len(incoming))
	for _, sel := range incoming {
		byID[sel.SensorID] = sel
	}
	var weightSum, scoreSum float64
	for id, entry := range baseline.Sensors {
		w := entry.Weight
		if w <= 0 {
			continue
		}
		weightSum += w
		sel, ok := byID[id]
		if !ok {
			continue
		}
		scoreSum += w * sensorSimilarity(entry, sel)
	}
	if weightSum == 0 {
		return 0
	}
	return types.Clamp01(scoreSum / weightSum)
}

func sensorSimilarity(entry types.SignalBaseline, sel Selected) float64 {
	switch sel.Kind {
	case events.SignalBool:
		// the EMA drifts the stored value between 0 and 1; round before
		// the exact-match comparison
		if entry.Reference == "" && (entry.Normalized >= 0.5) == (sel.Normalized >= 0.5) {
			return 1
		}
		return 0
	case events.SignalNumber:
		d := entry.Normalized - sel.Normalized
		if d < 0 {
			d = -d
		}
		return types.Clamp01(1 - d)
	case events.SignalText:
		if entry.Reference != "" && entry.Reference == sel.Reference {
			return 1
		}
		return 0
	default:
		// unreadable values degrade, they never error
		return 0
	}
}

// Policy gates a match on the similarity threshold. The gate only applies
// once a baseline exists; a missing baseline is a cold start, not a failure.
type Policy struct {
	Threshold float64
}

// NewPolicy returns the gate for the given policy snapshot.
func NewPolicy(pol policy.Snapshot) Policy {
	return Policy{Threshold: pol.Signals.SimilarityThreshold}
}

// Accepts reports whether a candidate with the given baseline accepts the
// incoming readings.
func (p Policy) Accepts(baseline *types.SignalProfile, incoming []Selected) bool {
	if baseline == nil || len(baseline.Sensors) == 0 {
		return true
	}
	return Score(baseline, incoming) >= p.Threshold
}

// UpdateProfile folds accepted readings into the baseline via EMA, creating
// it on first use. New sensors are admitted only while the profile is below
// the selection limit; weights and normalized values of known sensors move
// by alpha toward the incoming reading.
func UpdateProfile(baseline *types.SignalProfile, incoming []Selected, alpha float64, limit int, now time.Time) *types.SignalProfile {
	if baseline == nil {
		baseline = &types.SignalProfile{Sensors: map[string]types.SignalBaseline{}}
	}
	if baseline.Sensors == nil {
		baseline.Sensors = map[string]types.SignalBaseline{}
	}
	for _, sel := range incoming {
		entry, ok := baseline.Sensors[sel.SensorID]
		if !ok {
			if limit > 0 && len(baseline.Sensors) >= limit {
				continue
			}
			baseline.Sensors[sel.SensorID] = types.SignalBaseline{
				Weight:     sel.Importance,
				Normalized: sel.Normalized,
				Reference:  sel.Reference,
			}
			continue
		}
		entry.Weight += alpha * (sel.Importance - entry.Weight)
		entry.Normalized += alpha * (sel.Normalized - entry.Normalized)
		if sel.Kind == events.SignalText && sel.Reference != "" {
			entry.Reference = sel.Reference
		}
		baseline.Sensors[sel.SensorID] = entry
	}
	baseline.SampleCount++
	baseline.LastUpdated = now
	return baseline
}
