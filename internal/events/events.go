// Package events defines the behavioral event types shared across the
// learning pipeline, kept free of dependencies to avoid import cycles
// between the ingest channels and the engine.
package events

import (
	"fmt"
	"time"
)

// EventType distinguishes a person doing something from the environment
// changing state.
type EventType string

const (
	EventAction      EventType = "action"
	EventStateChange EventType = "stateChange"
)

// SignalKind tags the variant carried by a SignalValue.
type SignalKind int

const (
	SignalUnknown SignalKind = iota
	SignalBool
	SignalNumber
	SignalText
)

// SignalValue is a tagged variant for raw sensor readings. Unknown values
// are representable so that unparseable payloads degrade instead of failing.
type SignalValue struct {
	Kind   SignalKind `json:"kind"`
	Bool   bool       `json:"bool,omitempty"`
	Number float64    `json:"number,omitempty"`
	Text   string     `json:"text,omitempty"`
}

// BoolSignal returns a boolean sensor value.
func BoolSignal(v bool) SignalValue { return SignalValue{Kind: SignalBool, Bool: v} }

// NumberSignal returns a numeric sensor value.
func NumberSignal(v float64) SignalValue { return SignalValue{Kind: SignalNumber, Number: v} }

// TextSignal returns an enumerated/string sensor value.
func TextSignal(v string) SignalValue { return SignalValue{Kind: SignalText, Text: v} }

// ParseSignal converts an untyped decoded value (typically from JSON) into a
// SignalValue. Values it cannot interpret come back as SignalUnknown; parsing
// never fails.
func ParseSignal(v any) SignalValue {
	switch x := v.(type) {
	case bool:
		return BoolSignal(x)
	case float64:
		return NumberSignal(x)
	case float32:
		return NumberSignal(float64(x))
	case int:
		return NumberSignal(float64(x))
	case int64:
		return NumberSignal(float64(x))
	case string:
		return TextSignal(x)
	default:
		return SignalValue{Kind: SignalUnknown}
	}
}

// String renders the value for logs and categorical comparison.
func (v SignalValue) String() string {
	switch v.Kind {
	case SignalBool:
		return fmt.Sprintf("%t", v.Bool)
	case SignalNumber:
		return fmt.Sprintf("%g", v.Number)
	case SignalText:
		return v.Text
	default:
		return ""
	}
}

// SignalState is one sensor reading attached to an event. Importance is an
// optional hint from the producer; nil means "use the default heuristic".
type SignalState struct {
	Value      SignalValue `json:"value"`
	Importance *float64    `json:"importance,omitempty"`
}

// EventContext captures the situational fields an event was observed in.
type EventContext struct {
	TimeBucket    string            `json:"timeBucket,omitempty"`
	DayType       string            `json:"dayType,omitempty"`
	Location      string            `json:"location,omitempty"`
	PresentPeople []string          `json:"presentPeople,omitempty"`
	StateSignals  map[string]string `json:"stateSignals,omitempty"`
}

// ActionEvent is an immutable, append-only record of one observed action or
// state change.
type ActionEvent struct {
	ID              string                 `json:"id"`
	PersonID        string                 `json:"personId"`
	ActionType      string                 `json:"actionType"`
	Timestamp       time.Time              `json:"timestampUtc"`
	Type            EventType              `json:"eventType"`
	Context         EventContext           `json:"context"`
	Signals         map[string]SignalState `json:"signalStates,omitempty"`
	ProbabilityHint *float64               `json:"probability,omitempty"`
	CustomData      map[string]string      `json:"customData,omitempty"`
}

// SamePeople reports whether two present-people sets are equal regardless of
// order. Used by the matching hard filters.
func SamePeople(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, p := range a {
		seen[p]++
	}
	for _, p := range b {
		seen[p]--
		if seen[p] < 0 {
			return false
		}
	}
	return true
}

// SameStateSignals reports exact map equality of the context state signals.
func SameStateSignals(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
