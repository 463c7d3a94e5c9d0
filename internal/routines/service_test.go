package routines

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Andriy31193/aipatterner/internal/events"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/store"
)

func stateChange(person, intent, bucket string, at time.Time) *events.ActionEvent {
	ev := &events.ActionEvent{
		ID:         intent + "@" + at.Format(time.RFC3339),
		PersonID:   person,
		ActionType: intent,
		Timestamp:  at,
		Type:       events.EventStateChange,
	}
	ev.Context.TimeBucket = bucket
	return ev
}

func action(person, actionType string, at time.Time) *events.ActionEvent {
	return &events.ActionEvent{
		ID:         actionType + "@" + at.Format(time.RFC3339),
		PersonID:   person,
		ActionType: actionType,
		Timestamp:  at,
		Type:       events.EventAction,
	}
}

func newService(st *store.Memory) *Service {
	return NewService(st.Routines(), st.RoutineReminders(), policy.Default(), nil)
}

func TestStateChangeOpensWindow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st)
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	if _, err := svc.HandleEvent(ctx, stateChange("anna", "wake_up", "morning", at)); err != nil {
		t.Fatal(err)
	}
	r, err := st.Routines().GetByPersonAndIntent(ctx, "anna", "wake_up")
	if err != nil {
		t.Fatal(err)
	}
	if r.WindowStart == nil || !r.WindowStart.Equal(at) {
		t.Errorf("windowStart = %v, want %v", r.WindowStart, at)
	}
	if r.WindowEnd == nil || !r.WindowEnd.Equal(at.Add(45*time.Minute)) {
		t.Errorf("windowEnd = %v, want start + 45m", r.WindowEnd)
	}
	if r.WindowBucket != "morning" {
		t.Errorf("windowBucket = %q, want morning", r.WindowBucket)
	}
}

func TestNewWindowClosesOtherIntents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st)
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	if _, err := svc.HandleEvent(ctx, stateChange("anna", "wake_up", "morning", at)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.HandleEvent(ctx, stateChange("anna", "arrive_home", "evening", at.Add(10*time.Minute))); err != nil {
		t.Fatal(err)
	}

	wake, err := st.Routines().GetByPersonAndIntent(ctx, "anna", "wake_up")
	if err != nil {
		t.Fatal(err)
	}
	if wake.WindowStart != nil {
		t.Error("opening a second intent's window must close the first")
	}
	home, err := st.Routines().GetByPersonAndIntent(ctx, "anna", "arrive_home")
	if err != nil {
		t.Fatal(err)
	}
	if home.WindowStart == nil {
		t.Error("the newly opened window must stay open")
	}
}

func TestWindowsAreIsolatedPerPerson(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st)
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	if _, err := svc.HandleEvent(ctx, stateChange("anna", "wake_up", "morning", at)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.HandleEvent(ctx, stateChange("ben", "arrive_home", "evening", at.Add(time.Minute))); err != nil {
		t.Fatal(err)
	}
	anna, err := st.Routines().GetByPersonAndIntent(ctx, "anna", "wake_up")
	if err != nil {
		t.Fatal(err)
	}
	if anna.WindowStart == nil {
		t.Error("another person's window must not close this one")
	}
}

func TestActionInsideWindowRecordsDelay(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st)
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	if _, err := svc.HandleEvent(ctx, stateChange("anna", "wake_up", "morning", at)); err != nil {
		t.Fatal(err)
	}
	rem, err := svc.HandleEvent(ctx, action("anna", "start_coffee", at.Add(2*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if rem == nil {
		t.Fatal("action inside the window must yield a reminder")
	}
	if len(rem.Delays) != 1 || rem.Delays[0].Seconds != 120 {
		t.Errorf("delays = %+v, want one 120s sample", rem.Delays)
	}
	if rem.Delays[0].IsOutlier {
		t.Error("the first sample can never be an outlier")
	}
	if rem.MedianDelaySeconds != 120 {
		t.Errorf("median = %g, want 120", rem.MedianDelaySeconds)
	}
	if rem.Confidence != 0.5 {
		t.Errorf("confidence = %g, want default 0.5", rem.Confidence)
	}
}

func TestRepeatedActionAccumulatesSamples(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st)
	base := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	delays := []time.Duration{2 * time.Minute, 130 * time.Second, 30 * time.Minute}
	var last float64
	for day, d := range delays {
		at := base.AddDate(0, 0, day)
		if _, err := svc.HandleEvent(ctx, stateChange("anna", "wake_up", "morning", at)); err != nil {
			t.Fatal(err)
		}
		rem, err := svc.HandleEvent(ctx, action("anna", "start_coffee", at.Add(d)))
		if err != nil {
			t.Fatal(err)
		}
		last = rem.MedianDelaySeconds
		if day == 2 {
			if !rem.Delays[2].IsOutlier {
				t.Error("a 30 minute delay against a ~2 minute history must be flagged as outlier")
			}
			if rem.ObservationCount != 3 {
				t.Errorf("observationCount = %d, want 3", rem.ObservationCount)
			}
		}
	}
	// outliers stay in the list, the median absorbs them
	if last != 130 {
		t.Errorf("median = %g, want 130 over {120,130,1800}", last)
	}
}

func TestActionAfterWindowEndClosesWithoutRecording(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st)
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	if _, err := svc.HandleEvent(ctx, stateChange("anna", "wake_up", "morning", at)); err != nil {
		t.Fatal(err)
	}
	rem, err := svc.HandleEvent(ctx, action("anna", "start_coffee", at.Add(46*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if rem != nil {
		t.Error("an event past the window end must not record a sample")
	}
	r, err := st.Routines().GetByPersonAndIntent(ctx, "anna", "wake_up")
	if err != nil {
		t.Fatal(err)
	}
	if r.WindowStart != nil {
		t.Error("the late event must close the window")
	}
}

func TestActionWithoutWindowIsIgnored(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st)

	rem, err := svc.HandleEvent(ctx, action("anna", "start_coffee", time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if rem != nil {
		t.Error("no open window means no reminder")
	}
}

func TestHandleFeedbackClamps(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	svc := newService(st)
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	if _, err := svc.HandleEvent(ctx, stateChange("anna", "wake_up", "morning", at)); err != nil {
		t.Fatal(err)
	}
	rem, err := svc.HandleEvent(ctx, action("anna", "start_coffee", at.Add(time.Minute)))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if err := svc.HandleFeedback(ctx, rem.ID, true, 0.2, at.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	got, err := st.RoutineReminders().GetByID(ctx, rem.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Confidence != 1.0 {
		t.Errorf("confidence = %g, want clamp at 1.0", got.Confidence)
	}

	for i := 0; i < 10; i++ {
		if err := svc.HandleFeedback(ctx, rem.ID, false, 0.3, at.Add(time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	got, err = st.RoutineReminders().GetByID(ctx, rem.ID)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got.Confidence) > 1e-9 {
		t.Errorf("confidence = %g, want clamp at 0", got.Confidence)
	}
}
