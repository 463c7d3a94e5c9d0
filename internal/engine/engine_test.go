package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Andriy31193/aipatterner/internal/events"
	"github.com/Andriy31193/aipatterner/internal/policy"
	"github.com/Andriy31193/aipatterner/internal/store"
	"github.com/Andriy31193/aipatterner/internal/types"
)

func newEngine(st store.Store) *Engine {
	return New(st, policy.Default(), nil)
}

func testEvent(person, action string, at time.Time) *events.ActionEvent {
	ev := &events.ActionEvent{
		PersonID:   person,
		ActionType: action,
		Timestamp:  at,
		Type:       events.EventAction,
	}
	ev.Context.DayType = "weekday"
	ev.Context.TimeBucket = "evening"
	ev.Context.Location = "living_room"
	return ev
}

func TestIngestLearnsTransitionAndCandidate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := newEngine(st)
	at := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	res, err := e.IngestEvent(ctx, testEvent("anna", "sit_on_couch", at))
	if err != nil {
		t.Fatal(err)
	}
	if res.BucketKey != "weekday*evening*living_room" {
		t.Errorf("bucketKey = %q", res.BucketKey)
	}
	if res.TransitionID != "" || res.ReminderID != "" {
		t.Errorf("first event must not learn anything, got %+v", res)
	}

	res, err = e.IngestEvent(ctx, testEvent("anna", "play_music", at.Add(10*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if res.TransitionID == "" {
		t.Fatal("second event inside the session window must record a transition")
	}
	if res.ReminderID == "" {
		t.Fatal("a learned transition must seed a reminder candidate")
	}
	if res.Matched {
		t.Error("a freshly created candidate is not a match")
	}

	c, err := st.Reminders().GetByID(ctx, res.ReminderID)
	if err != nil {
		t.Fatal(err)
	}
	if c.TransitionID != res.TransitionID {
		t.Errorf("candidate transitionId = %q, want %q", c.TransitionID, res.TransitionID)
	}
}

func TestIngestMatchesOnRepeat(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := newEngine(st)
	at := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	var firstReminder string
	for day := 0; day < 3; day++ {
		d := at.AddDate(0, 0, day)
		if _, err := e.IngestEvent(ctx, testEvent("anna", "sit_on_couch", d)); err != nil {
			t.Fatal(err)
		}
		res, err := e.IngestEvent(ctx, testEvent("anna", "play_music", d.Add(10*time.Minute)))
		if err != nil {
			t.Fatal(err)
		}
		if day == 0 {
			firstReminder = res.ReminderID
			continue
		}
		if !res.Matched {
			t.Fatalf("day %d: repeat occurrence must match, got %+v", day, res)
		}
		if res.ReminderID != firstReminder {
			t.Errorf("day %d: matched %q, want the original candidate %q", day, res.ReminderID, firstReminder)
		}
	}

	all, err := st.Reminders().GetByPerson(ctx, "anna", types.ReminderActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("repeats must reinforce one candidate, got %d", len(all))
	}
}

func TestIngestValidates(t *testing.T) {
	ctx := context.Background()
	e := newEngine(store.NewMemory())

	if _, err := e.IngestEvent(ctx, nil); err == nil {
		t.Error("nil event must be rejected")
	}
	if _, err := e.IngestEvent(ctx, &events.ActionEvent{ActionType: "x"}); err == nil {
		t.Error("missing personId must be rejected")
	}
	if _, err := e.IngestEvent(ctx, &events.ActionEvent{PersonID: "anna"}); err == nil {
		t.Error("missing actionType must be rejected")
	}

	ev := &events.ActionEvent{PersonID: "anna", ActionType: "play_music"}
	res, err := e.IngestEvent(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if res.EventID == "" || ev.ID == "" {
		t.Error("missing event id must be filled in")
	}
	if ev.Timestamp.IsZero() {
		t.Error("missing timestamp must be filled in")
	}
}

func TestIngestConcurrentBurstSingleCandidate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := newEngine(st)
	at := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	hint := 0.1

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := testEvent("anna", "play_music", at.Add(time.Duration(i)*time.Second))
			ev.ProbabilityHint = &hint
			if _, err := e.IngestEvent(ctx, ev); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	all, err := st.Reminders().GetByPerson(ctx, "anna", types.ReminderActive)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("a serialized burst must converge on one candidate, got %d", len(all))
	}
	if all[0].EvidenceCount != 10 {
		t.Errorf("evidenceCount = %d, want 10", all[0].EvidenceCount)
	}
}

func TestFeedbackYes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := newEngine(st)
	at := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	if _, err := e.IngestEvent(ctx, testEvent("anna", "sit_on_couch", at)); err != nil {
		t.Fatal(err)
	}
	res, err := e.IngestEvent(ctx, testEvent("anna", "play_music", at.Add(10*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}

	before, err := st.Reminders().GetByID(ctx, res.ReminderID)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.HandleFeedback(ctx, Feedback{ReminderID: res.ReminderID, Answer: AnswerYes}); err != nil {
		t.Fatal(err)
	}
	after, err := st.Reminders().GetByID(ctx, res.ReminderID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Confidence <= before.Confidence {
		t.Errorf("yes must raise confidence: %g -> %g", before.Confidence, after.Confidence)
	}
	if after.EvidenceCount != before.EvidenceCount {
		t.Error("feedback is not an occurrence, evidence must not advance")
	}

	tr, err := st.Transitions().GetByID(ctx, res.TransitionID)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Confidence <= 0.5 {
		t.Errorf("yes must also reinforce the underlying transition, got %g", tr.Confidence)
	}
}

func TestFeedbackNoActivatesCooldown(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := newEngine(st)
	at := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	if _, err := e.IngestEvent(ctx, testEvent("anna", "sit_on_couch", at)); err != nil {
		t.Fatal(err)
	}
	res, err := e.IngestEvent(ctx, testEvent("anna", "play_music", at.Add(10*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.HandleFeedback(ctx, Feedback{ReminderID: res.ReminderID, Answer: AnswerNo}); err != nil {
		t.Fatal(err)
	}

	after, err := st.Reminders().GetByID(ctx, res.ReminderID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Confidence >= 0.5 {
		t.Errorf("no must lower confidence, got %g", after.Confidence)
	}

	// the next play_music event lands inside the cooldown window
	res2, err := e.IngestEvent(ctx, testEvent("anna", "play_music", time.Now().UTC()))
	if err != nil {
		t.Fatal(err)
	}
	if res2.Matched || res2.ReminderID != "" {
		t.Errorf("a suppressed action must neither match nor create, got %+v", res2)
	}
}

func TestFeedbackLaterIsNoop(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := newEngine(st)
	at := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	if _, err := e.IngestEvent(ctx, testEvent("anna", "sit_on_couch", at)); err != nil {
		t.Fatal(err)
	}
	res, err := e.IngestEvent(ctx, testEvent("anna", "play_music", at.Add(10*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.HandleFeedback(ctx, Feedback{ReminderID: res.ReminderID, Answer: AnswerLater}); err != nil {
		t.Fatal(err)
	}
	c, err := st.Reminders().GetByID(ctx, res.ReminderID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Confidence != 0.5 {
		t.Errorf("later must not move confidence, got %g", c.Confidence)
	}
}

func TestFeedbackOnRoutineReminder(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := newEngine(st)
	at := time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

	intent := testEvent("anna", "wake_up", at)
	intent.Type = events.EventStateChange
	if _, err := e.IngestEvent(ctx, intent); err != nil {
		t.Fatal(err)
	}
	res, err := e.IngestEvent(ctx, testEvent("anna", "start_coffee", at.Add(2*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if res.RoutineReminderID == "" {
		t.Fatal("an action inside the observation window must record a routine reminder")
	}

	if err := e.HandleFeedback(ctx, Feedback{ReminderID: res.RoutineReminderID, Answer: AnswerNo}); err != nil {
		t.Fatal(err)
	}
	rr, err := st.RoutineReminders().GetByID(ctx, res.RoutineReminderID)
	if err != nil {
		t.Fatal(err)
	}
	if rr.Confidence >= 0.5 {
		t.Errorf("no must lower routine reminder confidence, got %g", rr.Confidence)
	}

	active, err := st.Cooldowns().GetActive(ctx, "anna", "start_coffee", time.Now().UTC())
	if err != nil {
		t.Fatalf("routine feedback no must create a cooldown: %v", err)
	}
	if active == nil {
		t.Error("expected an active cooldown row")
	}
}

func TestPeopleAreIsolated(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	e := newEngine(st)
	at := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)

	if _, err := e.IngestEvent(ctx, testEvent("anna", "sit_on_couch", at)); err != nil {
		t.Fatal(err)
	}
	res, err := e.IngestEvent(ctx, testEvent("ben", "play_music", at.Add(5*time.Minute)))
	if err != nil {
		t.Fatal(err)
	}
	if res.TransitionID != "" {
		t.Error("events of different people must never chain into a transition")
	}
}
