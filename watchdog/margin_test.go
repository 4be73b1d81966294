package watchdog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type marginFunc func(ctx context.Context) (float64, error)

func (f marginFunc) AvailableMargin(ctx context.Context) (float64, error) { return f(ctx) }

func fixedMargin(v float64) marginFunc {
	return func(ctx context.Context) (float64, error) { return v, nil }
}

func marginAt(ctrl Controller, source MarginSource, notifier *recordingNotifier, clock time.Time) *Margin {
	w := NewMargin(ctrl, source, notifier, nil, 200000, 150000, time.Second, time.UTC)
	w.now = func() time.Time { return clock }
	return w
}

// recordingNotifier for watchdogs; mirrors the session test helper.
type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(message string) { n.messages = append(n.messages, message) }

func TestMarginForcesStopAtExitThreshold(t *testing.T) {
	ctrl := &fakeController{running: true}
	notifier := &recordingNotifier{}
	w := marginAt(ctrl, fixedMargin(149999), notifier, time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC))

	w.check()
	reasons := ctrl.stopReasons()
	if len(reasons) != 1 {
		t.Fatalf("got %d stops, want 1", len(reasons))
	}
	if !strings.Contains(reasons[0], "margin") || !strings.Contains(reasons[0], "149999") {
		t.Fatalf("stop reason = %q, want margin value included", reasons[0])
	}
	if len(notifier.messages) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notifier.messages))
	}
}

func TestMarginStopFiresOncePerDay(t *testing.T) {
	ctrl := &fakeController{running: true}
	w := marginAt(ctrl, fixedMargin(100000), &recordingNotifier{}, time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC))

	w.check()
	ctrl.reset()
	w.check()
	if got := len(ctrl.stopReasons()); got != 1 {
		t.Fatalf("got %d stops, want 1 (once per day)", got)
	}

	// A new calendar day clears the fired record.
	ctrl.reset()
	w.now = func() time.Time { return time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC) }
	w.check()
	if got := len(ctrl.stopReasons()); got != 2 {
		t.Fatalf("got %d stops, want 2 after the date rolled over", got)
	}
}

func TestMarginAlertBandNotifiesWithoutStop(t *testing.T) {
	ctrl := &fakeController{running: true}
	notifier := &recordingNotifier{}
	w := marginAt(ctrl, fixedMargin(180000), notifier, time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC))

	w.check()
	w.check()
	if len(ctrl.stopReasons()) != 0 {
		t.Fatal("alert band must not stop trading")
	}
	if got := len(notifier.messages); got != 1 {
		t.Fatalf("got %d alert notifications, want 1 (debounced)", got)
	}
	if !strings.Contains(notifier.messages[0], "margin low") {
		t.Fatalf("alert message = %q", notifier.messages[0])
	}
}

func TestMarginAlertReArmsAfterRecovery(t *testing.T) {
	ctrl := &fakeController{running: true}
	notifier := &recordingNotifier{}
	level := 180000.0
	source := marginFunc(func(ctx context.Context) (float64, error) { return level, nil })
	w := marginAt(ctrl, source, notifier, time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC))

	w.check() // alert
	level = 250000
	w.check() // recovery resets the debounce
	level = 180000
	w.check() // alerts again
	if got := len(notifier.messages); got != 2 {
		t.Fatalf("got %d alert notifications, want 2", got)
	}
}

func TestMarginFetchFailureIsTolerated(t *testing.T) {
	ctrl := &fakeController{running: true}
	failing := marginFunc(func(ctx context.Context) (float64, error) {
		return 0, errors.New("limits endpoint down")
	})
	w := marginAt(ctrl, failing, &recordingNotifier{}, time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC))

	w.check()
	if len(ctrl.stopReasons()) != 0 {
		t.Fatal("fetch failure must not stop trading")
	}
	if !ctrl.Running() {
		t.Fatal("controller stopped on a fetch failure")
	}
}

func TestMarginIgnoresStoppedSession(t *testing.T) {
	ctrl := &fakeController{running: false}
	called := false
	source := marginFunc(func(ctx context.Context) (float64, error) {
		called = true
		return 0, nil
	})
	w := marginAt(ctrl, source, &recordingNotifier{}, time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC))

	w.check()
	if called {
		t.Fatal("margin fetched while session was stopped")
	}
}
