package watchdog

import (
	"context"
	"fmt"
	"time"

	"hedgegram/journal"
	"hedgegram/logs"
	"hedgegram/metrics"
	"hedgegram/notify"
)

// MarginSource reports funds currently available in the trading account.
type MarginSource interface {
	AvailableMargin(ctx context.Context) (float64, error)
}

// Margin force-stops trading when available margin falls to the exit
// threshold and raises a non-terminal alert inside the warning band.
// Fetch failures are logged and the loop continues to the next poll.
type Margin struct {
	ctrl     Controller
	source   MarginSource
	notifier notify.Notifier

	alertAt  float64
	exitAt   float64
	interval time.Duration
	loc      *time.Location
	now      func() time.Time

	trip    tripRecord
	alerted bool
}

// NewMargin builds the margin watchdog. alertAt must be above exitAt.
func NewMargin(ctrl Controller, source MarginSource, notifier notify.Notifier, j *journal.Journal,
	alertAt, exitAt float64, interval time.Duration, loc *time.Location) *Margin {
	if loc == nil {
		loc = time.Local
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Margin{
		ctrl:     ctrl,
		source:   source,
		notifier: notifier,
		alertAt:  alertAt,
		exitAt:   exitAt,
		interval: interval,
		loc:      loc,
		now:      time.Now,
		trip:     tripRecord{kind: journal.KindMarginTrip, journal: j},
	}
}

// Run polls until done is closed.
func (w *Margin) Run(done <-chan struct{}) {
	loop("margin", w.interval, done, w.check)
}

// check performs one evaluation. It only acts while trading is running.
func (w *Margin) check() {
	if !w.ctrl.Running() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.interval)
	margin, err := w.source.AvailableMargin(ctx)
	cancel()
	if err != nil {
		logs.Warnf("[Watchdog] Margin check failed, will retry next poll: %v", err)
		return
	}

	day := journal.DayKey(w.now().In(w.loc))
	switch {
	case margin <= w.exitAt:
		if w.trip.fired(day) {
			return
		}
		reason := fmt.Sprintf("margin critical: %.2f", margin)
		logs.Warnf("[Watchdog] %s, forcing stop.", reason)
		w.ctrl.Stop(reason)
		w.notifier.Notify(reason)
		w.trip.mark(day)
		metrics.WatchdogTrip("margin")

	case margin <= w.alertAt:
		if !w.alerted {
			logs.Warnf("[Watchdog] Margin low: %.2f (alert threshold %.2f).", margin, w.alertAt)
			w.notifier.Notify(fmt.Sprintf("margin low: %.2f", margin))
			w.alerted = true
		}

	default:
		w.alerted = false
	}
}
