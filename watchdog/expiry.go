package watchdog

import (
	"fmt"
	"time"

	"hedgegram/journal"
	"hedgegram/logs"
	"hedgegram/metrics"
	"hedgegram/notify"
)

// Expiry force-stops trading at a fixed local cutoff time on the contract
// expiry day: the last occurrence of the configured weekday in the current
// month. It fires at most once per calendar day; the fired flag clears at
// local midnight because trigger records are keyed by date.
type Expiry struct {
	ctrl     Controller
	notifier notify.Notifier

	weekday      time.Weekday
	cutoffHour   int
	cutoffMinute int
	interval     time.Duration
	loc          *time.Location
	now          func() time.Time

	trip tripRecord
}

// NewExpiry builds the expiry watchdog.
func NewExpiry(ctrl Controller, notifier notify.Notifier, j *journal.Journal,
	weekday time.Weekday, cutoffHour, cutoffMinute int, interval time.Duration, loc *time.Location) *Expiry {
	if loc == nil {
		loc = time.Local
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Expiry{
		ctrl:         ctrl,
		notifier:     notifier,
		weekday:      weekday,
		cutoffHour:   cutoffHour,
		cutoffMinute: cutoffMinute,
		interval:     interval,
		loc:          loc,
		now:          time.Now,
		trip:         tripRecord{kind: journal.KindExpiryTrip, journal: j},
	}
}

// Run polls until done is closed.
func (w *Expiry) Run(done <-chan struct{}) {
	loop("expiry", w.interval, done, w.check)
}

// check performs one evaluation against the local clock.
func (w *Expiry) check() {
	if !w.ctrl.Running() {
		return
	}

	now := w.now().In(w.loc)
	if !w.isExpiryDay(now) {
		return
	}
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), w.cutoffHour, w.cutoffMinute, 0, 0, w.loc)
	if now.Before(cutoff) {
		return
	}

	day := journal.DayKey(now)
	if w.trip.fired(day) {
		return
	}

	reason := fmt.Sprintf("expiry day force exit at %02d:%02d", w.cutoffHour, w.cutoffMinute)
	logs.Warnf("[Watchdog] %s, forcing stop.", reason)
	w.ctrl.Stop(reason)
	w.notifier.Notify(reason)
	w.trip.mark(day)
	metrics.WatchdogTrip("expiry")
}

func (w *Expiry) isExpiryDay(now time.Time) bool {
	expiry := LastWeekday(now.Year(), now.Month(), w.weekday, w.loc)
	return now.Year() == expiry.Year() && now.Month() == expiry.Month() && now.Day() == expiry.Day()
}

// LastWeekday returns the date of the last occurrence of the given weekday
// in year/month.
func LastWeekday(year int, month time.Month, weekday time.Weekday, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, loc)
	last := firstOfNext.AddDate(0, 0, -1)
	offset := (int(last.Weekday()) - int(weekday) + 7) % 7
	return last.AddDate(0, 0, -offset)
}
