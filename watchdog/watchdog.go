// Package watchdog runs the autonomous safety monitors. Each watchdog is an
// independent always-on polling loop that only ever reads session state and
// calls Stop; it never mutates positions or the snapshot directly. A
// watchdog kind fires at most once per calendar day; fired days are recorded
// in the journal so a restart cannot re-trigger the same stop.
package watchdog

import (
	"time"

	"hedgegram/journal"
	"hedgegram/logs"
	"hedgegram/session"
)

// Controller is the slice of the session controller watchdogs consume.
type Controller interface {
	Running() bool
	Stop(reason string) session.StartStatus
}

// tripRecord enforces the once-per-calendar-day rule, backed by the journal
// when one is configured and by memory otherwise.
type tripRecord struct {
	kind    string
	journal *journal.Journal
	firedOn string
}

func (r *tripRecord) fired(day string) bool {
	if r.firedOn == day {
		return true
	}
	if r.journal != nil {
		fired, err := r.journal.Triggered(r.kind, day)
		if err != nil {
			logs.Warnf("[Watchdog] Trigger lookup failed for %s: %v", r.kind, err)
			return false
		}
		if fired {
			r.firedOn = day
		}
		return fired
	}
	return false
}

func (r *tripRecord) mark(day string) {
	r.firedOn = day
	if r.journal != nil {
		if err := r.journal.MarkTriggered(r.kind, day); err != nil {
			logs.Warnf("[Watchdog] Trigger record failed for %s: %v", r.kind, err)
		}
	}
}

// loop drives a watchdog step on a fixed interval until done is closed.
func loop(name string, interval time.Duration, done <-chan struct{}, step func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logs.Infof("[Watchdog] %s watchdog started (interval %s).", name, interval)
	for {
		select {
		case <-done:
			logs.Infof("[Watchdog] %s watchdog stopped.", name)
			return
		case <-ticker.C:
			step()
		}
	}
}
