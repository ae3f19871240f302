package stream

import (
	"context"
	"time"

	"golang.org/x/exp/slog"
)

// SessionControl is the part of a Session a Scheduler drives.
type SessionControl interface {
	Running() bool
	Start(Handler)
	Stop(clearSubscriptions bool)
	Ledger() *Ledger
}

// TimeOfDay is a wall clock time in the scheduler's location.
type TimeOfDay struct {
	Hour, Minute, Second int
}

func (t TimeOfDay) seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// Scheduler starts and stops a streaming session around a daily time window,
// typically market hours. Out-of-window stops keep the ledger, so
// subscriptions survive to the next day; only an explicit user stop clears
// them.
type Scheduler struct {
	Session SessionControl
	Handler Handler

	Open  TimeOfDay // window open, e.g. TimeOfDay{9, 29, 0}
	Close TimeOfDay // window close, e.g. TimeOfDay{16, 0, 0}

	Days     []time.Weekday // defaults to Monday through Friday
	Location *time.Location // defaults to America/New_York

	Logger   *slog.Logger
	Interval time.Duration    // poll interval, defaults to 30 seconds
	Now      func() time.Time // test clock
}

// Run polls wall clock time until ctx is done, starting the session when the
// window opens and stopping it (ledger intact) when it closes.
func (s *Scheduler) Run(ctx context.Context) {
	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := s.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	loc := s.Location
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation("America/New_York"); err != nil {
			log.Warn("could not load America/New_York, scheduling in UTC", "err", err)
			loc = time.UTC
		}
	}
	days := s.Days
	if len(days) == 0 {
		days = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	}

	if !inWindow(now().In(loc), s.Open, s.Close, days) {
		log.Info("stream will start when the scheduled window opens")
	}

	for {
		t := now().In(loc)
		switch {
		case inWindow(t, s.Open, s.Close, days) && !s.Session.Running():
			if s.Session.Ledger().Empty() {
				log.Warn("no subscriptions recorded, starting stream anyway")
			}
			s.Session.Start(s.Handler)
		case !inWindow(t, s.Open, s.Close, days) && s.Session.Running():
			log.Info("stopping stream outside the scheduled window")
			s.Session.Stop(false)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func inWindow(t time.Time, open, close TimeOfDay, days []time.Weekday) bool {
	ok := false
	for _, d := range days {
		if t.Weekday() == d {
			ok = true
			break
		}
	}
	if !ok {
		return false
	}
	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	return open.seconds() <= secs && secs <= close.seconds()
}
