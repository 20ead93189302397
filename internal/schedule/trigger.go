// Package schedule models scheduled jobs and the triggers that fire them.
package schedule

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger computes when a job should fire next.
type Trigger interface {
	// Next returns the first fire time strictly after `after`, given the
	// previous run (zero if the job never ran). ok is false when the trigger
	// will never fire again.
	Next(after, lastRun time.Time) (next time.Time, ok bool)
	// Spec returns the canonical spec string the trigger was parsed from.
	Spec() string
	// OneShot reports whether the job is retired after its first run.
	OneShot() bool
}

// ParseTrigger parses a trigger spec:
//
//	cron:<min> <hour> <dom> <month> <dow>   (or the five fields bare)
//	every:<N>h[~<M>m]                      fixed interval with optional jitter
//	at:<RFC3339>                           one-shot
func ParseTrigger(spec string) (Trigger, error) {
	t, err := parseTrigger(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTrigger, err)
	}
	return t, nil
}

// ErrInvalidTrigger wraps every ParseTrigger failure.
var ErrInvalidTrigger = errors.New("invalid trigger")

func parseTrigger(spec string) (Trigger, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty trigger spec")
	}
	prefix, rest, found := strings.Cut(spec, ":")
	if !found || strings.ContainsAny(prefix, " *") {
		return parseCron(spec)
	}
	switch strings.ToLower(prefix) {
	case "cron":
		return parseCron(rest)
	case "every":
		return parseInterval(rest)
	case "at":
		return parseOnce(rest)
	}
	return nil, fmt.Errorf("unknown trigger kind %q", prefix)
}

// CronTrigger fires on a standard five-field cron expression.
type CronTrigger struct {
	expr  string
	sched cron.Schedule
}

func parseCron(expr string) (*CronTrigger, error) {
	expr = strings.Join(strings.Fields(expr), " ")
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return &CronTrigger{expr: expr, sched: sched}, nil
}

func (c *CronTrigger) Next(after, _ time.Time) (time.Time, bool) {
	next := c.sched.Next(after)
	return next, !next.IsZero()
}

func (c *CronTrigger) Spec() string  { return "cron:" + c.expr }
func (c *CronTrigger) OneShot() bool { return false }

var intervalRe = regexp.MustCompile(`^(\d+)h(?:~(\d+)m)?$`)

// IntervalTrigger fires every Every after the last run, shifted by a random
// jitter in [0, Jitter].
type IntervalTrigger struct {
	Every  time.Duration
	Jitter time.Duration
	rand   func(n int64) int64
}

// NewIntervalTrigger returns an interval trigger. hours must be positive.
func NewIntervalTrigger(hours, jitterMinutes int) (*IntervalTrigger, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("interval must be at least 1h, got %dh", hours)
	}
	if jitterMinutes < 0 {
		return nil, fmt.Errorf("jitter must not be negative, got %dm", jitterMinutes)
	}
	return &IntervalTrigger{
		Every:  time.Duration(hours) * time.Hour,
		Jitter: time.Duration(jitterMinutes) * time.Minute,
		rand:   rand.Int64N,
	}, nil
}

func parseInterval(s string) (*IntervalTrigger, error) {
	m := intervalRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return nil, fmt.Errorf("invalid interval %q, want <N>h or <N>h~<M>m", s)
	}
	hours, _ := strconv.Atoi(m[1])
	jitter := 0
	if m[2] != "" {
		jitter, _ = strconv.Atoi(m[2])
	}
	return NewIntervalTrigger(hours, jitter)
}

func (i *IntervalTrigger) Next(after, lastRun time.Time) (time.Time, bool) {
	base := after
	if !lastRun.IsZero() {
		base = lastRun
	}
	next := base.Add(i.Every)
	if i.Jitter > 0 {
		next = next.Add(time.Duration(i.rand(int64(i.Jitter) + 1)))
	}
	if !next.After(after) {
		// The last run is far enough in the past that the slot was missed;
		// fire once on the next tick rather than replaying every slot.
		next = after.Add(time.Second)
	}
	return next, true
}

func (i *IntervalTrigger) Spec() string {
	s := fmt.Sprintf("every:%dh", int(i.Every/time.Hour))
	if i.Jitter > 0 {
		s += fmt.Sprintf("~%dm", int(i.Jitter/time.Minute))
	}
	return s
}

func (i *IntervalTrigger) OneShot() bool { return false }

// OnceTrigger fires a single time at At.
type OnceTrigger struct {
	At time.Time
}

func parseOnce(s string) (*OnceTrigger, error) {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parsing one-shot time: %w", err)
	}
	return &OnceTrigger{At: at}, nil
}

func (o *OnceTrigger) Next(after, lastRun time.Time) (time.Time, bool) {
	if !lastRun.IsZero() && !lastRun.Before(o.At) {
		return time.Time{}, false
	}
	return o.At, true
}

func (o *OnceTrigger) Spec() string  { return "at:" + o.At.Format(time.RFC3339) }
func (o *OnceTrigger) OneShot() bool { return true }
