package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		spec     string
		wantSpec string
		wantErr  bool
	}{
		{"0 9 * * 1", "cron:0 9 * * 1", false},
		{"cron:30  8 * * *", "cron:30 8 * * *", false},
		{"every:6h", "every:6h", false},
		{"every:4h~15m", "every:4h~15m", false},
		{"at:2026-11-01T09:00:00Z", "at:2026-11-01T09:00:00Z", false},
		{"every:0h", "", true},
		{"every:daily", "", true},
		{"at:tomorrow", "", true},
		{"61 * * * *", "", true},
		{"weekly:1", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		trig, err := ParseTrigger(tt.spec)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTrigger(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidTrigger) {
			t.Errorf("ParseTrigger(%q) error %v does not wrap ErrInvalidTrigger", tt.spec, err)
		}
		if err == nil && trig.Spec() != tt.wantSpec {
			t.Errorf("ParseTrigger(%q).Spec() = %q, want %q", tt.spec, trig.Spec(), tt.wantSpec)
		}
	}
}

func TestCronNext(t *testing.T) {
	trig, err := ParseTrigger("0 9 * * *")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	next, ok := trig.Next(now, time.Time{})
	want := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	if !ok || !next.Equal(want) {
		t.Errorf("Next = %v ok=%v, want %v", next, ok, want)
	}
}

func TestIntervalNextWithJitter(t *testing.T) {
	trig, err := NewIntervalTrigger(4, 30)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 50; i++ {
		next, ok := trig.Next(now, now)
		if !ok {
			t.Fatal("interval trigger exhausted")
		}
		if next.Before(now.Add(4*time.Hour)) || next.After(now.Add(4*time.Hour+30*time.Minute)) {
			t.Fatalf("next %v outside jitter window", next)
		}
	}
}

func TestIntervalMissedSlotFiresOnce(t *testing.T) {
	trig, _ := NewIntervalTrigger(1, 0)
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	last := now.Add(-10 * time.Hour)
	next, _ := trig.Next(now, last)
	if !next.After(now) || next.Sub(now) > time.Minute {
		t.Errorf("missed interval next = %v, want shortly after %v", next, now)
	}
}

func TestOnceTrigger(t *testing.T) {
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	trig, err := ParseTrigger("at:" + at.Format(time.RFC3339))
	if err != nil {
		t.Fatal(err)
	}
	if !trig.OneShot() {
		t.Error("at: trigger should be one-shot")
	}
	next, ok := trig.Next(at.Add(time.Hour), time.Time{})
	if !ok || !next.Equal(at) {
		t.Errorf("missed one-shot should still be due: next=%v ok=%v", next, ok)
	}
	if _, ok := trig.Next(at.Add(time.Hour), at.Add(time.Minute)); ok {
		t.Error("one-shot fired again after running")
	}
}

func TestJobID(t *testing.T) {
	tests := map[string]string{
		"AI Ethics":           "post_ai_ethics",
		"  quantum computing": "post_quantum_computing",
		"C++ / Rust!":         "post_c_rust",
		"":                    RotationJobID,
		"Rotation":            "post_rotation",
	}
	for in, want := range tests {
		if got := JobID(in); got != want {
			t.Errorf("JobID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTableStoreRoundTrip(t *testing.T) {
	store := NewTableStore(t.TempDir())
	jobs, err := store.Load()
	if err != nil || len(jobs) != 0 {
		t.Fatalf("empty Load: %v %v", jobs, err)
	}

	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	in := []Job{
		{ID: "post_b", Topic: "b", Trigger: "every:6h", Status: Paused, PauseReason: "auth", CreatedAt: now},
		{ID: "post_a", Topic: "a", Trigger: "cron:0 9 * * *", Status: Active, NextRun: now, CreatedAt: now},
		{ID: "post_gone", Topic: "gone", Trigger: "every:1h", Status: Removed},
	}
	if err := store.Save(in); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "post_a" || got[1].PauseReason != "auth" {
		t.Errorf("Load = %+v", got)
	}
	if !got[0].NextRun.Equal(now) {
		t.Errorf("NextRun = %v, want %v", got[0].NextRun, now)
	}
}
