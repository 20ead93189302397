package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/autopost/internal/content"
)

type fakeGatherer struct {
	docs []content.SourceDoc
	err  error
}

func (f *fakeGatherer) Gather(_ context.Context, _ string, _ int) ([]content.SourceDoc, error) {
	return f.docs, f.err
}

type fakeSynth struct {
	artifact *content.Artifact
	err      error
	gotSrc   int
}

func (f *fakeSynth) Synthesize(_ context.Context, sources []content.SourceDoc, topic string, kind content.Kind) (*content.Artifact, error) {
	f.gotSrc = len(sources)
	if f.err != nil {
		return nil, f.err
	}
	if f.artifact != nil {
		return f.artifact, nil
	}
	return &content.Artifact{Kind: kind, BodyText: "About " + topic, Hashtags: []string{"#ai"}}, nil
}

type fakeEnhancer struct {
	err error
}

func (f *fakeEnhancer) Enhance(_ context.Context, a *content.Artifact, _ string, _ []content.SourceDoc) (*content.Artifact, error) {
	if f.err != nil {
		return nil, f.err
	}
	a.Insights = append(a.Insights, "enhanced")
	return a, nil
}

type fakePublisher struct {
	err       error
	published []*content.Artifact
	entered   chan struct{}
	block     chan struct{}
}

func (f *fakePublisher) Publish(_ context.Context, a *content.Artifact) (string, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, a)
	return "urn:li:share:1", nil
}

type recordingSpy struct {
	runs []*Run
}

func (r *recordingSpy) Record(_ context.Context, run *Run) error {
	r.runs = append(r.runs, run)
	return nil
}

func docs(n int) []content.SourceDoc {
	out := make([]content.SourceDoc, n)
	for i := range out {
		out[i] = content.SourceDoc{Title: "doc", URL: "https://example.com"}
	}
	return out
}

func TestEmptySourcesAndSynthesisErrorStillPublish(t *testing.T) {
	pub := &fakePublisher{}
	synth := &fakeSynth{err: &content.SynthesisError{Kind: content.Article, Topic: "quantum computing", Err: errors.New("llm down")}}
	r := NewRunner(&fakeGatherer{}, synth, pub)

	rec := &recordingSpy{}
	run := r.Execute(context.Background(), Request{JobID: "post_quantum_computing", Topic: "quantum computing", ContentType: content.Article}, rec)

	if run.Outcome != Success {
		t.Fatalf("outcome = %s, want success", run.Outcome)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published %d artifacts, want 1", len(pub.published))
	}
	a := pub.published[0]
	if !a.Fallback || !strings.Contains(a.BodyText, "quantum computing") {
		t.Errorf("published artifact = %+v, want fallback mentioning topic", a)
	}
	if _, ok := run.StageErrors[Synthesizing]; !ok {
		t.Error("synthesis error not recorded")
	}
	if len(rec.runs) != 1 || run.State != Completed {
		t.Errorf("recorded %d runs, state %s", len(rec.runs), run.State)
	}
}

func TestGatherErrorIsPartialSuccess(t *testing.T) {
	synth := &fakeSynth{}
	r := NewRunner(&fakeGatherer{err: errors.New("all backends down")}, synth, &fakePublisher{})
	run := r.Execute(context.Background(), Request{Topic: "ai", ContentType: content.Article}, nil)

	if run.Outcome != PartialSuccess {
		t.Errorf("outcome = %s, want partial_success", run.Outcome)
	}
	if synth.gotSrc != 0 {
		t.Errorf("synthesizer got %d sources, want 0", synth.gotSrc)
	}
	if !run.Published() {
		t.Error("partial success should count as published")
	}
}

func TestSourcesCappedAtMax(t *testing.T) {
	synth := &fakeSynth{}
	r := NewRunner(&fakeGatherer{docs: docs(9)}, synth, &fakePublisher{}, WithMaxSources(3))
	run := r.Execute(context.Background(), Request{Topic: "ai", ContentType: content.Article}, nil)
	if len(run.Sources) != 3 || synth.gotSrc != 3 {
		t.Errorf("sources = %d, synth saw %d, want 3", len(run.Sources), synth.gotSrc)
	}
}

func TestInvalidArtifactFallsBack(t *testing.T) {
	synth := &fakeSynth{artifact: &content.Artifact{Kind: content.Chart, BodyText: "no chart spec"}}
	pub := &fakePublisher{}
	r := NewRunner(&fakeGatherer{}, synth, pub)
	run := r.Execute(context.Background(), Request{Topic: "ai", ContentType: content.Chart}, nil)

	if run.Outcome != Success {
		t.Fatalf("outcome = %s", run.Outcome)
	}
	if !pub.published[0].Fallback || pub.published[0].Chart == nil {
		t.Errorf("expected chart fallback, got %+v", pub.published[0])
	}
	var se *content.SynthesisError
	if !errors.As(run.StageErrors[Synthesizing], &se) {
		t.Errorf("stage error = %v, want SynthesisError", run.StageErrors[Synthesizing])
	}
}

func TestEnhancerFailureKeepsArtifact(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRunner(&fakeGatherer{docs: docs(1)}, &fakeSynth{}, pub, WithEnhancer(&fakeEnhancer{err: errors.New("503")}))
	run := r.Execute(context.Background(), Request{Topic: "ai", ContentType: content.Article}, nil)

	if run.Outcome != Success {
		t.Errorf("outcome = %s, want success", run.Outcome)
	}
	if len(run.Warnings) != 1 {
		t.Errorf("warnings = %v", run.Warnings)
	}
	if len(pub.published[0].Insights) != 0 {
		t.Error("failed enhancement leaked into artifact")
	}
}

func TestEnhancerSuccessReplacesArtifact(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRunner(&fakeGatherer{}, &fakeSynth{}, pub, WithEnhancer(&fakeEnhancer{}))
	r.Execute(context.Background(), Request{Topic: "ai", ContentType: content.Article}, nil)
	if got := pub.published[0].Insights; len(got) != 1 || got[0] != "enhanced" {
		t.Errorf("insights = %v", got)
	}
}

func TestPublishFailureClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"auth", &PublishError{Kind: Auth, Status: 401, Err: errors.New("expired")}, Auth},
		{"rate limit", &PublishError{Kind: RateLimit, Status: 429, RetryAfter: time.Minute, Err: errors.New("slow down")}, RateLimit},
		{"unclassified", errors.New("connection reset"), Transport},
		{"timeout", context.DeadlineExceeded, Transport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingSpy{}
			r := NewRunner(&fakeGatherer{}, &fakeSynth{}, &fakePublisher{err: tt.err})
			run := r.Execute(context.Background(), Request{Topic: "ai", ContentType: content.Article}, rec)

			if run.Outcome != Failed {
				t.Errorf("outcome = %s, want failed", run.Outcome)
			}
			if run.PublishError == nil || run.PublishError.Kind != tt.want {
				t.Errorf("publish error = %v, want kind %s", run.PublishError, tt.want)
			}
			if len(rec.runs) != 1 {
				t.Error("failed publish attempt should still be recorded")
			}
		})
	}
}

func TestCancelledBeforeStartAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pub := &fakePublisher{}
	rec := &recordingSpy{}
	r := NewRunner(&fakeGatherer{}, &fakeSynth{}, pub)
	run := r.Execute(ctx, Request{Topic: "ai", ContentType: content.Article}, rec)

	if run.State != Aborted || run.Outcome != Failed {
		t.Errorf("state=%s outcome=%s", run.State, run.Outcome)
	}
	if len(pub.published) != 0 || len(rec.runs) != 0 {
		t.Error("aborted run should neither publish nor record")
	}
	if !errors.Is(run.Err(), context.Canceled) {
		t.Errorf("Err() = %v", run.Err())
	}
}

func TestCancelDuringPublishFinishesStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pub := &fakePublisher{entered: make(chan struct{}), block: make(chan struct{})}
	rec := &recordingSpy{}
	r := NewRunner(&fakeGatherer{}, &fakeSynth{}, pub)

	done := make(chan *Run)
	go func() { done <- r.Execute(ctx, Request{Topic: "ai", ContentType: content.Article}, rec) }()

	<-pub.entered
	cancel()
	close(pub.block)
	run := <-done

	if run.Outcome != Success {
		t.Errorf("outcome = %s; publish in flight should complete", run.Outcome)
	}
	if len(rec.runs) != 1 {
		t.Error("completed publish must be recorded even after cancellation")
	}
}
