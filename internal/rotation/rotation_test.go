package rotation

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/kalambet/autopost/internal/content"
)

type failingStore struct {
	saves int
	fail  bool
}

func (f *failingStore) Load() (State, bool, error) { return State{}, false, nil }

func (f *failingStore) Save(State) error {
	if f.fail {
		return errors.New("disk full")
	}
	f.saves++
	return nil
}

func newRotation(t *testing.T, topics []string, kinds []content.Kind, opts ...Option) *Rotation {
	t.Helper()
	r, err := New(nil, State{Topics: topics, ContentTypes: kinds}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestEmptyRotation(t *testing.T) {
	r := newRotation(t, nil, nil)
	if _, err := r.CurrentTopic(); !errors.Is(err, ErrEmptyRotation) {
		t.Errorf("CurrentTopic err = %v, want ErrEmptyRotation", err)
	}
	if _, err := r.CurrentContentType(); !errors.Is(err, ErrEmptyRotation) {
		t.Errorf("CurrentContentType err = %v, want ErrEmptyRotation", err)
	}
}

func TestCurrentAlwaysMember(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	r := newRotation(t, []string{"a"}, []content.Kind{content.Article, content.Chart})
	pool := []string{"a", "b", "c", "d", "e"}

	for i := 0; i < 500; i++ {
		topic := pool[rng.IntN(len(pool))]
		switch rng.IntN(4) {
		case 0:
			_ = r.AddTopic(topic)
		case 1:
			_ = r.RemoveTopic(topic)
		case 2:
			_ = r.AdvanceTopic()
		case 3:
			_ = r.AdvanceContentType()
		}

		snap := r.Snapshot()
		got, err := r.CurrentTopic()
		if err != nil {
			t.Fatalf("step %d: CurrentTopic: %v", i, err)
		}
		if !slices.Contains(snap.Topics, got) {
			t.Fatalf("step %d: %q not in %v", i, got, snap.Topics)
		}
		kind, err := r.CurrentContentType()
		if err != nil || !slices.Contains(snap.ContentTypes, kind) {
			t.Fatalf("step %d: content type %q err=%v", i, kind, err)
		}
	}
}

func TestRemoveLastTopicLeavesStateUnchanged(t *testing.T) {
	r := newRotation(t, []string{"only"}, []content.Kind{content.Article})
	before := r.Snapshot()

	if err := r.RemoveTopic("only"); !errors.Is(err, ErrLastTopic) {
		t.Fatalf("err = %v, want ErrLastTopic", err)
	}
	after := r.Snapshot()
	if !slices.Equal(before.Topics, after.Topics) || before.TopicCursor != after.TopicCursor {
		t.Errorf("state changed: before %+v after %+v", before, after)
	}
}

func TestRemoveTopicClampsCursor(t *testing.T) {
	r := newRotation(t, []string{"a", "b", "c"}, []content.Kind{content.Article})
	if err := r.SetCurrentTopic("c"); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveTopic("c"); err != nil {
		t.Fatal(err)
	}
	got, _ := r.CurrentTopic()
	if got != "a" {
		t.Errorf("CurrentTopic = %q, want a", got)
	}

	if err := r.SetCurrentTopic("b"); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveTopic("a"); err != nil {
		t.Fatal(err)
	}
	got, _ = r.CurrentTopic()
	if got != "b" {
		t.Errorf("CurrentTopic after removing earlier topic = %q, want b", got)
	}
}

func TestAddTopicIsIdempotent(t *testing.T) {
	r := newRotation(t, []string{"AI Ethics"}, []content.Kind{content.Article})
	if err := r.AddTopic("ai ethics"); err != nil {
		t.Fatal(err)
	}
	if err := r.AddTopic("robotics"); err != nil {
		t.Fatal(err)
	}
	if got := r.Snapshot().Topics; len(got) != 2 {
		t.Errorf("topics = %v, want 2 entries", got)
	}
	if err := r.AddTopic("  "); err == nil {
		t.Error("expected error for blank topic")
	}
}

func TestAdvanceAfterSuccess(t *testing.T) {
	kinds := []content.Kind{content.Article, content.Chart}

	never := newRotation(t, []string{"a", "b"}, kinds, WithChance(func() float64 { return 0.99 }))
	moved, err := never.AdvanceAfterSuccess()
	if err != nil || moved {
		t.Fatalf("moved=%v err=%v", moved, err)
	}
	snap := never.Snapshot()
	if snap.ContentTypeCursor != 1 || snap.TopicCursor != 0 {
		t.Errorf("cursors = %d/%d, want 0/1", snap.TopicCursor, snap.ContentTypeCursor)
	}

	always := newRotation(t, []string{"a", "b"}, kinds, WithChance(func() float64 { return 0.0 }))
	moved, _ = always.AdvanceAfterSuccess()
	if !moved || always.Snapshot().TopicCursor != 1 {
		t.Errorf("expected topic advance, got moved=%v", moved)
	}

	single := newRotation(t, []string{"a"}, []content.Kind{content.Article})
	for i := 0; i < 3; i++ {
		if _, err := single.AdvanceAfterSuccess(); err != nil {
			t.Fatalf("single-element rotation: %v", err)
		}
	}
	topic, _ := single.CurrentTopic()
	kind, _ := single.CurrentContentType()
	if topic != "a" || kind != content.Article {
		t.Errorf("single-element rotation drifted: %q %q", topic, kind)
	}
}

func TestSaveFailureKeepsState(t *testing.T) {
	store := &failingStore{}
	r, err := New(store, State{Topics: []string{"a", "b"}, ContentTypes: []content.Kind{content.Article, content.Chart}})
	if err != nil {
		t.Fatal(err)
	}
	store.fail = true

	if err := r.AdvanceContentType(); err == nil {
		t.Fatal("expected save error")
	}
	if err := r.AddTopic("c"); err == nil {
		t.Fatal("expected save error")
	}
	snap := r.Snapshot()
	if snap.ContentTypeCursor != 0 || len(snap.Topics) != 2 {
		t.Errorf("state mutated despite failed save: %+v", snap)
	}
}

func TestFileStoreResumesRotation(t *testing.T) {
	dir := t.TempDir()
	defaults := State{Topics: []string{"a", "b"}, ContentTypes: []content.Kind{content.Article, content.SlideDeck}}

	r, err := New(NewFileStore(dir), defaults)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.AdvanceContentType(); err != nil {
		t.Fatal(err)
	}
	if err := r.AddTopic("c"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := New(NewFileStore(dir), State{Topics: []string{"ignored"}})
	if err != nil {
		t.Fatal(err)
	}
	snap := reloaded.Snapshot()
	if snap.ContentTypeCursor != 1 || len(snap.Topics) != 3 {
		t.Errorf("reloaded state = %+v", snap)
	}
}
