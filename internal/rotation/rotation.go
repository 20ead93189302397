// Package rotation tracks which topic and content type the next pipeline run
// should produce, and persists that choice across restarts.
package rotation

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"github.com/kalambet/autopost/internal/content"
)

var (
	ErrEmptyRotation = errors.New("rotation is empty")
	ErrLastTopic     = errors.New("cannot remove the last remaining topic")
	ErrUnknownTopic  = errors.New("unknown topic")
)

// DefaultTopicAdvanceProbability is the chance a successful run also moves
// to the next topic. Content types advance on every success.
const DefaultTopicAdvanceProbability = 0.3

// State is the persisted rotation record.
type State struct {
	Topics            []string       `json:"topics"`
	ContentTypes      []content.Kind `json:"content_types"`
	TopicCursor       int            `json:"topic_cursor"`
	ContentTypeCursor int            `json:"content_type_cursor"`
}

func (s State) clone() State {
	return State{
		Topics:            slices.Clone(s.Topics),
		ContentTypes:      slices.Clone(s.ContentTypes),
		TopicCursor:       s.TopicCursor,
		ContentTypeCursor: s.ContentTypeCursor,
	}
}

// normalize trims and dedupes topics and clamps both cursors into range.
func (s *State) normalize() {
	topics := make([]string, 0, len(s.Topics))
	for _, t := range s.Topics {
		t = strings.TrimSpace(t)
		if t == "" || indexOf(topics, t) >= 0 {
			continue
		}
		topics = append(topics, t)
	}
	s.Topics = topics

	kinds := make([]content.Kind, 0, len(s.ContentTypes))
	for _, k := range s.ContentTypes {
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	s.ContentTypes = kinds

	s.TopicCursor = clamp(s.TopicCursor, len(s.Topics))
	s.ContentTypeCursor = clamp(s.ContentTypeCursor, len(s.ContentTypes))
}

func clamp(cursor, n int) int {
	if n == 0 || cursor < 0 {
		return 0
	}
	if cursor >= n {
		return cursor % n
	}
	return cursor
}

func indexOf(topics []string, t string) int {
	for i, existing := range topics {
		if strings.EqualFold(existing, t) {
			return i
		}
	}
	return -1
}

// Persister saves and loads rotation state.
type Persister interface {
	Load() (State, bool, error)
	Save(State) error
}

// Option configures a Rotation.
type Option func(*Rotation)

// WithTopicAdvanceProbability sets the chance (0..1) of a topic advance per
// successful run.
func WithTopicAdvanceProbability(p float64) Option {
	return func(r *Rotation) {
		if p >= 0 && p <= 1 {
			r.topicProb = p
		}
	}
}

// WithChance replaces the random source used for probabilistic topic advance.
func WithChance(fn func() float64) Option {
	return func(r *Rotation) { r.chance = fn }
}

// Rotation is the mutex-guarded rotation state. Every mutation is persisted
// before it becomes visible; a failed save leaves the state unchanged.
type Rotation struct {
	mu        sync.Mutex
	state     State
	store     Persister
	topicProb float64
	chance    func() float64
}

// New loads rotation state from store, seeding it with defaults when nothing
// has been persisted yet. A nil store keeps state in memory only.
func New(store Persister, defaults State, opts ...Option) (*Rotation, error) {
	r := &Rotation{
		store:     store,
		topicProb: DefaultTopicAdvanceProbability,
		chance:    rand.Float64,
	}
	for _, o := range opts {
		o(r)
	}

	state := defaults.clone()
	if store != nil {
		loaded, ok, err := store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading rotation state: %w", err)
		}
		if ok {
			state = loaded
		}
	}
	state.normalize()
	r.state = state

	if store != nil {
		if err := store.Save(r.state); err != nil {
			return nil, fmt.Errorf("saving rotation state: %w", err)
		}
	}
	return r, nil
}

// mutate applies fn to a copy of the state, persists it, then publishes it.
func (r *Rotation) mutate(fn func(*State) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.state.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.Save(next); err != nil {
			return fmt.Errorf("saving rotation state: %w", err)
		}
	}
	r.state = next
	return nil
}

// CurrentTopic returns the topic the next rotation run will use.
func (r *Rotation) CurrentTopic() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.state.Topics) == 0 {
		return "", fmt.Errorf("topics: %w", ErrEmptyRotation)
	}
	return r.state.Topics[r.state.TopicCursor], nil
}

// CurrentContentType returns the content type the next run will produce.
func (r *Rotation) CurrentContentType() (content.Kind, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.state.ContentTypes) == 0 {
		return "", fmt.Errorf("content types: %w", ErrEmptyRotation)
	}
	return r.state.ContentTypes[r.state.ContentTypeCursor], nil
}

// AdvanceContentType moves the content type cursor forward by one, wrapping.
func (r *Rotation) AdvanceContentType() error {
	return r.mutate(func(s *State) error {
		if len(s.ContentTypes) == 0 {
			return fmt.Errorf("content types: %w", ErrEmptyRotation)
		}
		s.ContentTypeCursor = (s.ContentTypeCursor + 1) % len(s.ContentTypes)
		return nil
	})
}

// AdvanceTopic moves the topic cursor forward by one, wrapping.
func (r *Rotation) AdvanceTopic() error {
	return r.mutate(func(s *State) error {
		if len(s.Topics) == 0 {
			return fmt.Errorf("topics: %w", ErrEmptyRotation)
		}
		s.TopicCursor = (s.TopicCursor + 1) % len(s.Topics)
		return nil
	})
}

// AdvanceAfterSuccess applies the post-publish rule in a single save: the
// content type always advances, the topic advances with the configured
// probability. It reports whether the topic moved.
func (r *Rotation) AdvanceAfterSuccess() (bool, error) {
	var topicMoved bool
	err := r.mutate(func(s *State) error {
		if len(s.ContentTypes) == 0 {
			return fmt.Errorf("content types: %w", ErrEmptyRotation)
		}
		s.ContentTypeCursor = (s.ContentTypeCursor + 1) % len(s.ContentTypes)
		if len(s.Topics) > 0 && r.chance() < r.topicProb {
			s.TopicCursor = (s.TopicCursor + 1) % len(s.Topics)
			topicMoved = true
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return topicMoved, nil
}

// AddTopic appends t unless an equal topic (case-insensitive) already exists.
func (r *Rotation) AddTopic(t string) error {
	t = strings.TrimSpace(t)
	if t == "" {
		return errors.New("topic must not be empty")
	}
	r.mu.Lock()
	exists := indexOf(r.state.Topics, t) >= 0
	r.mu.Unlock()
	if exists {
		return nil
	}
	return r.mutate(func(s *State) error {
		if indexOf(s.Topics, t) >= 0 {
			return nil
		}
		s.Topics = append(s.Topics, t)
		return nil
	})
}

// RemoveTopic drops t from the rotation. The last topic cannot be removed.
func (r *Rotation) RemoveTopic(t string) error {
	t = strings.TrimSpace(t)
	return r.mutate(func(s *State) error {
		i := indexOf(s.Topics, t)
		if i < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownTopic, t)
		}
		if len(s.Topics) == 1 {
			return ErrLastTopic
		}
		s.Topics = slices.Delete(s.Topics, i, i+1)
		if i < s.TopicCursor {
			s.TopicCursor--
		}
		s.TopicCursor = clamp(s.TopicCursor, len(s.Topics))
		return nil
	})
}

// SetCurrentTopic points the topic cursor at an existing topic.
func (r *Rotation) SetCurrentTopic(t string) error {
	t = strings.TrimSpace(t)
	return r.mutate(func(s *State) error {
		i := indexOf(s.Topics, t)
		if i < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownTopic, t)
		}
		s.TopicCursor = i
		return nil
	})
}

// HasTopic reports whether t is part of the rotation.
func (r *Rotation) HasTopic(t string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return indexOf(r.state.Topics, strings.TrimSpace(t)) >= 0
}

// Snapshot returns a copy of the current state.
func (r *Rotation) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}
