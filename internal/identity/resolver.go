// Package identity binds numeric diarization speaker ids to named
// identities using voice embeddings and a two-tier confidence policy.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/echofuse/echofuse/internal/timeline"
)

// NamingMode records how a participant's display name was established.
// The modes form a precedence order: a user decision or an auto-assigned
// link is never replaced by a later tentative voice match.
type NamingMode string

const (
	ModeUnidentified     NamingMode = "unidentified"
	ModeSuggestedByVoice NamingMode = "suggested_by_voice"
	ModeLinkedToPerson   NamingMode = "linked_to_person"
	ModeNamedByUser      NamingMode = "named_by_user"
)

// locked reports whether the mode must survive later voice matches.
func (m NamingMode) locked() bool {
	return m == ModeNamedByUser || m == ModeLinkedToPerson
}

// Participant is the per-session record for one distinct speaker id.
// Created on first observation, mutated in place as confidence improves
// or the user renames it.
type Participant struct {
	SpeakerID     string     `json:"speaker_id"`
	Name          string     `json:"name,omitempty"`
	Confidence    float64    `json:"confidence"`
	Mode          NamingMode `json:"naming_mode"`
	IsCurrentUser bool       `json:"is_current_user"`
}

// Match is the result of a nearest-identity lookup.
type Match struct {
	Name       string
	Similarity float64
}

// Store is the persisted identity capability. Lookup returns the
// closest known identity for an embedding with a similarity score in
// [0, 1], or nil when the store is empty. EmbeddingByName returns a
// pre-stored voice embedding for a known name, or nil.
type Store interface {
	Lookup(ctx context.Context, embedding []float32) (*Match, error)
	EmbeddingByName(ctx context.Context, name string) ([]float32, error)
}

// Config carries the resolver thresholds.
type Config struct {
	AutoAssignThreshold float64 `yaml:"auto_assign_threshold"`
	TentativeThreshold  float64 `yaml:"tentative_threshold"`
}

// Validate checks the threshold ordering.
func (c *Config) Validate() error {
	if c.AutoAssignThreshold <= 0 || c.AutoAssignThreshold > 1 {
		return fmt.Errorf("auto_assign_threshold must be in (0, 1], got %f", c.AutoAssignThreshold)
	}
	if c.TentativeThreshold <= 0 || c.TentativeThreshold > 1 {
		return fmt.Errorf("tentative_threshold must be in (0, 1], got %f", c.TentativeThreshold)
	}
	if c.TentativeThreshold > c.AutoAssignThreshold {
		return fmt.Errorf("tentative_threshold %f exceeds auto_assign_threshold %f",
			c.TentativeThreshold, c.AutoAssignThreshold)
	}
	return nil
}

// Stats is a snapshot of resolver activity.
type Stats struct {
	Participants    int   `json:"participants"`
	AutoAssigned    int64 `json:"auto_assigned"`
	Suggested       int64 `json:"suggested"`
	BelowThreshold  int64 `json:"below_threshold"`
	ExpectedMatches int64 `json:"expected_matches"`
	LookupErrors    int64 `json:"lookup_errors"`
}

// Resolver maintains the session participant registry and applies the
// two-tier confidence policy to voice embeddings surfaced by diarization.
type Resolver struct {
	config Config
	store  Store
	logger *slog.Logger

	onLookup func(outcome string)

	mu           sync.RWMutex
	participants map[string]*Participant
	expected     map[string][]float32 // name -> pre-loaded embedding

	autoAssigned    int64
	suggested       int64
	belowThreshold  int64
	expectedMatches int64
	lookupErrors    int64
}

// NewResolver creates a resolver backed by the given store. The store
// may be nil, in which case only expected-participant embeddings are
// consulted.
func NewResolver(config Config, store Store, logger *slog.Logger) (*Resolver, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resolver config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		config:       config,
		store:        store,
		logger:       logger,
		participants: make(map[string]*Participant),
		expected:     make(map[string][]float32),
	}, nil
}

// OnLookup registers a callback invoked with the outcome of each
// embedding resolution. Set once before the first session; used for
// metrics.
func (r *Resolver) OnLookup(fn func(outcome string)) {
	r.onLookup = fn
}

func (r *Resolver) report(outcome string) {
	if r.onLookup != nil {
		r.onLookup(outcome)
	}
}

// ExpectParticipant pre-loads an embedding for a participant expected
// from external context. Expected embeddings are checked before the
// store on every resolution, avoiding a store round trip for the common
// case. A name the store knows can be pre-loaded with PreloadExpected.
func (r *Resolver) ExpectParticipant(name string, embedding []float32) {
	if name == "" || len(embedding) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.expected[name] = embedding
}

// PreloadExpected fetches the stored embedding for each named
// participant and registers it for the cheap path. Unknown names are
// skipped.
func (r *Resolver) PreloadExpected(ctx context.Context, names []string) {
	if r.store == nil {
		return
	}

	for _, name := range names {
		emb, err := r.store.EmbeddingByName(ctx, name)
		if err != nil {
			r.logger.Warn("Failed to preload expected participant embedding",
				slog.String("name", name),
				slog.String("error", err.Error()))
			continue
		}
		if len(emb) == 0 {
			continue
		}
		r.ExpectParticipant(name, emb)
	}
}

// Observe ensures a participant record exists for the speaker id.
func (r *Resolver) Observe(speakerID string) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observeLocked(speakerID)
}

func (r *Resolver) observeLocked(speakerID string) *Participant {
	if p, ok := r.participants[speakerID]; ok {
		return p
	}

	p := &Participant{
		SpeakerID:     speakerID,
		Mode:          ModeUnidentified,
		IsCurrentUser: speakerID == timeline.SpeakerMe,
	}
	r.participants[speakerID] = p
	return p
}

// Resolve applies the confidence policy to one speaker's embedding.
// The expected-participant set is consulted first; on a miss the store
// is queried for the nearest known identity. Returns the updated
// participant record.
func (r *Resolver) Resolve(ctx context.Context, speakerID string, embedding []float32) (*Participant, error) {
	r.mu.Lock()
	p := r.observeLocked(speakerID)
	if p.IsCurrentUser {
		r.mu.Unlock()
		return r.snapshotOf(speakerID), nil
	}
	locked := p.Mode.locked()
	r.mu.Unlock()

	if len(embedding) == 0 {
		return r.snapshotOf(speakerID), nil
	}

	match := r.matchExpected(embedding)
	fromExpected := match != nil

	if match == nil && r.store != nil {
		var err error
		match, err = r.store.Lookup(ctx, embedding)
		if err != nil {
			r.mu.Lock()
			r.lookupErrors++
			r.mu.Unlock()
			r.report("error")
			return nil, fmt.Errorf("identity lookup for speaker %s: %w", speakerID, err)
		}
	}

	if match == nil {
		return r.snapshotOf(speakerID), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p = r.observeLocked(speakerID)

	switch {
	case match.Similarity >= r.config.AutoAssignThreshold:
		// A user-assigned name outranks any automatic match.
		if p.Mode == ModeNamedByUser {
			break
		}
		p.Name = match.Name
		p.Confidence = match.Similarity
		p.Mode = ModeLinkedToPerson
		r.autoAssigned++
		r.report("auto_assigned")
		if fromExpected {
			r.expectedMatches++
		}
		r.logger.Info("Linked speaker to known identity",
			slog.String("speaker_id", speakerID),
			slog.String("name", match.Name),
			slog.Float64("similarity", match.Similarity))

	case match.Similarity >= r.config.TentativeThreshold:
		if locked || p.Mode.locked() {
			break
		}
		p.Name = match.Name
		p.Confidence = match.Similarity
		p.Mode = ModeSuggestedByVoice
		r.suggested++
		r.report("suggested")
		if fromExpected {
			r.expectedMatches++
		}
		r.logger.Debug("Suggested identity for speaker",
			slog.String("speaker_id", speakerID),
			slog.String("name", match.Name),
			slog.Float64("similarity", match.Similarity))

	default:
		r.belowThreshold++
		r.report("below_threshold")
	}

	snapshot := *p
	return &snapshot, nil
}

// ResolveAll runs Resolve for every entry in the embedding map. Used for
// the periodic in-session pass and the authoritative pass after
// diarization finalizes. Lookup failures are logged per speaker and do
// not stop the pass.
func (r *Resolver) ResolveAll(ctx context.Context, embeddings map[string][]float32) {
	for speakerID, embedding := range embeddings {
		if _, err := r.Resolve(ctx, speakerID, embedding); err != nil {
			r.logger.Warn("Identity resolution failed",
				slog.String("speaker_id", speakerID),
				slog.String("error", err.Error()))
		}
	}
}

// Rename records a user-supplied name. User decisions take precedence
// over every automatic assignment and are never downgraded.
func (r *Resolver) Rename(speakerID, name string) (*Participant, error) {
	if name == "" {
		return nil, fmt.Errorf("participant name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.observeLocked(speakerID)
	p.Name = name
	p.Confidence = 1
	p.Mode = ModeNamedByUser

	snapshot := *p
	return &snapshot, nil
}

// MarkCurrentUser flags a speaker id as the local user. The record is
// exempt from voice matching.
func (r *Resolver) MarkCurrentUser(speakerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.observeLocked(speakerID)
	p.IsCurrentUser = true
}

// Participant returns a copy of one participant record, or nil.
func (r *Resolver) Participant(speakerID string) *Participant {
	return r.snapshotOf(speakerID)
}

// Participants returns copies of all participant records sorted by
// speaker id.
func (r *Resolver) Participants() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SpeakerID < out[j].SpeakerID
	})
	return out
}

// Reset drops all participant records and pre-loaded embeddings so no
// identity state leaks into the next session.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.participants = make(map[string]*Participant)
	r.expected = make(map[string][]float32)
}

// GetStats returns a snapshot of resolver activity.
func (r *Resolver) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Participants:    len(r.participants),
		AutoAssigned:    r.autoAssigned,
		Suggested:       r.suggested,
		BelowThreshold:  r.belowThreshold,
		ExpectedMatches: r.expectedMatches,
		LookupErrors:    r.lookupErrors,
	}
}

func (r *Resolver) snapshotOf(speakerID string) *Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.participants[speakerID]
	if !ok {
		return nil
	}
	snapshot := *p
	return &snapshot
}

// matchExpected scans the pre-loaded embeddings and returns the best
// cosine match, or nil when none reaches the tentative threshold.
func (r *Resolver) matchExpected(embedding []float32) *Match {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Match
	for name, candidate := range r.expected {
		sim := CosineSimilarity(embedding, candidate)
		if sim < r.config.TentativeThreshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			best = &Match{Name: name, Similarity: sim}
		}
	}
	return best
}

// CosineSimilarity computes the cosine of the angle between two
// embeddings. Returns 0 for mismatched lengths or zero-magnitude input.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
