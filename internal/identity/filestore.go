package identity

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore is a Store backed by a YAML file of named voice
// embeddings. Lookup is a linear nearest-neighbor scan; the store is
// expected to hold at most a few hundred identities.
type FileStore struct {
	mu         sync.RWMutex
	embeddings map[string][]float32
}

// storeFile is the on-disk shape: a map of name to embedding vector.
type storeFile struct {
	Identities map[string][]float32 `yaml:"identities"`
}

// NewFileStore loads the embedding file. An empty or absent identities
// map yields a store that never matches.
func NewFileStore(path string) (*FileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity store %s: %w", path, err)
	}

	var parsed storeFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse identity store %s: %w", path, err)
	}

	embeddings := parsed.Identities
	if embeddings == nil {
		embeddings = make(map[string][]float32)
	}

	return &FileStore{embeddings: embeddings}, nil
}

// Lookup returns the closest known identity by cosine similarity, or
// nil when the store is empty.
func (s *FileStore) Lookup(_ context.Context, embedding []float32) (*Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Match
	for name, candidate := range s.embeddings {
		sim := CosineSimilarity(embedding, candidate)
		if best == nil || sim > best.Similarity {
			best = &Match{Name: name, Similarity: sim}
		}
	}
	return best, nil
}

// EmbeddingByName returns the stored embedding for a known name, or nil.
func (s *FileStore) EmbeddingByName(_ context.Context, name string) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	emb, ok := s.embeddings[name]
	if !ok {
		return nil, nil
	}
	out := make([]float32, len(emb))
	copy(out, emb)
	return out, nil
}

// Add registers an embedding in memory. The file is not rewritten;
// persistence of new identities belongs to the surrounding application.
func (s *FileStore) Add(name string, embedding []float32) {
	if name == "" || len(embedding) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.embeddings[name] = embedding
}

// Len returns the number of stored identities.
func (s *FileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.embeddings)
}
