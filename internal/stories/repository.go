package stories

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotFound = errors.New("story not found")

const (
	idBytes        = 8
	maxInsertTries = 5
)

// Repository owns stories per user. Every lookup by id is scoped to the
// owner, so a story id owned by someone else behaves as ErrNotFound.
type Repository interface {
	Insert(ctx context.Context, s NewStory) (Story, error)
	ListFor(ctx context.Context, owner string) ([]Story, error)
	ListFavoritesFor(ctx context.Context, owner string) ([]Story, error)
	ToggleFavorite(ctx context.Context, owner, id string) (Story, error)
	Delete(ctx context.Context, owner, id string) error
	Stats(ctx context.Context, owner string) (Stats, error)
}

// MemoryRepository keeps each owner's stories in insertion order. When
// persist is set it is called with the lock held after every mutation and a
// failure rolls the mutation back.
type MemoryRepository struct {
	nowFunc func() time.Time
	persist func(map[string][]Story) error

	mu      sync.RWMutex
	stories map[string][]Story
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nowFunc: time.Now,
		stories: make(map[string][]Story),
	}
}

func (r *MemoryRepository) Insert(_ context.Context, in NewStory) (Story, error) {
	if in.Owner == "" {
		return Story{}, fmt.Errorf("story owner is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.freshIDLocked(in.Owner)
	if err != nil {
		return Story{}, err
	}
	s := Story{
		ID:        id,
		Owner:     in.Owner,
		Idea:      in.Idea,
		Genre:     in.Genre,
		Tone:      in.Tone,
		Size:      in.Size,
		Text:      in.Text,
		CreatedAt: r.nowFunc().UTC(),
	}

	prev := r.stories[in.Owner]
	r.stories[in.Owner] = append(prev, s)
	if err := r.persistLocked(); err != nil {
		if len(prev) == 0 {
			delete(r.stories, in.Owner)
		} else {
			r.stories[in.Owner] = prev
		}
		return Story{}, err
	}
	return s, nil
}

func (r *MemoryRepository) ListFor(_ context.Context, owner string) ([]Story, error) {
	return r.list(owner, false), nil
}

func (r *MemoryRepository) ListFavoritesFor(_ context.Context, owner string) ([]Story, error) {
	return r.list(owner, true), nil
}

func (r *MemoryRepository) ToggleFavorite(_ context.Context, owner, id string) (Story, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.stories[owner]
	i := indexOf(owned, id)
	if i < 0 {
		return Story{}, ErrNotFound
	}
	owned[i].Favorite = !owned[i].Favorite
	if err := r.persistLocked(); err != nil {
		owned[i].Favorite = !owned[i].Favorite
		return Story{}, err
	}
	return owned[i], nil
}

func (r *MemoryRepository) Delete(_ context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned := r.stories[owner]
	i := indexOf(owned, id)
	if i < 0 {
		return ErrNotFound
	}

	next := make([]Story, 0, len(owned)-1)
	next = append(next, owned[:i]...)
	next = append(next, owned[i+1:]...)
	r.stories[owner] = next
	if err := r.persistLocked(); err != nil {
		r.stories[owner] = owned
		return err
	}
	return nil
}

func (r *MemoryRepository) Stats(_ context.Context, owner string) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st Stats
	for _, s := range r.stories[owner] {
		st.Stories++
		if s.Favorite {
			st.Favorites++
		}
	}
	return st, nil
}

// Import appends previously stored stories for owner in the given order.
// Stories whose id the owner already has are skipped, so importing the same
// batch twice is harmless. It returns how many stories were added.
func (r *MemoryRepository) Import(_ context.Context, owner string, in []Story) (int, error) {
	if owner == "" {
		return 0, fmt.Errorf("story owner is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.stories[owner]
	next := append([]Story(nil), prev...)
	for _, s := range in {
		if s.ID == "" {
			id, err := r.freshIDLocked(owner)
			if err != nil {
				return 0, err
			}
			s.ID = id
		}
		if indexOf(next, s.ID) >= 0 {
			continue
		}
		s.Owner = owner
		if s.CreatedAt.IsZero() {
			s.CreatedAt = r.nowFunc().UTC()
		}
		next = append(next, s)
	}

	added := len(next) - len(prev)
	if added == 0 {
		return 0, nil
	}
	r.stories[owner] = next
	if err := r.persistLocked(); err != nil {
		if len(prev) == 0 {
			delete(r.stories, owner)
		} else {
			r.stories[owner] = prev
		}
		return 0, err
	}
	return added, nil
}

// list returns the owner's stories most recent first.
func (r *MemoryRepository) list(owner string, favoritesOnly bool) []Story {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owned := r.stories[owner]
	out := make([]Story, 0, len(owned))
	for i := len(owned) - 1; i >= 0; i-- {
		if favoritesOnly && !owned[i].Favorite {
			continue
		}
		out = append(out, owned[i])
	}
	return out
}

func (r *MemoryRepository) freshIDLocked(owner string) (string, error) {
	for range maxInsertTries {
		id, err := generateID(idBytes)
		if err != nil {
			return "", fmt.Errorf("generate story id: %w", err)
		}
		if indexOf(r.stories[owner], id) < 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate story id: too many collisions")
}

func (r *MemoryRepository) persistLocked() error {
	if r.persist == nil {
		return nil
	}
	return r.persist(r.stories)
}

func indexOf(stories []Story, id string) int {
	for i, s := range stories {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func generateID(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
