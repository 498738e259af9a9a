package stories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"talecraft/story-vault/internal/generator"
)

var (
	ErrUnauthenticated  = errors.New("not authenticated")
	ErrGenerationFailed = errors.New("story generation failed")
	ErrInvalidInput     = errors.New("an idea is required")
)

const DefaultGenerateTimeout = 60 * time.Second

// Authenticator resolves a session token to its username.
type Authenticator interface {
	CurrentUser(ctx context.Context, token string) (string, bool)
}

// Service runs story operations on behalf of the session's user.
type Service struct {
	auth    Authenticator
	repo    Repository
	gen     generator.Generator
	timeout time.Duration
}

type ServiceConfig struct {
	GenerateTimeout time.Duration
}

func NewService(auth Authenticator, repo Repository, gen generator.Generator, cfg ServiceConfig) (*Service, error) {
	if auth == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("story repository is required")
	}
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	timeout := cfg.GenerateTimeout
	if timeout <= 0 {
		timeout = DefaultGenerateTimeout
	}
	return &Service{auth: auth, repo: repo, gen: gen, timeout: timeout}, nil
}

// Generate calls the provider and stores the result. Nothing is stored when
// the provider fails or exceeds the timeout.
func (s *Service) Generate(ctx context.Context, token string, req generator.Request) (Story, error) {
	owner, err := s.owner(ctx, token)
	if err != nil {
		return Story{}, err
	}

	req.Idea = strings.TrimSpace(req.Idea)
	req.Genre = strings.TrimSpace(req.Genre)
	req.Tone = strings.TrimSpace(req.Tone)
	if req.Idea == "" {
		return Story{}, ErrInvalidInput
	}
	if req.Size <= 0 {
		req.Size = 1
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	text, err := s.gen.Generate(genCtx, req)
	cancel()
	if err != nil {
		return Story{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(text) == "" {
		return Story{}, fmt.Errorf("%w: %w", ErrGenerationFailed, generator.ErrEmptyResponse)
	}

	return s.repo.Insert(ctx, NewStory{
		Owner: owner,
		Idea:  req.Idea,
		Genre: req.Genre,
		Tone:  req.Tone,
		Size:  req.Size,
		Text:  text,
	})
}

func (s *Service) ListMine(ctx context.Context, token string) ([]Story, error) {
	owner, err := s.owner(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFor(ctx, owner)
}

func (s *Service) ListMyFavorites(ctx context.Context, token string) ([]Story, error) {
	owner, err := s.owner(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.repo.ListFavoritesFor(ctx, owner)
}

func (s *Service) ToggleFavorite(ctx context.Context, token, id string) (Story, error) {
	owner, err := s.owner(ctx, token)
	if err != nil {
		return Story{}, err
	}
	return s.repo.ToggleFavorite(ctx, owner, id)
}

func (s *Service) Delete(ctx context.Context, token, id string) error {
	owner, err := s.owner(ctx, token)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, owner, id)
}

type Profile struct {
	Username string `json:"username"`
	Stats
}

func (s *Service) Profile(ctx context.Context, token string) (Profile, error) {
	owner, err := s.owner(ctx, token)
	if err != nil {
		return Profile{}, err
	}
	st, err := s.repo.Stats(ctx, owner)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Username: owner, Stats: st}, nil
}

func (s *Service) owner(ctx context.Context, token string) (string, error) {
	owner, ok := s.auth.CurrentUser(ctx, token)
	if !ok {
		return "", ErrUnauthenticated
	}
	return owner, nil
}
