package stories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talecraft/story-vault/internal/auth"
	"talecraft/story-vault/internal/generator"
)

// staticAuth maps tokens to usernames.
type staticAuth map[string]string

func (a staticAuth) CurrentUser(_ context.Context, token string) (string, bool) {
	u, ok := a[token]
	return u, ok
}

func echoGenerator() generator.Generator {
	return generator.Func(func(_ context.Context, req generator.Request) (string, error) {
		return "Once upon a time, " + req.Idea + ".", nil
	})
}

func newTestService(t *testing.T, a Authenticator, gen generator.Generator, timeout time.Duration) (*Service, *MemoryRepository) {
	t.Helper()
	repo := NewMemoryRepository()
	svc, err := NewService(a, repo, gen, ServiceConfig{GenerateTimeout: timeout})
	require.NoError(t, err)
	return svc, repo
}

func TestServiceEndToEnd(t *testing.T) {
	ctx := context.Background()

	creds, err := auth.NewCredentials(auth.NewInMemoryAccountStore(), auth.Params{
		Algorithm:  auth.AlgorithmSHA256,
		Iterations: 1000,
		KeyLength:  32,
	})
	require.NoError(t, err)
	sessions, err := auth.NewMemorySessions(time.Hour, nil)
	require.NoError(t, err)
	gw, err := auth.NewGateway(creds, sessions, auth.GatewayConfig{})
	require.NoError(t, err)

	_, err = gw.Register(ctx, "alice", "pw123")
	require.NoError(t, err)
	sess, err := gw.Login(ctx, "alice", "pw123")
	require.NoError(t, err)

	svc, _ := newTestService(t, gw, echoGenerator(), time.Second)

	s, err := svc.Generate(ctx, sess.Token, generator.Request{Idea: "a robot learns to cook", Genre: "Sci-Fi", Tone: "Whimsical", Size: 2})
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Owner)
	assert.False(t, s.Favorite)
	assert.Equal(t, "Once upon a time, a robot learns to cook.", s.Text)

	mine, err := svc.ListMine(ctx, sess.Token)
	require.NoError(t, err)
	if diff := cmp.Diff([]Story{s}, mine); diff != "" {
		t.Fatalf("ListMine() mismatch (-want +got):\n%s", diff)
	}

	fav, err := svc.ToggleFavorite(ctx, sess.Token, s.ID)
	require.NoError(t, err)
	assert.True(t, fav.Favorite)

	favs, err := svc.ListMyFavorites(ctx, sess.Token)
	require.NoError(t, err)
	if diff := cmp.Diff([]Story{fav}, favs); diff != "" {
		t.Fatalf("ListMyFavorites() mismatch (-want +got):\n%s", diff)
	}

	p, err := svc.Profile(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, Profile{Username: "alice", Stats: Stats{Stories: 1, Favorites: 1}}, p)

	require.NoError(t, svc.Delete(ctx, sess.Token, s.ID))
	mine, err = svc.ListMine(ctx, sess.Token)
	require.NoError(t, err)
	assert.Empty(t, mine)
	favs, err = svc.ListMyFavorites(ctx, sess.Token)
	require.NoError(t, err)
	assert.Empty(t, favs)
	assert.ErrorIs(t, svc.Delete(ctx, sess.Token, s.ID), ErrNotFound)

	require.NoError(t, gw.Logout(ctx, sess.Token))
	_, err = svc.ListMine(ctx, sess.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Generate(ctx, sess.Token, generator.Request{Idea: "again"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestServiceRejectsUnknownToken(t *testing.T) {
	ctx := context.Background()
	called := false
	gen := generator.Func(func(context.Context, generator.Request) (string, error) {
		called = true
		return "x", nil
	})
	svc, _ := newTestService(t, staticAuth{}, gen, time.Second)

	_, err := svc.Generate(ctx, "nope", generator.Request{Idea: "x"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.False(t, called)

	_, err = svc.ToggleFavorite(ctx, "nope", "id")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, svc.Delete(ctx, "nope", "id"), ErrUnauthenticated)
	_, err = svc.ListMyFavorites(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Profile(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestServiceGenerateValidatesInput(t *testing.T) {
	ctx := context.Background()
	var got generator.Request
	gen := generator.Func(func(_ context.Context, req generator.Request) (string, error) {
		got = req
		return "story", nil
	})
	svc, repo := newTestService(t, staticAuth{"t": "alice"}, gen, time.Second)

	_, err := svc.Generate(ctx, "t", generator.Request{Idea: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	s, err := svc.Generate(ctx, "t", generator.Request{Idea: "  dragons  ", Size: 0})
	require.NoError(t, err)
	assert.Equal(t, generator.Request{Idea: "dragons", Size: 1}, got)
	assert.Equal(t, 1, s.Size)

	st, _ := repo.Stats(ctx, "alice")
	assert.Equal(t, 1, st.Stories)
}

func TestServiceGenerateFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("quota exceeded")
	gen := generator.Func(func(context.Context, generator.Request) (string, error) {
		return "", cause
	})
	svc, repo := newTestService(t, staticAuth{"t": "alice"}, gen, time.Second)

	_, err := svc.Generate(ctx, "t", generator.Request{Idea: "x"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, cause)

	got, _ := repo.ListFor(ctx, "alice")
	assert.Empty(t, got)
}

func TestServiceGenerateEmptyResponse(t *testing.T) {
	gen := generator.Func(func(context.Context, generator.Request) (string, error) {
		return "  \n", nil
	})
	svc, _ := newTestService(t, staticAuth{"t": "alice"}, gen, time.Second)

	_, err := svc.Generate(context.Background(), "t", generator.Request{Idea: "x"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, generator.ErrEmptyResponse)
}

func TestServiceGenerateTimeout(t *testing.T) {
	ctx := context.Background()
	gen := generator.Func(func(ctx context.Context, _ generator.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	svc, repo := newTestService(t, staticAuth{"t": "alice"}, gen, 20*time.Millisecond)

	start := time.Now()
	_, err := svc.Generate(ctx, "t", generator.Request{Idea: "x"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	got, _ := repo.ListFor(ctx, "alice")
	assert.Empty(t, got)
}

func TestServiceGenerateDoesNotBlockOtherRequests(t *testing.T) {
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	gen := generator.Func(func(context.Context, generator.Request) (string, error) {
		close(started)
		<-release
		return "slow story", nil
	})
	svc, _ := newTestService(t, staticAuth{"a": "alice", "b": "bob"}, gen, 5*time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(ctx, "a", generator.Request{Idea: "slow"})
		done <- err
	}()
	<-started

	// Both the generating user and another user can still read.
	_, err := svc.ListMine(ctx, "a")
	require.NoError(t, err)
	_, err = svc.Profile(ctx, "b")
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestServiceOwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, staticAuth{"a": "alice", "b": "bob"}, echoGenerator(), time.Second)

	s, err := svc.Generate(ctx, "a", generator.Request{Idea: "mine"})
	require.NoError(t, err)

	_, err = svc.ToggleFavorite(ctx, "b", s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, "b", s.ID), ErrNotFound)

	bobs, err := svc.ListMine(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, bobs)

	require.NoError(t, svc.Delete(ctx, "a", s.ID))
	mine, _ := svc.ListMine(ctx, "a")
	if diff := cmp.Diff([]Story{}, mine, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("ListMine() after delete (-want +got):\n%s", diff)
	}
}

func TestNewServiceValidates(t *testing.T) {
	repo := NewMemoryRepository()
	gen := echoGenerator()
	_, err := NewService(nil, repo, gen, ServiceConfig{})
	assert.Error(t, err)
	_, err = NewService(staticAuth{}, nil, gen, ServiceConfig{})
	assert.Error(t, err)
	_, err = NewService(staticAuth{}, repo, nil, ServiceConfig{})
	assert.Error(t, err)

	svc, err := NewService(staticAuth{}, repo, gen, ServiceConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultGenerateTimeout, svc.timeout)
}
