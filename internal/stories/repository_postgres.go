package stories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepository orders stories by a serial column so most-recent-first
// listing does not depend on timestamp resolution.
type PostgresRepository struct {
	db      *sql.DB
	nowFunc func() time.Time
}

func NewPostgresRepository(db *sql.DB) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &PostgresRepository{db: db, nowFunc: time.Now}, nil
}

const storyColumns = `id, owner, idea, genre, tone, size, body, favorite, created_at`

func (r *PostgresRepository) Insert(ctx context.Context, in NewStory) (Story, error) {
	if in.Owner == "" {
		return Story{}, fmt.Errorf("story owner is required")
	}

	const q = `
INSERT INTO stories (id, owner, idea, genre, tone, size, body, favorite, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
ON CONFLICT (owner, id) DO NOTHING`

	now := r.nowFunc().UTC()
	for range maxInsertTries {
		id, err := generateID(idBytes)
		if err != nil {
			return Story{}, fmt.Errorf("generate story id: %w", err)
		}
		res, err := r.db.ExecContext(ctx, q, id, in.Owner, in.Idea, in.Genre, in.Tone, in.Size, in.Text, now)
		if err != nil {
			return Story{}, fmt.Errorf("insert story: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Story{}, fmt.Errorf("insert story rows affected: %w", err)
		}
		if n == 0 {
			continue
		}
		return Story{
			ID:        id,
			Owner:     in.Owner,
			Idea:      in.Idea,
			Genre:     in.Genre,
			Tone:      in.Tone,
			Size:      in.Size,
			Text:      in.Text,
			CreatedAt: now,
		}, nil
	}
	return Story{}, fmt.Errorf("insert story: too many id collisions")
}

func (r *PostgresRepository) ListFor(ctx context.Context, owner string) ([]Story, error) {
	const q = `SELECT ` + storyColumns + ` FROM stories WHERE owner = $1 ORDER BY seq DESC`
	return r.query(ctx, q, owner)
}

func (r *PostgresRepository) ListFavoritesFor(ctx context.Context, owner string) ([]Story, error) {
	const q = `SELECT ` + storyColumns + ` FROM stories WHERE owner = $1 AND favorite ORDER BY seq DESC`
	return r.query(ctx, q, owner)
}

func (r *PostgresRepository) ToggleFavorite(ctx context.Context, owner, id string) (Story, error) {
	const q = `UPDATE stories SET favorite = NOT favorite WHERE owner = $1 AND id = $2 RETURNING ` + storyColumns
	s, err := scanStory(r.db.QueryRowContext(ctx, q, owner, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Story{}, ErrNotFound
		}
		return Story{}, fmt.Errorf("toggle favorite: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, owner, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM stories WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete story rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Stats(ctx context.Context, owner string) (Stats, error) {
	const q = `SELECT COUNT(*), COUNT(*) FILTER (WHERE favorite) FROM stories WHERE owner = $1`
	var st Stats
	if err := r.db.QueryRowContext(ctx, q, owner).Scan(&st.Stories, &st.Favorites); err != nil {
		return Stats{}, fmt.Errorf("story stats: %w", err)
	}
	return st, nil
}

func (r *PostgresRepository) query(ctx context.Context, q string, args ...any) ([]Story, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}
	defer rows.Close()

	out := make([]Story, 0)
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stories: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStory(row rowScanner) (Story, error) {
	var s Story
	err := row.Scan(&s.ID, &s.Owner, &s.Idea, &s.Genre, &s.Tone, &s.Size, &s.Text, &s.Favorite, &s.CreatedAt)
	return s, err
}
