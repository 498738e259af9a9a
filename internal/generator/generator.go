// Package generator is the boundary to the external story-writing provider.
package generator

import (
	"context"
	"errors"
)

var ErrEmptyResponse = errors.New("provider returned no text")

// Request carries the generation parameters verbatim from the caller.
type Request struct {
	Idea  string `json:"idea"`
	Genre string `json:"genre"`
	Tone  string `json:"tone"`
	Size  int    `json:"size"`
}

// Generator turns a Request into story text. Implementations may be slow or
// fail; callers bound them with ctx.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
