package generator

import (
	"context"
	"fmt"
	"strings"
)

// Offline writes a deterministic placeholder story without calling any
// provider. It is used for local development and tests.
type Offline struct{}

func (Offline) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	paragraphs := 1
	if req.Size > 1 {
		paragraphs = min(req.Size, 3)
	}

	genre := strings.ToLower(orUnspecified(req.Genre))
	tone := strings.ToLower(orUnspecified(req.Tone))

	var b strings.Builder
	fmt.Fprintf(&b, "Once, in a %s tale told in a %s voice, %s.", genre, tone, strings.TrimSuffix(req.Idea, "."))
	for i := 1; i < paragraphs; i++ {
		fmt.Fprintf(&b, "\n\nChapter %d. The story went on, and %s.", i+1, strings.TrimSuffix(req.Idea, "."))
	}
	b.WriteString("\n\nThe end.")
	return b.String(), nil
}

func (Offline) Name() string {
	return "offline"
}
