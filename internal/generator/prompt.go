package generator

import (
	"fmt"
	"strings"
)

type sizeSpec struct {
	label string
	words string
}

var sizes = map[int]sizeSpec{
	1: {label: "Short", words: "150-200"},
	2: {label: "Medium", words: "400-500"},
	3: {label: "Long", words: "700-900"},
}

// specFor maps sizes outside the table to Short.
func specFor(size int) sizeSpec {
	if s, ok := sizes[size]; ok {
		return s
	}
	return sizes[1]
}

// BuildPrompt renders the instruction sent to a text model.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Expand the following one-line idea into a detailed and engaging short story.\n\n")
	b.WriteString("Requirements:\n")
	fmt.Fprintf(&b, "- Genre: %s\n", orUnspecified(req.Genre))
	fmt.Fprintf(&b, "- Tone: %s\n", orUnspecified(req.Tone))
	fmt.Fprintf(&b, "- Size: %d, where:\n", req.Size)
	for i := 1; i <= 3; i++ {
		s := sizes[i]
		fmt.Fprintf(&b, "   - %d = %s (~%s words)\n", i, s.label, s.words)
	}
	target := specFor(req.Size)
	fmt.Fprintf(&b, "- Target length: %s (~%s words)\n", target.label, target.words)
	fmt.Fprintf(&b, "\nIdea: %s\n\n", req.Idea)
	b.WriteString("Make sure the story length strictly follows the chosen size value.\n")
	return b.String()
}

func orUnspecified(s string) string {
	if strings.TrimSpace(s) == "" {
		return "any"
	}
	return s
}
