package caption

import (
	"context"
	"io"
	"strings"
)

// Prompt is the instruction sent with every photo.
const Prompt = `Describe this photo of a residential building or street front in one short
German sentence of at most twelve words, suitable as an image caption.
Mention visible details useful for a door-to-door visit (entrance, bells,
parking, shops). Respond with the caption only.`

// maxCaptionLen bounds the stored caption regardless of model verbosity.
const maxCaptionLen = 200

type Captioner interface {
	Caption(ctx context.Context, r io.Reader, mimeType string) (string, error)
}

// Clean trims model output down to a single caption line.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, `"„“`)
	if r := []rune(s); len(r) > maxCaptionLen {
		s = string(r[:maxCaptionLen])
	}
	return s
}
