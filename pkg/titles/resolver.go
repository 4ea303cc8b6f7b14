package titles

import (
	"context"
	"strings"

	"github.com/inkwellbot/inkwell/pkg/logger"
)

// maxTitleLen rejects simple-split items that are too long to be a title.
const maxTitleLen = 100

// rejectWords are standalone words that indicate the split text is
// conversational prose rather than an explicit title list. "or" in
// particular means the simple split likely merged alternatives into one
// item. Known false-positive source for titles that legitimately contain
// these words; the extraction fallback handles those.
var rejectWords = map[string]bool{
	"or":       true,
	"we":       true,
	"should":   true,
	"thinking": true,
	"maybe":    true,
	"talked":   true,
	"about":    true,
}

// Extractor is the LLM title-extraction capability used when the simple
// split does not produce a credible list.
type Extractor interface {
	ExtractTitles(ctx context.Context, text string) ([]string, error)
}

type Resolver struct {
	extractor Extractor
}

func NewResolver(extractor Extractor) *Resolver {
	return &Resolver{extractor: extractor}
}

// Resolve turns free-form text into an ordered list of book titles. It never
// fails; an unresolvable input yields an empty list.
func (r *Resolver) Resolve(ctx context.Context, raw string) []string {
	items := SimpleSplit(raw)
	if len(items) > 0 && credible(items) {
		return items
	}

	if r.extractor == nil {
		return nil
	}
	extracted, err := r.extractor.ExtractTitles(ctx, raw)
	if err != nil {
		logger.WarnCF("titles", "extraction fallback failed", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	return extracted
}

// SimpleSplit applies the cheap deterministic parse: commas win over
// newlines, and an unseparated input is a single item.
func SimpleSplit(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parts []string
	switch {
	case strings.Contains(raw, ","):
		parts = strings.Split(raw, ",")
	case strings.Contains(raw, "\n"):
		parts = strings.Split(raw, "\n")
	default:
		parts = []string{raw}
	}

	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			items = append(items, p)
		}
	}
	return items
}

// credible reports whether a simple-split result looks like an actual list
// of titles rather than a sentence that happened to contain separators.
func credible(items []string) bool {
	for _, item := range items {
		if len(item) > maxTitleLen {
			return false
		}
		if strings.HasSuffix(item, "…") || strings.HasSuffix(item, "...") {
			return false
		}
		for _, word := range strings.Fields(strings.ToLower(item)) {
			word = strings.Trim(word, ".,!?;:\"'()")
			if rejectWords[word] {
				return false
			}
		}
	}
	return true
}
