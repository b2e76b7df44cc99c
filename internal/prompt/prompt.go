package prompt

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sceneforge/internal/domain"
)

const maxPromptLength = 600

// Normalize validates a creative prompt before any external call or quota
// mutation: it must be a non-empty string once surrounding and repeated
// whitespace is collapsed. Over-long prompts are truncated rather than
// rejected; providers silently clip them anyway.
func Normalize(raw string) (string, error) {
	collapsed := strings.Join(strings.Fields(raw), " ")
	if collapsed == "" {
		return "", domain.ErrInvalidInput
	}
	if len(collapsed) > maxPromptLength {
		collapsed = strings.TrimSpace(collapsed[:maxPromptLength])
	}
	return collapsed, nil
}

// Title renders a short display title for a job from its prompt, cased for
// the caller's locale. Used in generate responses and logs only; the raw
// prompt is what reaches the provider.
func Title(locale, normalized string) string {
	words := strings.Fields(normalized)
	if len(words) > 6 {
		words = words[:6]
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return cases.Title(tag).String(strings.Join(words, " "))
}
