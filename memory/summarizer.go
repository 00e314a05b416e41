package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/becomeliminal/friday/llm"
	"github.com/m-mizutani/goerr/v2"
)

const (
	maxTags          = 5
	tagInputChars    = 500
	summaryLineChars = 140

	tagPrompt     = "Generate 3-5 relevant tags for this conversation (comma-separated):\n"
	summaryPrompt = "Summarize these points into 8 crisp bullets of lasting facts:\n%s\nSummary:"
)

// LLMSummarizer implements Summarizer on top of a text-completion service.
type LLMSummarizer struct {
	completer llm.Completer
}

var _ Summarizer = (*LLMSummarizer)(nil)

// NewLLMSummarizer creates a summarizer backed by completer.
func NewLLMSummarizer(completer llm.Completer) *LLMSummarizer {
	return &LLMSummarizer{completer: completer}
}

// Tags asks for 3-5 comma-separated labels and keeps at most five.
func (s *LLMSummarizer) Tags(ctx context.Context, text string) ([]string, error) {
	reply, err := s.completer.Complete(ctx, tagPrompt+truncateRunes(text, tagInputChars))
	if err != nil {
		return nil, Unavailable(goerr.Wrap(err, "failed to generate tags"))
	}
	return ParseTags(reply), nil
}

// Summarize asks for eight bullets distilled from the first 140 characters
// of each content.
func (s *LLMSummarizer) Summarize(ctx context.Context, contents []string) (string, error) {
	points := make([]string, len(contents))
	for i, c := range contents {
		points[i] = "- " + truncateRunes(c, summaryLineChars)
	}

	prompt := fmt.Sprintf(summaryPrompt, strings.Join(points, "\n"))
	reply, err := s.completer.Complete(ctx, prompt)
	if err != nil {
		return "", Unavailable(goerr.Wrap(err, "failed to summarize records", goerr.V("records", len(contents))))
	}
	return strings.TrimSpace(reply), nil
}

// ParseTags splits a comma-separated completion into at most five clean tags.
func ParseTags(reply string) []string {
	var tags []string
	for _, raw := range strings.Split(reply, ",") {
		tag := strings.Trim(strings.TrimSpace(raw), "#\"'`*-.")
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
