// Package search maintains the embedding index and serves hybrid
// semantic-plus-keyword queries over it.
package search

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

const (
	// maxEmbedChars caps the text sent to the embedding model.
	maxEmbedChars = 8000

	// minMessageChars is the shortest message content worth indexing.
	minMessageChars = 5
)

// hashContent fingerprints embedding input so unchanged entities are never
// re-embedded.
func hashContent(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// capContent shortens oversized text, backing up to a rune boundary so
// the cut never emits a partial UTF-8 sequence.
func capContent(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := maxEmbedChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// messageContent returns the indexable text for a message, or false when
// it is too short to be useful.
func messageContent(m *models.Message) (string, bool) {
	text := strings.TrimSpace(m.TextContent())
	if utf8.RuneCountInString(text) < minMessageChars {
		return "", false
	}
	return capContent(text), true
}

func discussionContent(d *models.Discussion) (string, bool) {
	parts := []string{d.Title}
	if d.Summary != nil && *d.Summary != "" {
		parts = append(parts, *d.Summary)
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	return capContent(text), text != ""
}

func personContent(p *models.Person) (string, bool) {
	var parts []string
	if p.DisplayName != nil && *p.DisplayName != "" {
		parts = append(parts, *p.DisplayName)
	}
	if p.AISummary != nil && *p.AISummary != "" {
		parts = append(parts, *p.AISummary)
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	return capContent(text), text != ""
}

func topicContent(t *models.Topic) (string, bool) {
	parts := []string{t.Name}
	if t.Description != nil && *t.Description != "" {
		parts = append(parts, *t.Description)
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	return capContent(text), text != ""
}
