package analysis

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/chronicle-archive/chronicle/pkg/models"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc", truncate("abcdef", 3))

	// A cut landing inside a multi-byte rune backs up to the boundary.
	cut := truncate("abécd", 3)
	assert.Equal(t, "ab", cut)
	assert.True(t, utf8.ValidString(cut))

	long := strings.Repeat("世", 200)
	cut = truncate(long, 500)
	assert.True(t, utf8.ValidString(cut))
	assert.LessOrEqual(t, len(cut), 500)
}

func TestReplyExcerpt(t *testing.T) {
	name := "Ana"
	content := "a reflection on " + strings.Repeat("ü", 100)
	m := &models.Message{SenderName: &name, Content: &content}

	excerpt := replyExcerpt(m, 20)
	assert.True(t, utf8.ValidString(excerpt))
	assert.Contains(t, excerpt, "Ana: ")
	assert.Contains(t, excerpt, "...")
}
