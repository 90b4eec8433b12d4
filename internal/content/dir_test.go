package content

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDirProvider(t *testing.T, docs map[string]string) *DirProvider {
	t.Helper()

	dir := t.TempDir()
	for id, text := range docs {
		path := filepath.Join(dir, id+".txt")
		require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	}

	p, err := NewDirProvider(dir)
	require.NoError(t, err)
	return p
}

func TestDirProvider_GetText(t *testing.T) {
	p := setupDirProvider(t, map[string]string{
		"bio-101": "Photosynthesis converts light energy into chemical energy.\n",
	})

	text, err := p.GetText(context.Background(), "bio-101")
	require.NoError(t, err)
	assert.Equal(t, "Photosynthesis converts light energy into chemical energy.", text)
}

func TestDirProvider_NotFound(t *testing.T) {
	p := setupDirProvider(t, nil)

	_, err := p.GetText(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrContentUnavailable))
}

func TestDirProvider_EmptyDocument(t *testing.T) {
	p := setupDirProvider(t, map[string]string{"blank": "   \n\t  "})

	_, err := p.GetText(context.Background(), "blank")
	assert.True(t, errors.Is(err, ErrContentUnavailable))
}

func TestDirProvider_RejectsUnsafeIDs(t *testing.T) {
	p := setupDirProvider(t, nil)

	for _, id := range []string{"", "../etc/passwd", "a/b", "doc id", strings.Repeat("x", 300)} {
		_, err := p.GetText(context.Background(), id)
		assert.True(t, errors.Is(err, ErrContentUnavailable), "id %q should be rejected", id)
	}
}

func TestDirProvider_GetSnippet(t *testing.T) {
	long := strings.Repeat("cell membrane ", 50)
	p := setupDirProvider(t, map[string]string{"bio-102": long})

	snippet, err := p.GetSnippet(context.Background(), "bio-102", 100)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(snippet), 100)
	assert.False(t, strings.HasSuffix(snippet, " "), "snippet should not end with whitespace")
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		expected string
	}{
		{"short text untouched", "hello world", 100, "hello world"},
		{"zero means no truncation", "hello world", 0, "hello world"},
		{"cut on word boundary", "alpha beta gamma delta", 16, "alpha beta"},
		{"no boundary near cut", "abcdefghijklmnop", 8, "abcdefgh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Snippet(tt.text, tt.maxChars))
		})
	}
}

func TestValidateDocumentID(t *testing.T) {
	assert.NoError(t, ValidateDocumentID("doc_123-abc"))
	assert.Error(t, ValidateDocumentID(""))
	assert.Error(t, ValidateDocumentID("has space"))
	assert.Error(t, ValidateDocumentID("../sneaky"))
}
