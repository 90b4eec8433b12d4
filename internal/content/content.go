// Package content resolves learning-material documents to extracted text.
// Workflows never read documents directly; they go through a Provider so the
// backing store (Firestore in production, a directory locally) can change
// without touching workflow code.
package content

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrContentUnavailable indicates the document does not exist or has no
// extractable text.
var ErrContentUnavailable = errors.New("content unavailable")

// DefaultSnippetChars bounds the text handed to quiz generation prompts
const DefaultSnippetChars = 4000

// Provider resolves document IDs to extracted text
type Provider interface {
	// GetText returns the full extracted text for a document
	GetText(ctx context.Context, documentID string) (string, error)

	// GetSnippet returns at most maxChars of extracted text, cut on a word
	// boundary where possible
	GetSnippet(ctx context.Context, documentID string, maxChars int) (string, error)

	// Close releases backend resources
	Close() error
}

var docIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateDocumentID rejects IDs that could escape the backing store's
// namespace.
func ValidateDocumentID(id string) error {
	if id == "" {
		return errors.New("document ID cannot be empty")
	}
	if len(id) > 256 {
		return errors.New("document ID too long (max 256 characters)")
	}
	if !docIDPattern.MatchString(id) {
		return errors.New("document ID contains invalid characters (allowed: letters, digits, underscore, hyphen)")
	}
	return nil
}

// Snippet truncates text to maxChars, preferring a word boundary near the
// cut. maxChars <= 0 means no truncation.
func Snippet(text string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(text) <= maxChars {
		return text
	}

	runes := []rune(text)
	cut := runes[:maxChars]

	// Back up to the last space so we don't cut mid-word, unless that would
	// discard most of the snippet
	if idx := strings.LastIndexFunc(string(cut), func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }); idx > maxChars/2 {
		return strings.TrimRight(string(cut)[:idx], " \n\t")
	}
	return string(cut)
}
