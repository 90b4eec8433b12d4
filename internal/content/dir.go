package content

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirProvider serves documents from a directory of plain-text files, one
// <documentID>.txt per document. Used for local runs and tests.
type DirProvider struct {
	dir string
}

// NewDirProvider creates a directory-backed content provider
func NewDirProvider(dir string) (*DirProvider, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("content directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content path %s is not a directory", dir)
	}
	return &DirProvider{dir: dir}, nil
}

// GetText implements Provider
func (p *DirProvider) GetText(ctx context.Context, documentID string) (string, error) {
	if err := ValidateDocumentID(documentID); err != nil {
		return "", fmt.Errorf("%w: %s", ErrContentUnavailable, err.Error())
	}

	path := filepath.Join(p.dir, documentID+".txt")
	data, err := os.ReadFile(path) //nolint:gosec // path built from a validated ID
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: document %s not found", ErrContentUnavailable, documentID)
		}
		return "", fmt.Errorf("read document %s: %w", documentID, err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("%w: document %s has no extractable text", ErrContentUnavailable, documentID)
	}

	return text, nil
}

// GetSnippet implements Provider
func (p *DirProvider) GetSnippet(ctx context.Context, documentID string, maxChars int) (string, error) {
	text, err := p.GetText(ctx, documentID)
	if err != nil {
		return "", err
	}
	return Snippet(text, maxChars), nil
}

// Close implements Provider
func (p *DirProvider) Close() error {
	return nil
}
