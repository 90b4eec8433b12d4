package content

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultDocumentsCollection = "documents"

// FirestoreProvider serves documents from a Firestore collection where each
// document carries the extracted text of an uploaded learning material.
type FirestoreProvider struct {
	client     *firestore.Client
	collection string
}

// FirestoreConfig holds Firestore content provider configuration
type FirestoreConfig struct {
	ProjectID       string
	Database        string
	Collection      string
	CredentialsFile string
}

// firestoreDocument mirrors the stored document shape
type firestoreDocument struct {
	Title         string `firestore:"title"`
	ExtractedText string `firestore:"extractedText"`
}

// NewFirestoreProvider creates a Firestore-backed content provider
func NewFirestoreProvider(ctx context.Context, cfg FirestoreConfig) (*FirestoreProvider, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore content provider requires a project ID")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var client *firestore.Client
	var err error
	if cfg.Database != "" {
		client, err = firestore.NewClientWithDatabase(ctx, cfg.ProjectID, cfg.Database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, cfg.ProjectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = defaultDocumentsCollection
	}

	return &FirestoreProvider{client: client, collection: collection}, nil
}

// NewFirestoreProviderFromClient wraps an existing client, mainly for tests
// against the emulator.
func NewFirestoreProviderFromClient(client *firestore.Client, collection string) *FirestoreProvider {
	if collection == "" {
		collection = defaultDocumentsCollection
	}
	return &FirestoreProvider{client: client, collection: collection}
}

// GetText implements Provider
func (p *FirestoreProvider) GetText(ctx context.Context, documentID string) (string, error) {
	if err := ValidateDocumentID(documentID); err != nil {
		return "", fmt.Errorf("%w: %s", ErrContentUnavailable, err.Error())
	}

	snap, err := p.client.Collection(p.collection).Doc(documentID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", fmt.Errorf("%w: document %s not found", ErrContentUnavailable, documentID)
		}
		return "", fmt.Errorf("load document %s: %w", documentID, err)
	}

	var doc firestoreDocument
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("decode document %s: %w", documentID, err)
	}

	text := strings.TrimSpace(doc.ExtractedText)
	if text == "" {
		return "", fmt.Errorf("%w: document %s has no extractable text", ErrContentUnavailable, documentID)
	}

	return text, nil
}

// GetSnippet implements Provider
func (p *FirestoreProvider) GetSnippet(ctx context.Context, documentID string, maxChars int) (string, error) {
	text, err := p.GetText(ctx, documentID)
	if err != nil {
		return "", err
	}
	return Snippet(text, maxChars), nil
}

// Close implements Provider
func (p *FirestoreProvider) Close() error {
	return p.client.Close()
}
