package out

import (
	"context"

	"triage_server/core/domain"
)

// IntentClassifier labels a message SPAM or PROCESS. On failure or a safety
// block it returns ClassificationUnknown with the cause.
type IntentClassifier interface {
	Classify(ctx context.Context, subject, body string) (domain.Classification, error)
}

// QuerySynthesizer derives marketplace search parameters from a message body.
// It returns nil with an error when the output is unusable. An empty, non-nil
// set means no product reference was found.
type QuerySynthesizer interface {
	Synthesize(ctx context.Context, body string) (domain.SearchParameters, error)
}

// RelevanceEvaluator decides whether items answer the original message.
// Failures count as insufficient.
type RelevanceEvaluator interface {
	IsSufficient(ctx context.Context, body string, items []domain.CatalogItem) bool
}

// ReplyGenerator drafts a reply grounded in items.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, subject, body string, items []domain.CatalogItem) (string, error)
}
