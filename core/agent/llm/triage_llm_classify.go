package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/pkg/textutil"
)

const classifyPrompt = `Analyze the following email and classify its main purpose.
Categories:
- SPAM: unsolicited mail, phishing, advertising, or questions entirely unrelated to the store's business.
- PROCESS: a legitimate customer email such as a support request, feedback, or a question that needs handling.

Email subject: %s
Email body:
---
%s
---

Based *only* on the text provided, return *only* one label: SPAM or PROCESS. Do not add any explanation.
Label:`

// Classifier assigns SPAM or PROCESS to a message.
type Classifier struct {
	caller *Caller
	model  *Model
	log    zerolog.Logger
}

func NewClassifier(caller *Caller, model *Model, log zerolog.Logger) *Classifier {
	return &Classifier{
		caller: caller,
		model:  model,
		log:    log.With().Str("component", "classifier").Logger(),
	}
}

// Classify returns SPAM or PROCESS. Output other than those two labels is
// coerced to PROCESS. A failed or blocked call yields UNKNOWN and the cause.
func (c *Classifier) Classify(ctx context.Context, subject, body string) (domain.Classification, error) {
	prompt := fmt.Sprintf(classifyPrompt, subject, textutil.Truncate(body, classifyBodyLimit))

	res := c.caller.Call(ctx, c.model, prompt)
	if !res.OK() {
		return domain.ClassificationUnknown, res.Err
	}

	label := domain.ParseClassification(res.Text)
	if string(label) != normalizeLabel(res.Text) {
		c.log.Warn().Str("raw", textutil.Truncate(res.Text, 100)).Msg("unexpected classification, defaulting to PROCESS")
	}
	c.log.Info().Str("classification", string(label)).Msg("message classified")
	return label, nil
}
