package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/pkg/textutil"
)

// FallbackReply is sent when there is nothing to ground a reply in.
const FallbackReply = "Thank you for contacting us. We could not find specific information about your request yet. Our support team will review it and get back to you."

const replyPrompt = `You are a friendly and polite customer support assistant.
A customer sent the following email:
Subject: %s
Body:
---
%s
---

Using *only* the section 'Relevant listings found on eBay' below, write a helpful and concise reply to the customer in %s.
- Address the customer's question or issue based on their email.
- Use the provided eBay listing information to answer.
- For each relevant listing in the context, include its title, price, and link.
- If the listing information is relevant but incomplete, say so.
- Do NOT invent information that is not in the context.
- Do NOT quote the context directly (for example, do not say "According to Listing 1..."). Synthesize the information.
- If the listings are not relevant, politely say no suitable product was found and the team will review the request.
- Keep a professional and friendly tone. Open with a polite greeting and close appropriately.
- Do NOT include the customer's original email in the reply.
- Produce *only* the body of the reply email.

%s

Reply body:`

// ReplyGenerator drafts customer replies grounded in listings.
type ReplyGenerator struct {
	caller   *Caller
	model    *Model
	language string
	log      zerolog.Logger
}

func NewReplyGenerator(caller *Caller, model *Model, language string, log zerolog.Logger) *ReplyGenerator {
	if language == "" {
		language = "English"
	}
	return &ReplyGenerator{
		caller:   caller,
		model:    model,
		language: language,
		log:      log.With().Str("component", "reply_generator").Logger(),
	}
}

// GenerateReply returns FallbackReply without a call when items is empty.
func (g *ReplyGenerator) GenerateReply(ctx context.Context, subject, body string, items []domain.CatalogItem) (string, error) {
	if len(items) == 0 {
		g.log.Warn().Msg("no listings to ground the reply, using fallback text")
		return FallbackReply, nil
	}

	prompt := fmt.Sprintf(replyPrompt, subject, textutil.Truncate(body, replyBodyLimit), g.language, itemContext(items))
	res := g.caller.Call(ctx, g.model, prompt)
	if !res.OK() {
		return "", res.Err
	}

	g.log.Debug().Str("reply", textutil.Truncate(res.Text, 200)).Msg("reply generated")
	return res.Text, nil
}
