package agent

import (
	"context"
	"fmt"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// CombinedAgent grades an answer and proposes the follow-up in one model call.
type CombinedAgent struct {
	model model.BaseChatModel
	axis  domain.Axis
}

// NewCombinedAgent creates a combined scorer for axis.
func NewCombinedAgent(m model.BaseChatModel, axis domain.Axis) *CombinedAgent {
	return &CombinedAgent{model: m, axis: axis}
}

// Score implements Scorer.
func (a *CombinedAgent) Score(ctx context.Context, req ScoreRequest) (domain.Evaluation, error) {
	if req.Opening() {
		q, err := generateQuestion(ctx, a.model, a.axis, req, openingFormat)
		if err != nil {
			return domain.Evaluation{}, err
		}
		return domain.Evaluation{NextQuestion: q}, nil
	}

	content, err := generate(ctx, a.model, []*schema.Message{
		schema.SystemMessage(systemPrompt(a.axis, req.Config, combinedFormat)),
		schema.UserMessage(transcript(req)),
	})
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("%s agent: %w", a.axis, err)
	}
	eval, err := ParseEvaluation(content)
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("%s agent: %w", a.axis, err)
	}
	return eval, nil
}

// generate runs one chat completion and returns its text content.
func generate(ctx context.Context, m model.BaseChatModel, messages []*schema.Message) (string, error) {
	resp, err := m.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: llm generate: %w", domain.ErrAgentCall, err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: llm returned no message", domain.ErrMalformedAgentOutput)
	}
	return resp.Content, nil
}

func generateQuestion(ctx context.Context, m model.BaseChatModel, axis domain.Axis, req ScoreRequest, format string) (string, error) {
	user := "The candidate has just arrived."
	if !req.Opening() {
		user = transcript(req)
	}
	content, err := generate(ctx, m, []*schema.Message{
		schema.SystemMessage(systemPrompt(axis, req.Config, format)),
		schema.UserMessage(user),
	})
	if err != nil {
		return "", fmt.Errorf("%s question: %w", axis, err)
	}
	q, err := parseQuestion(content)
	if err != nil {
		return "", fmt.Errorf("%s question: %w", axis, err)
	}
	return q, nil
}
