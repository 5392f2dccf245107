// Package agent implements the scoring and tone agents used by the interview.
package agent

import (
	"context"

	"github.com/ashureev/bouncer-ai/internal/domain"
)

// ScoreRequest carries everything a scorer sees for one answer.
// An empty History together with an empty Answer asks for an opening question.
type ScoreRequest struct {
	Axis     domain.Axis
	History  []domain.ConversationEntry
	Config   domain.BouncerConfig
	Question string
	Answer   string
}

// Opening reports whether the request is in opening-question mode.
func (r ScoreRequest) Opening() bool {
	return len(r.History) == 0 && r.Answer == ""
}

// Scorer grades one axis of a candidate's answer.
// Implementations must return scores within [domain.MinScore, domain.MaxScore]
// and must not reveal grading criteria in feedback or questions.
type Scorer interface {
	Score(ctx context.Context, req ScoreRequest) (domain.Evaluation, error)
}

// ToneModifier rephrases a question into a persona without changing its intent.
type ToneModifier interface {
	Modify(ctx context.Context, question, persona string) (string, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, req ScoreRequest) (domain.Evaluation, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, req ScoreRequest) (domain.Evaluation, error) {
	return f(ctx, req)
}

// PassthroughTone returns questions unchanged.
type PassthroughTone struct{}

// Modify returns question as is.
func (PassthroughTone) Modify(_ context.Context, question, _ string) (string, error) {
	return question, nil
}

// Ensure the strategies satisfy the contracts.
var (
	_ Scorer       = (*CombinedAgent)(nil)
	_ Scorer       = (*SplitAgent)(nil)
	_ Scorer       = (*RemoteScorer)(nil)
	_ Scorer       = (*Resilient)(nil)
	_ ToneModifier = (*ToneAgent)(nil)
	_ ToneModifier = PassthroughTone{}
)
