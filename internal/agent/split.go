package agent

import (
	"context"
	"fmt"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"
)

// SplitAgent uses separate question-generator and score-only calls.
// The two calls are independent and run concurrently.
type SplitAgent struct {
	questions model.BaseChatModel
	scorer    model.BaseChatModel
	axis      domain.Axis
}

// NewSplitAgent creates a split scorer. The same model may serve both roles.
func NewSplitAgent(questions, scorer model.BaseChatModel, axis domain.Axis) *SplitAgent {
	return &SplitAgent{questions: questions, scorer: scorer, axis: axis}
}

// Score implements Scorer.
func (a *SplitAgent) Score(ctx context.Context, req ScoreRequest) (domain.Evaluation, error) {
	if req.Opening() {
		q, err := generateQuestion(ctx, a.questions, a.axis, req, openingFormat)
		if err != nil {
			return domain.Evaluation{}, err
		}
		return domain.Evaluation{NextQuestion: q}, nil
	}

	var eval domain.Evaluation
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		q, err := generateQuestion(gctx, a.questions, a.axis, req, questionOnlyFormat)
		if err != nil {
			return err
		}
		eval.NextQuestion = q
		return nil
	})
	g.Go(func() error {
		content, err := generate(gctx, a.scorer, []*schema.Message{
			schema.SystemMessage(systemPrompt(a.axis, req.Config, scoreOnlyFormat)),
			schema.UserMessage(transcript(req)),
		})
		if err != nil {
			return fmt.Errorf("%s score: %w", a.axis, err)
		}
		score, feedback, err := parseScore(content)
		if err != nil {
			return fmt.Errorf("%s score: %w", a.axis, err)
		}
		eval.Score = score
		eval.Feedback = feedback
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.Evaluation{}, err
	}
	return eval, nil
}
