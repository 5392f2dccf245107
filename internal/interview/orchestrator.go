package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/bouncer-ai/internal/agent"
	"github.com/ashureev/bouncer-ai/internal/domain"
	"golang.org/x/sync/errgroup"
)

// bypassScore is reported for both axes when the bypass phrase fires.
const bypassScore = domain.MaxScore

// TurnResult is the outcome of one Evaluate call.
type TurnResult struct {
	NextQuestion      string
	Decision          domain.Decision
	ShouldContinue    bool
	History           []domain.ConversationEntry
	KnowledgeScore    int
	VibeScore         int
	KnowledgeFeedback string
	VibeFeedback      string
	Bypassed          bool
}

// Orchestrator runs interview turns. It holds no per-user state; callers pass
// the stored history in and persist the returned copy.
type Orchestrator struct {
	knowledge    agent.Scorer
	vibe         agent.Scorer
	tone         agent.ToneModifier
	policy       Policy
	bypassPhrase string
	logger       *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTone sets the tone modifier applied to every outgoing question.
func WithTone(tone agent.ToneModifier) Option {
	return func(o *Orchestrator) { o.tone = tone }
}

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithBypassPhrase enables the operator pass phrase. Empty disables it.
func WithBypassPhrase(phrase string) Option {
	return func(o *Orchestrator) { o.bypassPhrase = strings.ToLower(strings.TrimSpace(phrase)) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator over the two axis scorers.
func New(knowledge, vibe agent.Scorer, opts ...Option) (*Orchestrator, error) {
	if knowledge == nil || vibe == nil {
		return nil, fmt.Errorf("both knowledge and vibe scorers are required")
	}
	o := &Orchestrator{
		knowledge: knowledge,
		vibe:      vibe,
		tone:      agent.PassthroughTone{},
		policy:    DefaultPolicy(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tone == nil {
		o.tone = agent.PassthroughTone{}
	}
	if err := o.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return o, nil
}

// Policy returns the active policy.
func (o *Orchestrator) Policy() Policy {
	return o.policy
}

// Evaluate runs one turn. The input history is never modified.
func (o *Orchestrator) Evaluate(ctx context.Context, history []domain.ConversationEntry, cfg domain.BouncerConfig, answer string) (*TurnResult, error) {
	if len(history) == 0 {
		return o.bootstrap(ctx, cfg)
	}

	if err := checkHistory(history); err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, domain.ErrEmptyAnswer
	}

	turn := len(history)
	last := len(history) - 1
	updated := domain.CloneHistory(history)
	updated[last].Answer = &answer

	if o.bypassed(answer) {
		o.logger.Warn("Interview bypass phrase accepted", "project_id", cfg.ProjectID, "turn", turn)
		return &TurnResult{
			Decision:       domain.DecisionComplete,
			History:        updated,
			KnowledgeScore: bypassScore,
			VibeScore:      bypassScore,
			Bypassed:       true,
		}, nil
	}

	knowledge, vibe, err := o.score(ctx, history[:last], cfg, history[last].Question, answer)
	if err != nil {
		return nil, err
	}

	decision, cont := o.policy.Decide(turn, knowledge.Score, vibe.Score)
	result := &TurnResult{
		Decision:          decision,
		ShouldContinue:    cont,
		History:           updated,
		KnowledgeScore:    knowledge.Score,
		VibeScore:         vibe.Score,
		KnowledgeFeedback: knowledge.Feedback,
		VibeFeedback:      vibe.Feedback,
	}

	o.logger.Debug("Interview turn graded",
		"project_id", cfg.ProjectID,
		"turn", turn,
		"knowledge", knowledge.Score,
		"vibe", vibe.Score,
		"decision", decision,
	)

	if !cont {
		return result, nil
	}

	next, err := followUp(knowledge, vibe)
	if err != nil {
		return nil, err
	}
	next = o.applyTone(ctx, next, cfg.CharacterChoice)
	result.NextQuestion = next
	result.History = append(result.History, domain.ConversationEntry{Question: next})
	return result, nil
}

func (o *Orchestrator) bootstrap(ctx context.Context, cfg domain.BouncerConfig) (*TurnResult, error) {
	eval, err := o.knowledge.Score(ctx, agent.ScoreRequest{Axis: domain.AxisKnowledge, Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("opening question: %w", err)
	}
	question := strings.TrimSpace(eval.NextQuestion)
	if question == "" {
		return nil, fmt.Errorf("opening question is empty: %w", domain.ErrMalformedAgentOutput)
	}
	question = o.applyTone(ctx, question, cfg.CharacterChoice)
	return &TurnResult{
		NextQuestion:   question,
		Decision:       domain.DecisionPending,
		ShouldContinue: true,
		History:        []domain.ConversationEntry{{Question: question}},
	}, nil
}

// score grades both axes concurrently. Either failure aborts the turn.
func (o *Orchestrator) score(ctx context.Context, prior []domain.ConversationEntry, cfg domain.BouncerConfig, question, answer string) (domain.Evaluation, domain.Evaluation, error) {
	var knowledge, vibe domain.Evaluation
	g, gctx := errgroup.WithContext(ctx)

	request := func(axis domain.Axis) agent.ScoreRequest {
		return agent.ScoreRequest{
			Axis:     axis,
			History:  domain.CloneHistory(prior),
			Config:   cfg,
			Question: question,
			Answer:   answer,
		}
	}

	g.Go(func() error {
		eval, err := o.knowledge.Score(gctx, request(domain.AxisKnowledge))
		if err != nil {
			return fmt.Errorf("knowledge scorer: %w", err)
		}
		if err := checkScore(eval); err != nil {
			return fmt.Errorf("knowledge scorer: %w", err)
		}
		knowledge = eval
		return nil
	})
	g.Go(func() error {
		eval, err := o.vibe.Score(gctx, request(domain.AxisVibe))
		if err != nil {
			return fmt.Errorf("vibe scorer: %w", err)
		}
		if err := checkScore(eval); err != nil {
			return fmt.Errorf("vibe scorer: %w", err)
		}
		vibe = eval
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.Evaluation{}, domain.Evaluation{}, err
	}
	return knowledge, vibe, nil
}

// applyTone rephrases question into persona, falling back to the original
// question when the modifier fails.
func (o *Orchestrator) applyTone(ctx context.Context, question, persona string) string {
	if strings.TrimSpace(persona) == "" {
		return question
	}
	modified, err := o.tone.Modify(ctx, question, persona)
	if err != nil {
		o.logger.Warn("Tone modifier failed, using original question", "error", err)
		return question
	}
	modified = strings.TrimSpace(modified)
	if modified == "" {
		o.logger.Warn("Tone modifier returned empty text, using original question")
		return question
	}
	return modified
}

func (o *Orchestrator) bypassed(answer string) bool {
	return o.bypassPhrase != "" && strings.Contains(strings.ToLower(answer), o.bypassPhrase)
}

// followUp picks the next question from the weaker axis. Ties go to knowledge.
func followUp(knowledge, vibe domain.Evaluation) (string, error) {
	first, second := knowledge, vibe
	if vibe.Score < knowledge.Score {
		first, second = vibe, knowledge
	}
	if q := strings.TrimSpace(first.NextQuestion); q != "" {
		return q, nil
	}
	if q := strings.TrimSpace(second.NextQuestion); q != "" {
		return q, nil
	}
	return "", fmt.Errorf("no follow-up question: %w", domain.ErrMalformedAgentOutput)
}

// checkHistory enforces that only the last entry is unanswered.
func checkHistory(history []domain.ConversationEntry) error {
	last := len(history) - 1
	for i := 0; i < last; i++ {
		if !history[i].Answered() {
			return fmt.Errorf("entry %d has no answer: %w", i, domain.ErrInvalidHistory)
		}
	}
	if history[last].Answered() {
		return domain.ErrInterviewClosed
	}
	return nil
}

func checkScore(eval domain.Evaluation) error {
	if !inRange(eval.Score) {
		return fmt.Errorf("score %d: %w", eval.Score, domain.ErrInvalidScoreRange)
	}
	return nil
}
