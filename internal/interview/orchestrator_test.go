package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/bouncer-ai/internal/agent"
	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = domain.BouncerConfig{
	ProjectID:          "proj-1",
	MandatoryKnowledge: "The token has a fixed supply of 1B.",
	ProjectDesc:        "A meme coin for cat lovers.",
	CharacterChoice:    "pirate",
}

func answered(q, a string) domain.ConversationEntry {
	return domain.ConversationEntry{Question: q, Answer: &a}
}

func pendingEntry(q string) domain.ConversationEntry {
	return domain.ConversationEntry{Question: q}
}

// fixedScorer returns the same evaluation for every call and records requests.
type fixedScorer struct {
	mu       sync.Mutex
	eval     domain.Evaluation
	err      error
	requests []agent.ScoreRequest
}

func (s *fixedScorer) Score(_ context.Context, req agent.ScoreRequest) (domain.Evaluation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.eval, s.err
}

func (s *fixedScorer) calls() []agent.ScoreRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agent.ScoreRequest(nil), s.requests...)
}

func scorer(score int, next string) *fixedScorer {
	return &fixedScorer{eval: domain.Evaluation{Score: score, Feedback: "ok", NextQuestion: next}}
}

type fakeTone struct {
	err error
}

func (f fakeTone) Modify(_ context.Context, question, persona string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return persona + ": " + question, nil
}

func newOrchestrator(t *testing.T, k, v agent.Scorer, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(k, v, opts...)
	require.NoError(t, err)
	return o
}

func TestNewRequiresScorers(t *testing.T) {
	_, err := New(nil, scorer(5, "q"))
	assert.Error(t, err)
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.MaxTurns = 0
	_, err := New(scorer(5, "q"), scorer(5, "q"), WithPolicy(p))
	assert.Error(t, err)
}

func TestEvaluateBootstrap(t *testing.T) {
	k := scorer(0, "What is the total supply?")
	o := newOrchestrator(t, k, scorer(0, "unused"), WithTone(fakeTone{}))

	res, err := o.Evaluate(context.Background(), nil, testConfig, "")
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionPending, res.Decision)
	assert.True(t, res.ShouldContinue)
	assert.Equal(t, "pirate: What is the total supply?", res.NextQuestion)
	require.Len(t, res.History, 1)
	assert.Nil(t, res.History[0].Answer)

	calls := k.calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Opening())
}

func TestEvaluateBootstrapRejectsEmptyQuestion(t *testing.T) {
	o := newOrchestrator(t, scorer(0, "  "), scorer(0, ""))
	_, err := o.Evaluate(context.Background(), nil, testConfig, "")
	assert.ErrorIs(t, err, domain.ErrMalformedAgentOutput)
	assert.ErrorIs(t, err, domain.ErrAgentCall)
}

func TestEvaluateToneFailureFallsBack(t *testing.T) {
	o := newOrchestrator(t, scorer(0, "Why this project?"), scorer(0, ""), WithTone(fakeTone{err: errors.New("upstream down")}))

	res, err := o.Evaluate(context.Background(), nil, testConfig, "")
	require.NoError(t, err)
	assert.Equal(t, "Why this project?", res.NextQuestion)
}

func TestEvaluateSkipsToneWithoutPersona(t *testing.T) {
	cfg := testConfig
	cfg.CharacterChoice = ""
	o := newOrchestrator(t, scorer(0, "Why this project?"), scorer(0, ""), WithTone(fakeTone{}))

	res, err := o.Evaluate(context.Background(), nil, cfg, "")
	require.NoError(t, err)
	assert.Equal(t, "Why this project?", res.NextQuestion)
}

func TestEvaluateEarlyPass(t *testing.T) {
	history := []domain.ConversationEntry{
		answered("q1", "a1"),
		pendingEntry("q2"),
	}
	o := newOrchestrator(t, scorer(9, "k-next"), scorer(9, "v-next"))

	res, err := o.Evaluate(context.Background(), history, testConfig, "great answer")
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionComplete, res.Decision)
	assert.False(t, res.ShouldContinue)
	assert.Empty(t, res.NextQuestion)
	require.Len(t, res.History, 2)
	require.NotNil(t, res.History[1].Answer)
	assert.Equal(t, "great answer", *res.History[1].Answer)
}

func TestEvaluateEarlyPassDisabledByPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.Early = Threshold{Knowledge: 10, Vibe: 10}
	history := []domain.ConversationEntry{
		answered("q1", "a1"),
		pendingEntry("q2"),
	}
	o := newOrchestrator(t, scorer(9, "k-next"), scorer(9, "v-next"), WithPolicy(p))

	res, err := o.Evaluate(context.Background(), history, testConfig, "great answer")
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionPending, res.Decision)
	assert.True(t, res.ShouldContinue)
	require.Len(t, res.History, 3)
	assert.Equal(t, res.NextQuestion, res.History[2].Question)
	assert.Nil(t, res.History[2].Answer)
}

func TestEvaluateHardFailure(t *testing.T) {
	for turn := 1; turn <= 5; turn++ {
		history := make([]domain.ConversationEntry, 0, turn)
		for i := 1; i < turn; i++ {
			history = append(history, answered("q", "a"))
		}
		history = append(history, pendingEntry("last"))

		o := newOrchestrator(t, scorer(1, "k-next"), scorer(9, "v-next"))
		res, err := o.Evaluate(context.Background(), history, testConfig, "whatever")
		require.NoError(t, err)

		assert.Equal(t, domain.DecisionFailed, res.Decision, "turn %d", turn)
		assert.False(t, res.ShouldContinue)
		assert.Empty(t, res.NextQuestion)
	}
}

func TestEvaluateCeilingStops(t *testing.T) {
	history := []domain.ConversationEntry{
		answered("q1", "a1"),
		answered("q2", "a2"),
		answered("q3", "a3"),
		answered("q4", "a4"),
		pendingEntry("q5"),
	}
	o := newOrchestrator(t, scorer(5, "k-next"), scorer(5, "v-next"))

	res, err := o.Evaluate(context.Background(), history, testConfig, "meh")
	require.NoError(t, err)
	assert.False(t, res.ShouldContinue)
	assert.Equal(t, domain.DecisionFailed, res.Decision)
	assert.Len(t, res.History, 5)
}

func TestEvaluateWeakerAxisDrivesFollowUp(t *testing.T) {
	history := []domain.ConversationEntry{pendingEntry("q1")}

	o := newOrchestrator(t, scorer(4, "knowledge follow-up"), scorer(7, "vibe follow-up"))
	res, err := o.Evaluate(context.Background(), history, testConfig, "hello")
	require.NoError(t, err)
	assert.Equal(t, "knowledge follow-up", res.NextQuestion)

	o = newOrchestrator(t, scorer(8, "knowledge follow-up"), scorer(3, "vibe follow-up"))
	res, err = o.Evaluate(context.Background(), history, testConfig, "hello")
	require.NoError(t, err)
	assert.Equal(t, "vibe follow-up", res.NextQuestion)

	o = newOrchestrator(t, scorer(3, ""), scorer(6, "vibe follow-up"))
	res, err = o.Evaluate(context.Background(), history, testConfig, "hello")
	require.NoError(t, err)
	assert.Equal(t, "vibe follow-up", res.NextQuestion)
}

func TestEvaluateFollowUpToned(t *testing.T) {
	history := []domain.ConversationEntry{pendingEntry("q1")}
	o := newOrchestrator(t, scorer(5, "next?"), scorer(6, "other"), WithTone(fakeTone{}))

	res, err := o.Evaluate(context.Background(), history, testConfig, "hello")
	require.NoError(t, err)
	assert.Equal(t, "pirate: next?", res.NextQuestion)
}

func TestEvaluateBypassPhrase(t *testing.T) {
	failing := agent.ScorerFunc(func(context.Context, agent.ScoreRequest) (domain.Evaluation, error) {
		t.Fatal("scorer must not be called on bypass")
		return domain.Evaluation{}, nil
	})
	o := newOrchestrator(t, failing, failing, WithBypassPhrase("Open Sesame"))

	history := []domain.ConversationEntry{pendingEntry("q1")}
	res, err := o.Evaluate(context.Background(), history, testConfig, "well... OPEN SESAME please")
	require.NoError(t, err)

	assert.True(t, res.Bypassed)
	assert.Equal(t, domain.DecisionComplete, res.Decision)
	assert.Equal(t, domain.MaxScore, res.KnowledgeScore)
	assert.Equal(t, domain.MaxScore, res.VibeScore)
	assert.False(t, res.ShouldContinue)
}

func TestEvaluateBypassDisabledByDefault(t *testing.T) {
	k := scorer(5, "next")
	o := newOrchestrator(t, k, scorer(5, "next"))

	history := []domain.ConversationEntry{pendingEntry("q1")}
	res, err := o.Evaluate(context.Background(), history, testConfig, "open sesame")
	require.NoError(t, err)
	assert.False(t, res.Bypassed)
	assert.Len(t, k.calls(), 1)
}

func TestEvaluateAgentFailureLeavesHistoryUntouched(t *testing.T) {
	history := []domain.ConversationEntry{
		answered("q1", "a1"),
		pendingEntry("q2"),
	}
	snapshot := domain.CloneHistory(history)

	vibe := &fixedScorer{err: errors.New("connection reset")}
	o := newOrchestrator(t, scorer(7, "next"), vibe)

	res, err := o.Evaluate(context.Background(), history, testConfig, "answer")
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, cmp.Diff(snapshot, history))
}

func TestEvaluateRejectsOutOfRangeScore(t *testing.T) {
	history := []domain.ConversationEntry{pendingEntry("q1")}
	o := newOrchestrator(t, scorer(11, "next"), scorer(5, "next"))

	_, err := o.Evaluate(context.Background(), history, testConfig, "answer")
	assert.ErrorIs(t, err, domain.ErrInvalidScoreRange)
	assert.ErrorIs(t, err, domain.ErrAgentCall)
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	o := newOrchestrator(t, scorer(5, "next"), scorer(5, "next"))

	_, err := o.Evaluate(context.Background(), []domain.ConversationEntry{answered("q1", "a1")}, testConfig, "x")
	assert.ErrorIs(t, err, domain.ErrInterviewClosed)

	_, err = o.Evaluate(context.Background(), []domain.ConversationEntry{pendingEntry("q1"), pendingEntry("q2")}, testConfig, "x")
	assert.ErrorIs(t, err, domain.ErrInvalidHistory)

	_, err = o.Evaluate(context.Background(), []domain.ConversationEntry{pendingEntry("q1")}, testConfig, "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyAnswer)
}

func TestEvaluatePassesPriorHistoryToScorers(t *testing.T) {
	history := []domain.ConversationEntry{
		answered("q1", "a1"),
		answered("q2", "a2"),
		pendingEntry("q3"),
	}
	k := scorer(5, "next")
	v := scorer(6, "next")
	o := newOrchestrator(t, k, v)

	_, err := o.Evaluate(context.Background(), history, testConfig, "a3")
	require.NoError(t, err)

	for _, s := range []*fixedScorer{k, v} {
		calls := s.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "q3", calls[0].Question)
		assert.Equal(t, "a3", calls[0].Answer)
		assert.Empty(t, cmp.Diff(history[:2], calls[0].History))
	}
	assert.Equal(t, domain.AxisKnowledge, k.calls()[0].Axis)
	assert.Equal(t, domain.AxisVibe, v.calls()[0].Axis)
}

func TestEvaluateScoresConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() {
		started.Wait()
		close(both)
	}()

	barrier := func(score int) agent.Scorer {
		return agent.ScorerFunc(func(ctx context.Context, _ agent.ScoreRequest) (domain.Evaluation, error) {
			started.Done()
			select {
			case <-both:
				return domain.Evaluation{Score: score, NextQuestion: "next"}, nil
			case <-ctx.Done():
				return domain.Evaluation{}, ctx.Err()
			}
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	o := newOrchestrator(t, barrier(5), barrier(6))
	res, err := o.Evaluate(ctx, []domain.ConversationEntry{pendingEntry("q1")}, testConfig, "hi")
	require.NoError(t, err)
	assert.Equal(t, 5, res.KnowledgeScore)
	assert.Equal(t, 6, res.VibeScore)
}

func TestEvaluateSinglePendingInvariant(t *testing.T) {
	o := newOrchestrator(t, scorer(5, "next"), scorer(5, "next"))

	res, err := o.Evaluate(context.Background(), nil, testConfig, "")
	require.NoError(t, err)
	history := res.History

	for res.ShouldContinue {
		pendingCount := 0
		for i, e := range history {
			if !e.Answered() {
				pendingCount++
				assert.Equal(t, len(history)-1, i)
			}
		}
		assert.Equal(t, 1, pendingCount)

		res, err = o.Evaluate(context.Background(), history, testConfig, "an answer")
		require.NoError(t, err)
		history = res.History
	}

	assert.Len(t, history, DefaultPolicy().MaxTurns)
	for _, e := range history {
		assert.True(t, e.Answered())
	}
}
