package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChatModel answers Generate calls with reply and records the prompts.
type fakeChatModel struct {
	mu    sync.Mutex
	reply func(messages []*schema.Message) (string, error)
	calls [][]*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, input)
	f.mu.Unlock()
	content, err := f.reply(input)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeChatModel) systemPrompt(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i][0].Content
}

func replying(content string) *fakeChatModel {
	return &fakeChatModel{reply: func([]*schema.Message) (string, error) { return content, nil }}
}

var agentConfig = domain.BouncerConfig{
	ProjectID:          "cats",
	MandatoryKnowledge: "SUPPLY-IS-ONE-BILLION",
	ProjectDesc:        "Cat coin",
	CharacterChoice:    "grumpy cat",
}

func answerRequest(axis domain.Axis) ScoreRequest {
	a := "for the memes"
	return ScoreRequest{
		Axis:     axis,
		History:  []domain.ConversationEntry{{Question: "Why are you here?", Answer: &a}},
		Config:   agentConfig,
		Question: "What is the supply?",
		Answer:   "one billion",
	}
}

func TestCombinedAgentScore(t *testing.T) {
	m := replying(`{"score": 8, "feedback": "knows it", "nextQuestion": "Who founded it?"}`)
	a := NewCombinedAgent(m, domain.AxisKnowledge)

	eval, err := a.Score(context.Background(), answerRequest(domain.AxisKnowledge))
	require.NoError(t, err)
	assert.Equal(t, 8, eval.Score)
	assert.Equal(t, "Who founded it?", eval.NextQuestion)
	assert.Contains(t, m.systemPrompt(0), "SUPPLY-IS-ONE-BILLION")
}

func TestCombinedAgentVibePromptOmitsKnowledge(t *testing.T) {
	m := replying(`{"score": 6, "feedback": "fun", "nextQuestion": "Favourite meme?"}`)
	a := NewCombinedAgent(m, domain.AxisVibe)

	_, err := a.Score(context.Background(), answerRequest(domain.AxisVibe))
	require.NoError(t, err)
	assert.NotContains(t, m.systemPrompt(0), "SUPPLY-IS-ONE-BILLION")
}

func TestCombinedAgentOpening(t *testing.T) {
	m := replying(`{"nextQuestion": "What brings you to the door?"}`)
	a := NewCombinedAgent(m, domain.AxisKnowledge)

	eval, err := a.Score(context.Background(), ScoreRequest{Axis: domain.AxisKnowledge, Config: agentConfig})
	require.NoError(t, err)
	assert.Equal(t, "What brings you to the door?", eval.NextQuestion)
	assert.Equal(t, 0, eval.Score)
}

func TestCombinedAgentErrors(t *testing.T) {
	failing := &fakeChatModel{reply: func([]*schema.Message) (string, error) { return "", errors.New("503") }}
	_, err := NewCombinedAgent(failing, domain.AxisKnowledge).Score(context.Background(), answerRequest(domain.AxisKnowledge))
	assert.ErrorIs(t, err, domain.ErrAgentCall)

	garbage := replying("sure! 7/10")
	_, err = NewCombinedAgent(garbage, domain.AxisKnowledge).Score(context.Background(), answerRequest(domain.AxisKnowledge))
	assert.ErrorIs(t, err, domain.ErrMalformedAgentOutput)

	outOfRange := replying(`{"score": 42, "feedback": "", "nextQuestion": "q"}`)
	_, err = NewCombinedAgent(outOfRange, domain.AxisKnowledge).Score(context.Background(), answerRequest(domain.AxisKnowledge))
	assert.ErrorIs(t, err, domain.ErrInvalidScoreRange)
}

func TestSplitAgentScore(t *testing.T) {
	questions := replying(`{"nextQuestion": "Which chain is it on?"}`)
	scores := replying(`{"score": 5, "feedback": "partial"}`)
	a := NewSplitAgent(questions, scores, domain.AxisKnowledge)

	eval, err := a.Score(context.Background(), answerRequest(domain.AxisKnowledge))
	require.NoError(t, err)
	assert.Equal(t, domain.Evaluation{Score: 5, Feedback: "partial", NextQuestion: "Which chain is it on?"}, eval)
	assert.Equal(t, 1, questions.callCount())
	assert.Equal(t, 1, scores.callCount())
}

func TestSplitAgentOpeningSkipsScorer(t *testing.T) {
	questions := replying(`{"nextQuestion": "Hello there, who are you?"}`)
	scores := replying(`{"score": 5, "feedback": "partial"}`)
	a := NewSplitAgent(questions, scores, domain.AxisVibe)

	eval, err := a.Score(context.Background(), ScoreRequest{Axis: domain.AxisVibe, Config: agentConfig})
	require.NoError(t, err)
	assert.Equal(t, "Hello there, who are you?", eval.NextQuestion)
	assert.Equal(t, 0, scores.callCount())
}

func TestSplitAgentScoreFailure(t *testing.T) {
	questions := replying(`{"nextQuestion": "Which chain?"}`)
	scores := replying(`{"score": -3, "feedback": ""}`)
	_, err := NewSplitAgent(questions, scores, domain.AxisKnowledge).Score(context.Background(), answerRequest(domain.AxisKnowledge))
	assert.ErrorIs(t, err, domain.ErrInvalidScoreRange)
}

func TestToneAgent(t *testing.T) {
	m := replying(`"Arr, what be the supply, matey?"`)
	a := NewToneAgent(m, time.Second)

	out, err := a.Modify(context.Background(), "What is the supply?", "pirate")
	require.NoError(t, err)
	assert.Equal(t, "Arr, what be the supply, matey?", out)
	assert.True(t, strings.Contains(m.systemPrompt(0), "pirate"))

	out, err = a.Modify(context.Background(), "unchanged", "")
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
	assert.Equal(t, 1, m.callCount())
}

func TestToneAgentErrors(t *testing.T) {
	empty := replying("   ")
	_, err := NewToneAgent(empty, 0).Modify(context.Background(), "q", "pirate")
	assert.ErrorIs(t, err, domain.ErrMalformedAgentOutput)

	failing := &fakeChatModel{reply: func([]*schema.Message) (string, error) { return "", errors.New("boom") }}
	_, err = NewToneAgent(failing, 0).Modify(context.Background(), "q", "pirate")
	assert.ErrorIs(t, err, domain.ErrAgentCall)
}

func TestResilientRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	flaky := ScorerFunc(func(context.Context, ScoreRequest) (domain.Evaluation, error) {
		if calls.Add(1) < 3 {
			return domain.Evaluation{}, domain.ErrMalformedAgentOutput
		}
		return domain.Evaluation{Score: 7}, nil
	})
	r := NewResilient(flaky, ResilientConfig{Name: "knowledge", MaxAttempts: 3, BaseDelay: time.Millisecond})

	eval, err := r.Score(context.Background(), ScoreRequest{})
	require.NoError(t, err)
	assert.Equal(t, 7, eval.Score)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResilientGivesUp(t *testing.T) {
	var calls atomic.Int32
	broken := ScorerFunc(func(context.Context, ScoreRequest) (domain.Evaluation, error) {
		calls.Add(1)
		return domain.Evaluation{}, errors.New("connection refused")
	})
	r := NewResilient(broken, ResilientConfig{Name: "vibe", MaxAttempts: 2, BaseDelay: time.Millisecond})

	_, err := r.Score(context.Background(), ScoreRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAgentCall)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResilientTimeout(t *testing.T) {
	slow := ScorerFunc(func(ctx context.Context, _ ScoreRequest) (domain.Evaluation, error) {
		<-ctx.Done()
		return domain.Evaluation{}, ctx.Err()
	})
	r := NewResilient(slow, ResilientConfig{Name: "slow", Timeout: 20 * time.Millisecond, MaxAttempts: 1})

	start := time.Now()
	_, err := r.Score(context.Background(), ScoreRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrAgentCall)
	assert.Less(t, time.Since(start), time.Second)
}

func TestResilientStopsOnParentCancel(t *testing.T) {
	var calls atomic.Int32
	broken := ScorerFunc(func(context.Context, ScoreRequest) (domain.Evaluation, error) {
		calls.Add(1)
		return domain.Evaluation{}, errors.New("nope")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewResilient(broken, ResilientConfig{MaxAttempts: 5, BaseDelay: time.Hour})
	_, err := r.Score(ctx, ScoreRequest{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScoreRequestOpening(t *testing.T) {
	assert.True(t, ScoreRequest{}.Opening())
	assert.False(t, ScoreRequest{Answer: "x"}.Opening())
	assert.False(t, answerRequest(domain.AxisVibe).Opening())
}
