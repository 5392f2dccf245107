package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ToneAgent rewrites questions into a persona with a chat model.
type ToneAgent struct {
	model   model.BaseChatModel
	timeout time.Duration
}

// NewToneAgent creates a tone modifier. A zero timeout means no limit.
func NewToneAgent(m model.BaseChatModel, timeout time.Duration) *ToneAgent {
	return &ToneAgent{model: m, timeout: timeout}
}

// Modify implements ToneModifier.
func (a *ToneAgent) Modify(ctx context.Context, question, persona string) (string, error) {
	if strings.TrimSpace(persona) == "" {
		return question, nil
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	content, err := generate(ctx, a.model, []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(tonePrompt, persona)),
		schema.UserMessage(question),
	})
	if err != nil {
		return "", fmt.Errorf("tone: %w", err)
	}
	out := strings.Trim(strings.TrimSpace(content), `"`)
	if out == "" {
		return "", fmt.Errorf("tone: %w", domain.ErrMalformedAgentOutput)
	}
	return out, nil
}
