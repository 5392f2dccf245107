package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// evaluationWire is the JSON shape a combined scorer must return.
type evaluationWire struct {
	Score        *int   `json:"score" validate:"required"`
	Feedback     string `json:"feedback"`
	NextQuestion string `json:"nextQuestion"`
}

// scoreWire is the JSON shape of a score-only call.
type scoreWire struct {
	Score    *int   `json:"score" validate:"required"`
	Feedback string `json:"feedback"`
}

// questionWire is the JSON shape of a question-generator call.
type questionWire struct {
	NextQuestion string `json:"nextQuestion" validate:"required"`
}

// ParseEvaluation decodes a model response into an Evaluation.
func ParseEvaluation(raw string) (domain.Evaluation, error) {
	w, err := decodeStrict[evaluationWire](raw)
	if err != nil {
		return domain.Evaluation{}, err
	}
	eval := domain.Evaluation{
		Score:        *w.Score,
		Feedback:     strings.TrimSpace(w.Feedback),
		NextQuestion: strings.TrimSpace(w.NextQuestion),
	}
	if err := validateEvaluation(eval); err != nil {
		return domain.Evaluation{}, err
	}
	return eval, nil
}

func parseScore(raw string) (int, string, error) {
	w, err := decodeStrict[scoreWire](raw)
	if err != nil {
		return 0, "", err
	}
	if err := validateEvaluation(domain.Evaluation{Score: *w.Score}); err != nil {
		return 0, "", err
	}
	return *w.Score, strings.TrimSpace(w.Feedback), nil
}

func parseQuestion(raw string) (string, error) {
	w, err := decodeStrict[questionWire](raw)
	if err != nil {
		return "", err
	}
	q := strings.TrimSpace(w.NextQuestion)
	if q == "" {
		return "", fmt.Errorf("empty question: %w", domain.ErrMalformedAgentOutput)
	}
	return q, nil
}

func validateEvaluation(eval domain.Evaluation) error {
	if err := validate.Struct(eval); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Field() == "Score" {
					return fmt.Errorf("score %d: %w", eval.Score, domain.ErrInvalidScoreRange)
				}
			}
		}
		return fmt.Errorf("%w: %v", domain.ErrMalformedAgentOutput, err)
	}
	return nil
}

// decodeStrict strips markdown code fences and decodes exactly one JSON
// object, rejecting unknown fields and trailing data.
func decodeStrict[T any](raw string) (T, error) {
	var out T

	body := stripCodeFence(raw)
	if body == "" {
		return out, fmt.Errorf("empty response: %w", domain.ErrMalformedAgentOutput)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("%w: decode: %v", domain.ErrMalformedAgentOutput, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return out, fmt.Errorf("%w: trailing data after JSON object", domain.ErrMalformedAgentOutput)
	}
	if err := validate.Struct(out); err != nil {
		return out, fmt.Errorf("%w: %v", domain.ErrMalformedAgentOutput, err)
	}
	return out, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
