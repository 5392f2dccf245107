package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigMissing is returned when a project has no BouncerConfig.
	ErrConfigMissing = errors.New("bouncer config missing")

	// ErrAgentCall covers any failure of a scoring or tone agent.
	ErrAgentCall = errors.New("agent call failed")

	// ErrInvalidScoreRange is an agent score outside [MinScore, MaxScore].
	ErrInvalidScoreRange = fmt.Errorf("%w: score out of range", ErrAgentCall)

	// ErrMalformedAgentOutput is agent output that does not decode into an Evaluation.
	ErrMalformedAgentOutput = fmt.Errorf("%w: malformed agent output", ErrAgentCall)

	// ErrSessionMissing is returned when no live session exists for a user.
	ErrSessionMissing = errors.New("session missing")

	// ErrSessionConflict is a compare-and-set failure on session write.
	ErrSessionConflict = errors.New("session modified concurrently")

	// ErrInterviewClosed is returned for turns against a final interview.
	ErrInterviewClosed = errors.New("interview closed")

	// ErrInvalidHistory is a history that breaks the pending-last invariant.
	ErrInvalidHistory = errors.New("invalid conversation history")

	// ErrEmptyAnswer is an empty answer to an outstanding question.
	ErrEmptyAnswer = errors.New("answer is empty")

	// ErrNotEligible is a claim against an interview that did not pass.
	ErrNotEligible = errors.New("not eligible for allocation")

	// ErrWalletMissing is a claim by a user with no bound wallet.
	ErrWalletMissing = errors.New("wallet address not bound")
)
