// Package bouncer runs interviews against stored sessions and issues
// purchase authorizations to candidates who pass.
package bouncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/bouncer-ai/internal/allocation"
	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/ashureev/bouncer-ai/internal/interview"
	"github.com/ashureev/bouncer-ai/internal/projects"
	"github.com/ashureev/bouncer-ai/internal/signature"
	"github.com/ashureev/bouncer-ai/internal/store"
	"github.com/ashureev/bouncer-ai/internal/telemetry"
	"github.com/ashureev/bouncer-ai/internal/transcript"
	"github.com/ethereum/go-ethereum/common"
)

// ErrSigningDisabled is returned by Claim when no signing key is configured.
var ErrSigningDisabled = errors.New("signing disabled")

// ErrContractMissing is returned by Claim when neither the project nor the
// service has a sale contract address.
var ErrContractMissing = errors.New("sale contract address not configured")

// DefaultSessionTTL is how long a login session lives without writes.
const DefaultSessionTTL = 24 * time.Hour

// Deps are the collaborators of a Service. Signer, Transcript and Tracker
// are optional.
type Deps struct {
	Sessions     store.SessionStore
	Users        store.UserStore
	Configs      projects.Source
	Nonces       signature.NonceSource
	Orchestrator *interview.Orchestrator
	Allocator    *allocation.Calculator
	Signer       *signature.Signer
	Transcript   *transcript.Logger
	Tracker      telemetry.Tracker
	Logger       *slog.Logger

	SessionTTL      time.Duration
	DefaultContract string
	Now             func() time.Time
}

// Service is the entry point for interview turns and claims.
type Service struct {
	sessions        store.SessionStore
	users           store.UserStore
	configs         projects.Source
	nonces          signature.NonceSource
	orchestrator    *interview.Orchestrator
	allocator       *allocation.Calculator
	signer          *signature.Signer
	transcript      *transcript.Logger
	tracker         telemetry.Tracker
	logger          *slog.Logger
	sessionTTL      time.Duration
	defaultContract string
	now             func() time.Time
}

// TurnOutput is the caller-facing result of one turn. NextMessage is nil once
// the interview is over; ClosingMessage is set instead.
type TurnOutput struct {
	NextMessage    *string         `json:"nextMessage"`
	ShouldContinue bool            `json:"shouldContinue"`
	Decision       domain.Decision `json:"decision"`
	Turn           int             `json:"turn"`
	ClosingMessage string          `json:"closingMessage,omitempty"`
}

// ClaimOutput is the authorization handed to the candidate's wallet.
type ClaimOutput struct {
	Signature       string `json:"signature"`
	Nonce           uint64 `json:"nonce"`
	TokenAllocation int64  `json:"tokenAllocation"`
	Wallet          string `json:"wallet"`
	Contract        string `json:"contract"`
	Signer          string `json:"signer"`
}

// New validates deps and builds a Service.
func New(d Deps) (*Service, error) {
	switch {
	case d.Sessions == nil:
		return nil, errors.New("bouncer: session store is required")
	case d.Users == nil:
		return nil, errors.New("bouncer: user store is required")
	case d.Configs == nil:
		return nil, errors.New("bouncer: config source is required")
	case d.Orchestrator == nil:
		return nil, errors.New("bouncer: orchestrator is required")
	case d.Allocator == nil:
		return nil, errors.New("bouncer: allocator is required")
	}
	if d.Signer != nil && d.Nonces == nil {
		return nil, errors.New("bouncer: nonce source is required when signing is enabled")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Tracker == nil {
		d.Tracker = telemetry.NoopTracker{}
	}
	if d.SessionTTL <= 0 {
		d.SessionTTL = DefaultSessionTTL
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		sessions:        d.Sessions,
		users:           d.Users,
		configs:         d.Configs,
		nonces:          d.Nonces,
		orchestrator:    d.Orchestrator,
		allocator:       d.Allocator,
		signer:          d.Signer,
		transcript:      d.Transcript,
		tracker:         d.Tracker,
		logger:          d.Logger,
		sessionTTL:      d.SessionTTL,
		defaultContract: d.DefaultContract,
		now:             d.Now,
	}, nil
}

// SessionTTL returns the configured session lifetime.
func (s *Service) SessionTTL() time.Duration {
	return s.sessionTTL
}

// StartSession binds wallet to the user and opens a fresh session, discarding
// any previous interview progress.
func (s *Service) StartSession(ctx context.Context, userID, wallet string) (*domain.SessionData, error) {
	addr, err := signature.ParseAddress(wallet)
	if err != nil {
		return nil, err
	}
	if err := s.users.BindWallet(ctx, userID, addr.Hex()); err != nil {
		return nil, fmt.Errorf("bind wallet: %w", err)
	}

	data := domain.NewSessionData(s.now().UTC())
	if err := s.sessions.CreateSession(ctx, domain.SessionKey(userID), data, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("Session started", "user_id", userID, "wallet", addr.Hex())
	return data, nil
}

// Session returns the user's live session.
func (s *Service) Session(ctx context.Context, userID string) (*domain.SessionData, error) {
	return s.sessions.GetSession(ctx, domain.SessionKey(userID))
}

// State returns the stored interview state for one project.
func (s *Service) State(ctx context.Context, projectID, userID string) (*domain.ConversationState, error) {
	data, err := s.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	return data.Project(projectID), nil
}

// Turn advances the user's interview for projectID by one step. With no
// history the answer is ignored and the opening question is returned.
// Nothing is written when any step fails.
func (s *Service) Turn(ctx context.Context, projectID, userID, answer string) (*TurnOutput, error) {
	key := domain.SessionKey(userID)
	data, err := s.sessions.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}
	state := data.Project(projectID)
	if state.Final {
		return nil, domain.ErrInterviewClosed
	}
	opening := len(state.History) == 0
	turn := len(state.History)

	cfg, err := s.configFor(ctx, projectID, state)
	if err != nil {
		return nil, err
	}
	state.Config = cfg

	res, err := s.orchestrator.Evaluate(ctx, state.History, *cfg, answer)
	if err != nil {
		s.logger.Warn("Interview turn failed",
			"user_id", userID,
			"project_id", projectID,
			"turn", turn,
			"error", err,
		)
		return nil, err
	}

	state.History = res.History
	if !opening {
		state.KnowledgeScore = res.KnowledgeScore
		state.VibeScore = res.VibeScore
	}
	switch res.Decision {
	case domain.DecisionComplete:
		state.Final, state.Access = true, true
	case domain.DecisionFailed:
		state.Final, state.Access = true, false
	}
	state.UpdatedAt = s.now().UTC()
	data.SetProject(projectID, state)

	if err := s.sessions.SetSession(ctx, key, data, s.sessionTTL); err != nil {
		return nil, err
	}

	s.record(userID, projectID, turn, opening, strings.TrimSpace(answer), res)

	out := &TurnOutput{
		ShouldContinue: res.ShouldContinue,
		Decision:       res.Decision,
		Turn:           len(state.History),
	}
	if res.ShouldContinue {
		next := res.NextQuestion
		out.NextMessage = &next
	} else {
		out.ClosingMessage = closingMessage(res.Decision)
	}
	return out, nil
}

// Claim returns the purchase authorization for a passed interview. The first
// successful claim is stored; later claims return it unchanged.
func (s *Service) Claim(ctx context.Context, projectID, userID string) (*ClaimOutput, error) {
	if s.signer == nil {
		return nil, ErrSigningDisabled
	}

	key := domain.SessionKey(userID)
	data, err := s.sessions.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}
	state := data.Project(projectID)
	if !state.Final || !state.Access {
		return nil, domain.ErrNotEligible
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil || !user.HasWallet() {
		return nil, domain.ErrWalletMissing
	}
	wallet, err := signature.ParseAddress(user.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("stored wallet: %w", err)
	}

	contract, err := s.contractFor(ctx, projectID, state)
	if err != nil {
		return nil, err
	}

	if state.Signature != nil && state.Nonce != nil && state.TokenAllocation != nil {
		return &ClaimOutput{
			Signature:       *state.Signature,
			Nonce:           *state.Nonce,
			TokenAllocation: *state.TokenAllocation,
			Wallet:          wallet.Hex(),
			Contract:        contract.Hex(),
			Signer:          s.signer.Address().Hex(),
		}, nil
	}

	amount := s.allocator.Allocate(state.KnowledgeScore, state.VibeScore)
	nonce, err := s.nonces.ReserveNonce(ctx, wallet.Hex(), claimID(userID, projectID, data.Generation))
	if err != nil {
		return nil, fmt.Errorf("reserve nonce: %w", err)
	}
	sig, err := s.signer.Sign(signature.Authorization{
		Wallet:     wallet,
		Nonce:      nonce,
		Contract:   contract,
		Allocation: amount,
	})
	if err != nil {
		return nil, err
	}

	state.Signature = &sig
	state.Nonce = &nonce
	state.TokenAllocation = &amount
	state.UpdatedAt = s.now().UTC()
	data.SetProject(projectID, state)
	if err := s.sessions.SetSession(ctx, key, data, s.sessionTTL); err != nil {
		return nil, err
	}

	s.logger.Info("Allocation claimed",
		"user_id", userID,
		"project_id", projectID,
		"allocation", amount,
		"nonce", nonce,
	)
	s.transcript.Log(transcript.Event{
		UserID:    userID,
		ProjectID: projectID,
		Type:      transcript.EventClaim,
		Turn:      len(state.History),
		Content:   fmt.Sprintf("allocation=%d nonce=%d", amount, nonce),
	})
	s.tracker.Track(userID, telemetry.EventClaimed, telemetry.Properties{
		"project_id": projectID,
		"allocation": amount,
	})

	return &ClaimOutput{
		Signature:       sig,
		Nonce:           nonce,
		TokenAllocation: amount,
		Wallet:          wallet.Hex(),
		Contract:        contract.Hex(),
		Signer:          s.signer.Address().Hex(),
	}, nil
}

// configFor returns the config the interview started with. The live config
// is only consulted on the opening turn or for state written before
// snapshots existed.
func (s *Service) configFor(ctx context.Context, projectID string, state *domain.ConversationState) (*domain.BouncerConfig, error) {
	if state.Config != nil && len(state.History) > 0 {
		return state.Config, nil
	}
	cfg, err := s.configs.GetBouncerConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	snapshot := *cfg
	return &snapshot, nil
}

func (s *Service) contractFor(ctx context.Context, projectID string, state *domain.ConversationState) (common.Address, error) {
	cfg, err := s.configFor(ctx, projectID, state)
	if err != nil {
		return common.Address{}, err
	}
	raw := cfg.ContractAddress
	if raw == "" {
		raw = s.defaultContract
	}
	if raw == "" {
		return common.Address{}, ErrContractMissing
	}
	return signature.ParseAddress(raw)
}

func (s *Service) record(userID, projectID string, turn int, opening bool, answer string, res *interview.TurnResult) {
	if !opening {
		s.transcript.Log(transcript.Event{
			UserID:    userID,
			ProjectID: projectID,
			Type:      transcript.EventAnswer,
			Turn:      turn,
			Content:   answer,
		})
		k, v := res.KnowledgeScore, res.VibeScore
		s.transcript.Log(transcript.Event{
			UserID:         userID,
			ProjectID:      projectID,
			Type:           transcript.EventDecision,
			Turn:           turn,
			Decision:       string(res.Decision),
			KnowledgeScore: &k,
			VibeScore:      &v,
		})
	}
	if res.NextQuestion != "" {
		s.transcript.Log(transcript.Event{
			UserID:    userID,
			ProjectID: projectID,
			Type:      transcript.EventQuestion,
			Turn:      turn + 1,
			Content:   res.NextQuestion,
		})
	}

	props := telemetry.Properties{
		"project_id": projectID,
		"turn":       turn,
		"decision":   string(res.Decision),
		"bypassed":   res.Bypassed,
	}
	s.tracker.Track(userID, telemetry.EventTurn, props)
	switch res.Decision {
	case domain.DecisionComplete:
		s.tracker.Track(userID, telemetry.EventCompleted, props)
		s.logger.Info("Interview passed", "user_id", userID, "project_id", projectID, "turn", turn)
	case domain.DecisionFailed:
		s.tracker.Track(userID, telemetry.EventFailed, props)
		s.logger.Info("Interview failed", "user_id", userID, "project_id", projectID, "turn", turn)
	}
}

// claimID names one interview's claim. A new login starts a new generation
// and so a new claim.
func claimID(userID, projectID, generation string) string {
	return userID + "/" + projectID + "/" + generation
}

func closingMessage(d domain.Decision) string {
	if d == domain.DecisionComplete {
		return "You're in. Claim your allocation whenever you're ready."
	}
	return "Not tonight. The door is closed."
}
