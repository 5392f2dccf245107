package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/bouncer-ai/internal/agent"
	"github.com/ashureev/bouncer-ai/internal/allocation"
	"github.com/ashureev/bouncer-ai/internal/bouncer"
	"github.com/ashureev/bouncer-ai/internal/domain"
	"github.com/ashureev/bouncer-ai/internal/identity"
	"github.com/ashureev/bouncer-ai/internal/interview"
	"github.com/ashureev/bouncer-ai/internal/middleware"
	"github.com/ashureev/bouncer-ai/internal/signature"
	"github.com/ashureev/bouncer-ai/internal/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
)

const (
	testWallet   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testContract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	devKey       = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

// fixedScorer gives every answer the same score.
func fixedScorer(score int) agent.Scorer {
	return agent.ScorerFunc(func(_ context.Context, req agent.ScoreRequest) (domain.Evaluation, error) {
		if req.Opening() {
			return domain.Evaluation{NextQuestion: "Why are you at the door?"}, nil
		}
		return domain.Evaluation{Score: score, Feedback: "ok", NextQuestion: "Tell me more?"}, nil
	})
}

type testServer struct {
	*httptest.Server
	client *http.Client
	signer *signature.Signer
}

type serverOptions struct {
	knowledge agent.Scorer
	limiter   *middleware.RateLimiter
	checks    map[string]HealthCheck
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	if err := repo.UpsertBouncerConfig(context.Background(), &domain.BouncerConfig{
		ProjectID:          "cats",
		MandatoryKnowledge: "one billion supply",
		ProjectDesc:        "cat coin",
	}); err != nil {
		t.Fatalf("UpsertBouncerConfig: %v", err)
	}

	knowledge := opts.knowledge
	if knowledge == nil {
		knowledge = fixedScorer(9)
	}
	orch, err := interview.New(knowledge, fixedScorer(9), interview.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("interview.New: %v", err)
	}
	alloc, err := allocation.New(allocation.DefaultParams(), allocation.SourceFunc(func() float64 { return 0.5 }))
	if err != nil {
		t.Fatalf("allocation.New: %v", err)
	}
	signer, err := signature.NewSigner(devKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	svc, err := bouncer.New(bouncer.Deps{
		Sessions:        repo,
		Users:           repo,
		Configs:         repo,
		Nonces:          repo,
		Orchestrator:    orch,
		Allocator:       alloc,
		Signer:          signer,
		Logger:          quietLogger(),
		SessionTTL:      time.Hour,
		DefaultContract: testContract,
	})
	if err != nil {
		t.Fatalf("bouncer.New: %v", err)
	}

	h := NewHandler(svc, repo, Options{
		Limiter: opts.limiter,
		Checks:  opts.checks,
		IsDev:   true,
		Logger:  quietLogger(),
	})
	r := chi.NewRouter()
	r.Use(identity.Middleware(repo, true))
	h.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &testServer{Server: srv, client: &http.Client{Jar: jar}, signer: signer}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (s *testServer) login(t *testing.T) {
	t.Helper()
	status, body := s.do(t, http.MethodPost, "/api/session", map[string]string{"walletAddress": testWallet})
	if status != http.StatusCreated {
		t.Fatalf("login status = %d body = %v", status, body)
	}
}

func TestInterviewFlow(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	status, me := srv.do(t, http.MethodGet, "/api/me", nil)
	if status != http.StatusOK {
		t.Fatalf("me status = %d", status)
	}
	if me["session"] != nil {
		t.Errorf("expected no session before login, got %v", me["session"])
	}

	status, body := srv.do(t, http.MethodPost, "/api/projects/cats/turn", map[string]string{})
	if status != http.StatusUnauthorized || body["error"] != "session_missing" {
		t.Fatalf("turn before login = %d %v", status, body)
	}

	srv.login(t)

	status, body = srv.do(t, http.MethodPost, "/api/projects/cats/turn", nil)
	if status != http.StatusOK {
		t.Fatalf("opening status = %d %v", status, body)
	}
	if body["nextMessage"] != "Why are you at the door?" || body["shouldContinue"] != true || body["decision"] != "pending" {
		t.Fatalf("unexpected opening %v", body)
	}

	status, body = srv.do(t, http.MethodPost, "/api/projects/cats/turn", map[string]string{"answer": "   "})
	if status != http.StatusBadRequest || body["error"] != "empty_answer" {
		t.Fatalf("empty answer = %d %v", status, body)
	}

	status, body = srv.do(t, http.MethodPost, "/api/projects/cats/turn", map[string]string{"answer": "the supply is one billion"})
	if status != http.StatusOK || body["decision"] != "pending" || body["nextMessage"] != "Tell me more?" {
		t.Fatalf("first answer = %d %v", status, body)
	}

	status, body = srv.do(t, http.MethodPost, "/api/projects/cats/turn", map[string]string{"answer": "and I love cats"})
	if status != http.StatusOK || body["decision"] != "complete" || body["shouldContinue"] != false {
		t.Fatalf("second answer = %d %v", status, body)
	}
	if next, present := body["nextMessage"]; !present || next != nil {
		t.Errorf("nextMessage = %v, want null", next)
	}

	status, state := srv.do(t, http.MethodGet, "/api/projects/cats/state", nil)
	if status != http.StatusOK || state["final"] != true || state["access"] != true || state["claimed"] != false {
		t.Fatalf("state = %d %v", status, state)
	}
	if _, leaked := state["knowledgeScore"]; leaked {
		t.Error("state exposes scores")
	}

	status, claim := srv.do(t, http.MethodPost, "/api/projects/cats/claim", nil)
	if status != http.StatusOK {
		t.Fatalf("claim = %d %v", status, claim)
	}
	if claim["nonce"] != float64(0) || claim["signer"] != srv.signer.Address().Hex() {
		t.Fatalf("unexpected claim %v", claim)
	}

	auth := signature.Authorization{
		Wallet:     mustAddress(t, testWallet),
		Contract:   mustAddress(t, testContract),
		Nonce:      0,
		Allocation: int64(claim["tokenAllocation"].(float64)),
	}
	recovered, err := signature.Recover(auth, claim["signature"].(string))
	if err != nil || recovered != srv.signer.Address() {
		t.Fatalf("recover = %v, %v", recovered, err)
	}

	_, again := srv.do(t, http.MethodPost, "/api/projects/cats/claim", nil)
	if again["signature"] != claim["signature"] {
		t.Error("second claim issued a new signature")
	}

	status, body = srv.do(t, http.MethodPost, "/api/projects/cats/turn", map[string]string{"answer": "one more"})
	if status != http.StatusConflict || body["error"] != "interview_closed" {
		t.Fatalf("turn after close = %d %v", status, body)
	}

	_, me = srv.do(t, http.MethodGet, "/api/me", nil)
	session, ok := me["session"].(map[string]interface{})
	if !ok {
		t.Fatalf("session missing from /api/me: %v", me)
	}
	if session["projects"].(map[string]interface{})["cats"] != "complete" {
		t.Errorf("unexpected projects %v", session["projects"])
	}
}

func TestStartSessionValidation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	status, _ := srv.do(t, http.MethodPost, "/api/session", map[string]string{"walletAddress": "0x123"})
	if status != http.StatusBadRequest {
		t.Errorf("bad wallet status = %d", status)
	}
	status, _ = srv.do(t, http.MethodPost, "/api/session", map[string]string{"wallet": testWallet})
	if status != http.StatusBadRequest {
		t.Errorf("unknown field status = %d", status)
	}
}

func TestTurnErrors(t *testing.T) {
	failing := agent.ScorerFunc(func(_ context.Context, req agent.ScoreRequest) (domain.Evaluation, error) {
		if req.Opening() {
			return domain.Evaluation{NextQuestion: "Why are you at the door?"}, nil
		}
		return domain.Evaluation{}, domain.ErrAgentCall
	})
	srv := newTestServer(t, serverOptions{knowledge: failing})
	srv.login(t)

	status, body := srv.do(t, http.MethodPost, "/api/projects/dogs/turn", nil)
	if status != http.StatusNotFound || body["error"] != "project_not_found" {
		t.Fatalf("unknown project = %d %v", status, body)
	}

	srv.do(t, http.MethodPost, "/api/projects/cats/turn", nil)
	status, body = srv.do(t, http.MethodPost, "/api/projects/cats/turn", map[string]string{"answer": "hello"})
	if status != http.StatusBadGateway || body["error"] != "agent_unavailable" {
		t.Fatalf("agent failure = %d %v", status, body)
	}

	_, state := srv.do(t, http.MethodGet, "/api/projects/cats/state", nil)
	if state["pendingQuestion"] != "Why are you at the door?" {
		t.Errorf("failed turn changed state: %v", state)
	}

	status, body = srv.do(t, http.MethodPost, "/api/projects/cats/claim", nil)
	if status != http.StatusConflict || body["error"] != "not_eligible" {
		t.Fatalf("claim before pass = %d %v", status, body)
	}
}

func TestTurnInProgress(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	_, me := srv.do(t, http.MethodGet, "/api/me", nil)
	srv.login(t)

	unlock, ok := lockTurn(me["user_id"].(string))
	if !ok {
		t.Fatal("could not take turn lock")
	}
	defer unlock()

	status, body := srv.do(t, http.MethodPost, "/api/projects/cats/turn", nil)
	if status != http.StatusConflict || body["error"] != "turn_in_progress" {
		t.Fatalf("concurrent turn = %d %v", status, body)
	}
}

func TestTurnRateLimited(t *testing.T) {
	rl := middleware.NewRateLimiter(1)
	defer rl.Stop()
	srv := newTestServer(t, serverOptions{limiter: rl})
	srv.login(t)

	if status, _ := srv.do(t, http.MethodPost, "/api/projects/cats/turn", nil); status != http.StatusOK {
		t.Fatalf("first turn = %d", status)
	}
	status, body := srv.do(t, http.MethodPost, "/api/projects/cats/turn", map[string]string{"answer": "hi"})
	if status != http.StatusTooManyRequests || body["error"] != "rate_limited" {
		t.Fatalf("second turn = %d %v", status, body)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, serverOptions{checks: map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
		"scorer":   func(context.Context) error { return errors.New("connection refused") },
	}})

	status, body := srv.do(t, http.MethodGet, "/api/health", nil)
	if status != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("health = %d %v", status, body)
	}
	checks := body["checks"].(map[string]interface{})
	if checks["database"] != "ok" || !strings.Contains(checks["scorer"].(string), "unreachable") {
		t.Errorf("unexpected checks %v", checks)
	}
}

func mustAddress(t *testing.T, s string) common.Address {
	t.Helper()
	addr, err := signature.ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	return addr
}
