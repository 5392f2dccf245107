package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/bouncer-ai/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultScoreMethod is the full gRPC method name of the remote scorer.
const DefaultScoreMethod = "/bouncer.scoring.v1.Scorer/Score"

// RemoteScorer delegates scoring to an external gRPC service. Requests and
// responses are google.protobuf.Struct messages so the service can be written
// in any language without shared generated code.
type RemoteScorer struct {
	conn   *grpc.ClientConn
	method string
	health healthpb.HealthClient
	owned  bool
}

// DialRemoteScorer connects to a scoring service at addr.
func DialRemoteScorer(addr, method string) (*RemoteScorer, error) {
	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote scorer at %s: %w", addr, err)
	}
	r := NewRemoteScorer(conn, method)
	r.owned = true
	return r, nil
}

// NewRemoteScorer wraps an existing connection. The caller keeps ownership.
func NewRemoteScorer(conn *grpc.ClientConn, method string) *RemoteScorer {
	if method == "" {
		method = DefaultScoreMethod
	}
	return &RemoteScorer{
		conn:   conn,
		method: method,
		health: healthpb.NewHealthClient(conn),
	}
}

// Score implements Scorer.
func (r *RemoteScorer) Score(ctx context.Context, req ScoreRequest) (domain.Evaluation, error) {
	in, err := structpb.NewStruct(scoreRequestMap(req))
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("encode remote score request: %w", err)
	}

	out := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, r.method, in, out); err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: remote %s scorer: %w", domain.ErrAgentCall, req.Axis, err)
	}

	raw, err := json.Marshal(out.AsMap())
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("%w: re-encode remote response: %v", domain.ErrMalformedAgentOutput, err)
	}
	if req.Opening() {
		q, err := parseQuestion(string(raw))
		if err != nil {
			return domain.Evaluation{}, fmt.Errorf("remote %s scorer: %w", req.Axis, err)
		}
		return domain.Evaluation{NextQuestion: q}, nil
	}
	eval, err := ParseEvaluation(string(raw))
	if err != nil {
		return domain.Evaluation{}, fmt.Errorf("remote %s scorer: %w", req.Axis, err)
	}
	return eval, nil
}

// Check queries the standard gRPC health service.
func (r *RemoteScorer) Check(ctx context.Context) error {
	resp, err := r.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("remote scorer health: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("remote scorer not serving: %s", resp.GetStatus())
	}
	return nil
}

// Close releases the connection if this scorer dialed it.
func (r *RemoteScorer) Close() error {
	if !r.owned {
		return nil
	}
	return r.conn.Close()
}

func scoreRequestMap(req ScoreRequest) map[string]any {
	history := make([]any, 0, len(req.History))
	for _, e := range req.History {
		var answer any
		if e.Answer != nil {
			answer = *e.Answer
		}
		history = append(history, map[string]any{
			"question": e.Question,
			"answer":   answer,
		})
	}
	return map[string]any{
		"axis":     string(req.Axis),
		"opening":  req.Opening(),
		"question": req.Question,
		"answer":   req.Answer,
		"history":  history,
		"config": map[string]any{
			"project_id":           req.Config.ProjectID,
			"mandatory_knowledge":  req.Config.MandatoryKnowledge,
			"project_desc":         req.Config.ProjectDesc,
			"whitepaper_knowledge": req.Config.WhitepaperKnowledge,
			"character_choice":     req.Config.CharacterChoice,
		},
	}
}
