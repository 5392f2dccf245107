package domain

import (
	"time"
)

// ConversationEntry is one question and, once given, its answer.
// Answer stays nil while the question is outstanding.
type ConversationEntry struct {
	Question string  `json:"question"`
	Answer   *string `json:"answer"`
}

// Answered reports whether the entry has received its answer.
func (e ConversationEntry) Answered() bool {
	return e.Answer != nil
}

// ConversationState is the interview state of one user for one project.
type ConversationState struct {
	History         []ConversationEntry `json:"history"`
	Final           bool                `json:"final"`
	Access          bool                `json:"access"`
	Signature       *string             `json:"signature"`
	TokenAllocation *int64              `json:"tokenAllocation"`
	Nonce           *uint64             `json:"nonce,omitempty"`
	KnowledgeScore  int                 `json:"knowledgeScore"`
	VibeScore       int                 `json:"vibeScore"`
	UpdatedAt       time.Time           `json:"updatedAt"`

	// Config is the project configuration captured on the opening turn.
	// Later turns and the claim use it instead of the live config.
	Config *BouncerConfig `json:"config,omitempty"`
}

// Decision derives the interview outcome from the stored flags.
func (s *ConversationState) Decision() Decision {
	switch {
	case s.Final && s.Access:
		return DecisionComplete
	case s.Final:
		return DecisionFailed
	default:
		return DecisionPending
	}
}

// PendingQuestion returns the outstanding question, if any.
func (s *ConversationState) PendingQuestion() (string, bool) {
	if len(s.History) == 0 || s.Final {
		return "", false
	}
	last := s.History[len(s.History)-1]
	if last.Answered() {
		return "", false
	}
	return last.Question, true
}

// Clone returns a deep copy of the state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	c := *s
	c.History = CloneHistory(s.History)
	if s.Signature != nil {
		sig := *s.Signature
		c.Signature = &sig
	}
	if s.TokenAllocation != nil {
		n := *s.TokenAllocation
		c.TokenAllocation = &n
	}
	if s.Nonce != nil {
		n := *s.Nonce
		c.Nonce = &n
	}
	if s.Config != nil {
		cfg := *s.Config
		c.Config = &cfg
	}
	return &c
}

// CloneHistory deep-copies a history slice, including answer pointers.
func CloneHistory(history []ConversationEntry) []ConversationEntry {
	if history == nil {
		return nil
	}
	out := make([]ConversationEntry, len(history))
	for i, e := range history {
		out[i].Question = e.Question
		if e.Answer != nil {
			a := *e.Answer
			out[i].Answer = &a
		}
	}
	return out
}

// SessionData holds every interview of one user for the lifetime of a login.
// Version increases by one on every successful write. Generation is assigned
// by the store on creation, so writes based on a previous login never match.
type SessionData struct {
	StartedAt  time.Time                     `json:"startedAt"`
	Version    int64                         `json:"version"`
	Generation string                        `json:"generation"`
	Projects   map[string]*ConversationState `json:"projects"`
}

// NewSessionData creates an empty session started at now.
func NewSessionData(now time.Time) *SessionData {
	return &SessionData{
		StartedAt: now,
		Projects:  make(map[string]*ConversationState),
	}
}

// Project returns the state for projectID, or an empty state if absent.
// The returned state is a copy; write it back with SetProject.
func (d *SessionData) Project(projectID string) *ConversationState {
	if st, ok := d.Projects[projectID]; ok && st != nil {
		return st.Clone()
	}
	return &ConversationState{}
}

// SetProject stores state for projectID.
func (d *SessionData) SetProject(projectID string, state *ConversationState) {
	if d.Projects == nil {
		d.Projects = make(map[string]*ConversationState)
	}
	d.Projects[projectID] = state
}

// Clone returns a deep copy of the session.
func (d *SessionData) Clone() *SessionData {
	if d == nil {
		return nil
	}
	c := &SessionData{
		StartedAt:  d.StartedAt,
		Version:    d.Version,
		Generation: d.Generation,
		Projects:   make(map[string]*ConversationState, len(d.Projects)),
	}
	for k, v := range d.Projects {
		c.Projects[k] = v.Clone()
	}
	return c
}

// SessionKey returns the store key for a user's session.
func SessionKey(userID string) string {
	return "session:" + userID
}
