package domain

// Decision is the outcome of an interview turn.
type Decision string

const (
	// DecisionPending means the interview continues with another question.
	DecisionPending Decision = "pending"
	// DecisionComplete means the candidate passed.
	DecisionComplete Decision = "complete"
	// DecisionFailed means the candidate was rejected. Terminal.
	DecisionFailed Decision = "failed"
)

// Axis names one of the two scoring dimensions.
type Axis string

const (
	AxisKnowledge Axis = "knowledge"
	AxisVibe      Axis = "vibe"
)

// MaxScore and MinScore bound every Evaluation score.
const (
	MinScore = 0
	MaxScore = 10
)

// BouncerConfig is the per-project interview configuration.
type BouncerConfig struct {
	ProjectID           string `json:"project_id" yaml:"project_id" validate:"required"`
	MandatoryKnowledge  string `json:"mandatory_knowledge" yaml:"mandatory_knowledge" validate:"required"`
	ProjectDesc         string `json:"project_desc" yaml:"project_desc" validate:"required"`
	WhitepaperKnowledge string `json:"whitepaper_knowledge" yaml:"whitepaper_knowledge"`
	CharacterChoice     string `json:"character_choice" yaml:"character_choice"`
	ContractAddress     string `json:"contract_address,omitempty" yaml:"contract_address" validate:"omitempty,eth_addr"`
}

// Evaluation is one scorer's verdict on a single answer.
type Evaluation struct {
	Score        int    `json:"score" validate:"min=0,max=10"`
	Feedback     string `json:"feedback"`
	NextQuestion string `json:"nextQuestion"`
}
