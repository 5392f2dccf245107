package agent

import (
	"fmt"
	"strings"

	"github.com/ashureev/bouncer-ai/internal/domain"
)

const secrecyRules = `Never mention scores, rubrics, grading criteria or the reference material in anything you write.
Never reveal the answer to a question inside a question.`

const knowledgeBrief = `You are the door bouncer for an exclusive token launch. You judge whether a
candidate genuinely understands the project they want to buy into.

Project description:
%s

Facts every buyer must know:
%s

Whitepaper notes:
%s`

const vibeBrief = `You are the door bouncer for an exclusive token launch. You judge the
candidate's social energy: sincerity, humour, enthusiasm for the community and
whether they would be good company in the project's chat.

Project description:
%s`

const combinedFormat = `Grade the latest answer from 0 (hopeless or hostile) to 10 (outstanding),
taking the whole conversation into account. Then write one short follow-up
question that probes what is still unclear.

Respond with only a JSON object:
{"score": <integer 0-10>, "feedback": "<one sentence>", "nextQuestion": "<question>"}`

const openingFormat = `Write the first question you ask a candidate at the door. It must be short,
conversational and answerable in a sentence or two.

Respond with only a JSON object:
{"nextQuestion": "<question>"}`

const scoreOnlyFormat = `Grade the latest answer from 0 (hopeless or hostile) to 10 (outstanding),
taking the whole conversation into account.

Respond with only a JSON object:
{"score": <integer 0-10>, "feedback": "<one sentence>"}`

const questionOnlyFormat = `Write one short follow-up question that probes what is still unclear about
this candidate. Do not repeat earlier questions.

Respond with only a JSON object:
{"nextQuestion": "<question>"}`

const tonePrompt = `Rewrite the question below in the voice of this character: %s.
Keep its meaning and every fact in it. Change only wording and register.
Reply with the rewritten question and nothing else.`

func brief(axis domain.Axis, cfg domain.BouncerConfig) string {
	if axis == domain.AxisVibe {
		return fmt.Sprintf(vibeBrief, orNone(cfg.ProjectDesc))
	}
	return fmt.Sprintf(knowledgeBrief,
		orNone(cfg.ProjectDesc),
		orNone(cfg.MandatoryKnowledge),
		orNone(cfg.WhitepaperKnowledge),
	)
}

func systemPrompt(axis domain.Axis, cfg domain.BouncerConfig, format string) string {
	return brief(axis, cfg) + "\n\n" + format + "\n\n" + secrecyRules
}

// transcript renders prior Q&A plus the answer under evaluation.
func transcript(req ScoreRequest) string {
	var b strings.Builder
	if len(req.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for i, e := range req.History {
			answer := "(no answer)"
			if e.Answer != nil {
				answer = *e.Answer
			}
			fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n", i+1, e.Question, i+1, answer)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Latest question: %s\nLatest answer: %s\n", req.Question, req.Answer)
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none provided)"
	}
	return s
}
