package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"medsight/internal/domain"
)

// referenceKeywords signal that the query refers to recent conversation.
// "the" and "that" match most queries; that breadth is intentional.
var referenceKeywords = []string{"that", "this", "the", "previous", "earlier", "last"}

var (
	answerExplainPhrases   = []string{"what does", "what is", "explain", "mean"}
	answerPreviousPhrases  = []string{"previous", "earlier", "last", "that finding"}
	explanationRequestTerm = []string{
		"what does", "what is", "what are", "explain", "clarify",
		"tell me about", "what do you mean", "define",
	}
)

// termDefinitions is the fixed glossary used for explanation requests,
// checked in this order.
var termDefinitions = []struct {
	term, text string
}{
	{"costophrenic angle", "The costophrenic angle is the sharp angle formed where the diaphragm meets the chest wall on an X-ray. Sharp angles are normal; blunted angles may indicate fluid accumulation (pleural effusion)."},
	{"infiltrate", "An infiltrate on imaging refers to an abnormal substance (like fluid, cells, or other material) that has accumulated in the lung tissue, often indicating infection, inflammation, or other pathology."},
	{"consolidation", "Consolidation refers to a region of the lung that has filled with liquid instead of air, appearing white on X-rays. This is commonly seen in pneumonia."},
	{"opacity", "Opacity refers to an area on an image that appears whiter or denser than normal, indicating increased tissue density or the presence of fluid or solid material."},
	{"atelectasis", "Atelectasis is the partial or complete collapse of a lung or a section of lung, appearing as increased density on imaging."},
}

var (
	quotedTermRe = regexp.MustCompile(`["']([^"']+)["']`)
	whatIsTermRe = regexp.MustCompile(`what (?:is|does|are) (?:a |an |the )?([^?]+)`)
)

const generalAnswer = "I'd be happy to help answer your question. However, I need more context or information to provide a specific answer. Could you please provide more details or rephrase your question?"

// QAAgent answers follow-up questions from conversation history using
// keyword heuristics. It never calls a model.
type QAAgent struct {
	logger *slog.Logger
}

// NewQAAgent creates a QAAgent. A nil logger discards output.
func NewQAAgent(logger *slog.Logger) *QAAgent {
	if logger == nil {
		logger = discardLogger()
	}
	return &QAAgent{logger: logger}
}

func (a *QAAgent) Name() string           { return "QAAgent" }
func (a *QAAgent) Type() domain.AgentType { return domain.AgentQA }

// ValidateInput requires a non-blank query.
func (a *QAAgent) ValidateInput(in domain.QAInput) bool {
	return strings.TrimSpace(in.Query) != ""
}

func (a *QAAgent) Process(_ context.Context, in domain.QAInput) (domain.AgentResult, error) {
	relevant := relevantContext(in.Query, in.History)
	isExplanation := isExplanationRequest(in.Query)

	queryType := "follow_up"
	if isExplanation {
		queryType = "explanation"
	}
	a.logger.Debug("qa answer", "query_type", queryType, "context_items", len(relevant))

	return domain.AgentResult{
		Success: true,
		Data: &domain.QAAnswer{
			Answer:          generateAnswer(in.Query, relevant),
			IsExplanation:   isExplanation,
			RelevantContext: relevant,
		},
		Confidence: qaConfidence(relevant, isExplanation),
		Metadata: map[string]any{
			"query_type":    queryType,
			"context_items": len(relevant),
		},
		Sources:   []string{"Conversation History"},
		Timestamp: time.Now(),
	}, nil
}

func relevantContext(query string, history []domain.Message) []domain.Message {
	lower := strings.ToLower(query)
	if containsAny(lower, referenceKeywords) {
		return append([]domain.Message{}, history[max(0, len(history)-3):]...)
	}

	var keywords []string
	for _, w := range strings.Fields(lower) {
		if len(w) > 3 {
			keywords = append(keywords, w)
		}
	}
	relevant := []domain.Message{}
	for _, msg := range history {
		if containsAny(strings.ToLower(msg.Content), keywords) {
			relevant = append(relevant, msg)
		}
	}
	return relevant
}

func generateAnswer(query string, relevant []domain.Message) string {
	lower := strings.ToLower(query)
	if containsAny(lower, answerExplainPhrases) {
		return explainTerm(query, relevant)
	}
	if containsAny(lower, answerPreviousPhrases) {
		if len(relevant) == 0 {
			return "I don't have enough context from our previous conversation to answer this question. Could you please provide more details?"
		}
		return fmt.Sprintf("Based on our previous discussion:\n\n%s\n\nIs there a specific aspect you'd like me to clarify?",
			summarizeMessages(relevant))
	}
	if len(relevant) > 0 {
		return fmt.Sprintf("Based on our previous discussion: %s\n\nRegarding your question: %s",
			summarizeMessages(relevant), generalAnswer)
	}
	return generalAnswer
}

func explainTerm(query string, relevant []domain.Message) string {
	term := extractTerm(query)
	lower := strings.ToLower(term)
	for _, def := range termDefinitions {
		if strings.Contains(lower, def.term) {
			if len(relevant) > 0 {
				return def.text + "\n\nIn your case, this was mentioned in the context of the imaging findings we discussed."
			}
			return def.text
		}
	}
	return fmt.Sprintf("I can provide general information about medical terms, but for specific interpretation of '%s' in your case, please consult with your healthcare provider.", term)
}

func extractTerm(query string) string {
	if m := quotedTermRe.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	if m := whatIsTermRe.FindStringSubmatch(strings.ToLower(query)); m != nil {
		return strings.TrimSpace(m[1])
	}
	return query
}

func summarizeMessages(msgs []domain.Message) string {
	var lines []string
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		role := m.Role
		if role == "" {
			role = "unknown"
		}
		content := m.Content
		if r := []rune(content); len(r) > 200 {
			content = string(r[:200]) + "..."
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", capitalize(role), content))
	}
	if len(lines) == 0 {
		return "No previous context available."
	}
	return strings.Join(lines, "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func isExplanationRequest(query string) bool {
	return containsAny(strings.ToLower(query), explanationRequestTerm)
}

func qaConfidence(relevant []domain.Message, isExplanation bool) float64 {
	c := 0.6
	if isExplanation {
		c = 0.75
	}
	c += 0.1 * float64(min(len(relevant), 3))
	return min(c, 0.9)
}
