package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"medsight/internal/domain"
	"medsight/internal/usecase"
)

const renderWidth = 100

// renderer prints answers, as rendered markdown unless plain is set.
type renderer struct {
	out   io.Writer
	plain bool
	md    *glamour.TermRenderer
}

func newRenderer(out io.Writer, plain bool) *renderer {
	r := &renderer{out: out, plain: plain}
	if plain {
		return r
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(renderWidth),
	)
	if err != nil {
		r.plain = true
		return r
	}
	r.md = md
	return r
}

// Result prints the answer text of res followed by a status line.
func (r *renderer) Result(res domain.AgentResult) {
	r.Markdown(usecase.AnswerText(res))
	status := fmt.Sprintf("confidence %s", formatConfidence(res.Confidence))
	if t, ok := res.Metadata["request_type"].(string); ok {
		status = t + ", " + status
	}
	fmt.Fprintf(r.out, "[%s]\n", status)
}

// Markdown prints text, rendered when possible.
func (r *renderer) Markdown(text string) {
	if r.plain || r.md == nil {
		fmt.Fprintln(r.out, strings.TrimRight(text, "\n"))
		return
	}
	rendered, err := r.md.Render(text)
	if err != nil {
		fmt.Fprintln(r.out, text)
		return
	}
	fmt.Fprint(r.out, rendered)
}

func formatConfidence(c float64) string {
	return fmt.Sprintf("%.0f%%", c*100)
}
