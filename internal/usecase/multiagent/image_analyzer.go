package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"medsight/internal/domain"
)

const defaultImageQuery = "Analyze this medical image."

const imageSystemPrompt = `
You are a highly experienced and accurate medical imaging AI, trained to assist radiologists
in interpreting diagnostic images.
You are analyzing a medical image. Your role is to generate a clear, clinically useful
description of the scan, identifying relevant anatomical structures, patterns, anomalies,
and potential diagnoses. Do not guess or hallucinate findings not evident in the image.
Focus on:
- Location and characteristics of any visible abnormalities
- Indicators of common pathologies (e.g., fractures, infiltrates, masses)
- Whether the image appears normal or requires further evaluation
Use formal, clinical language. If the image quality is too poor to analyze, state this clearly.
Provide your response in the following structure:
1. SUMMARY: Brief overview (2-3 sentences)
2. ANATOMICAL STRUCTURES: List visible structures
3. FINDINGS: Detailed observations
4. ABNORMALITIES: Any abnormalities detected (or "None detected")
5. IMPRESSION: Clinical impression
6. RECOMMENDATIONS: Suggested follow-up or additional imaging if needed
`

// ImageAnalyzerConfig tunes the image analyzer. Zero values take defaults.
type ImageAnalyzerConfig struct {
	Model            string
	MaxTokens        int     // default 500
	Temperature      float64 // default 0
	MinImageQuality  float64 // default 0.6
	SkipQualityCheck bool
}

func (c ImageAnalyzerConfig) withDefaults() ImageAnalyzerConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 500
	}
	if c.MinImageQuality <= 0 {
		c.MinImageQuality = 0.6
	}
	return c
}

// ImageAnalyzerAgent quality-gates an image, asks the model to describe it
// and parses the reply into sections.
type ImageAnalyzerAgent struct {
	provider domain.LLMProvider
	cfg      ImageAnalyzerConfig
	logger   *slog.Logger
}

// NewImageAnalyzerAgent creates an ImageAnalyzerAgent. A nil logger discards output.
func NewImageAnalyzerAgent(provider domain.LLMProvider, cfg ImageAnalyzerConfig, logger *slog.Logger) *ImageAnalyzerAgent {
	if logger == nil {
		logger = discardLogger()
	}
	return &ImageAnalyzerAgent{provider: provider, cfg: cfg.withDefaults(), logger: logger}
}

func (a *ImageAnalyzerAgent) Name() string           { return "ImageAnalyzerAgent" }
func (a *ImageAnalyzerAgent) Type() domain.AgentType { return domain.AgentImageAnalyzer }

func (a *ImageAnalyzerAgent) ValidateInput(in domain.ImageInput) bool {
	return in.Image != nil
}

// AssessQuality scores an image from its resolution and aspect ratio. The
// resolution is the uploaded one, not that of a downscaled copy.
func AssessQuality(img *domain.MedicalImage) domain.ImageQuality {
	w, h := img.SourceDimensions()
	adequate := w >= 512 && h >= 512

	score := 0.3
	if adequate {
		score = 0.8
	}

	var ratio float64
	if lo := min(w, h); lo > 0 {
		ratio = float64(max(w, h)) / float64(lo)
	}
	if ratio > 3.0 {
		score *= 0.8
	}

	q := domain.ImageQuality{
		Score:              score,
		Resolution:         domain.Resolution{Width: w, Height: h},
		ResolutionAdequate: adequate,
		AspectRatio:        ratio,
		IsGrayscale:        img.Grayscale,
		Issues:             []string{},
	}
	if score <= 0.6 {
		q.Issues = append(q.Issues, "Low resolution or poor aspect ratio")
	}
	return q
}

func (a *ImageAnalyzerAgent) Process(ctx context.Context, in domain.ImageInput) (domain.AgentResult, error) {
	query := in.Query
	if query == "" {
		query = defaultImageQuery
	}

	var quality *domain.ImageQuality
	if !a.cfg.SkipQualityCheck {
		q := AssessQuality(in.Image)
		quality = &q
		if q.Score < a.cfg.MinImageQuality {
			a.logger.Warn("image rejected by quality gate", "image_id", in.Image.ImageID, "score", q.Score)
			return domain.AgentResult{
				Success:    false,
				Confidence: 0,
				Error: fmt.Sprintf("Image quality too low (score: %.2f). Issues: %s",
					q.Score, strings.Join(q.Issues, ", ")),
				Metadata:  map[string]any{"quality_assessment": q},
				Timestamp: time.Now(),
			}, nil
		}
	}

	text, err := a.queryModel(ctx, in.Image, query)
	if err != nil {
		a.logger.Error("image analysis failed", "image_id", in.Image.ImageID, "error", err)
		return domain.AgentResult{
			Success:    false,
			Confidence: 0,
			Error:      fmt.Sprintf("Image analysis failed: %v", err),
			Metadata:   map[string]any{"error_code": domain.ErrorCodeOf(err)},
			Timestamp:  time.Now(),
		}, nil
	}

	analysis := ParseImageReply(text)
	analysis.ImageQuality = quality

	return domain.AgentResult{
		Success:    true,
		Data:       analysis,
		Confidence: analysis.Confidence,
		Metadata: map[string]any{
			"image_type":            string(in.Image.ImageType),
			"model_response_length": len(text),
		},
		Sources:   []string{"MedGemma Model"},
		Timestamp: time.Now(),
	}, nil
}

func systemPromptFor(t domain.ImageType) string {
	if t == "" || t == domain.ImageUnknown {
		return imageSystemPrompt
	}
	return imageSystemPrompt + fmt.Sprintf("\n\nThis image is identified as a %s scan.", t)
}

func (a *ImageAnalyzerAgent) queryModel(ctx context.Context, img *domain.MedicalImage, query string) (string, error) {
	if a.provider == nil {
		return "", domain.NewDomainError("ImageAnalyzer.Query", domain.ErrProviderError, "no model provider configured")
	}
	resp, err := a.provider.Chat(ctx, domain.ChatRequest{
		Model: a.cfg.Model,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: systemPromptFor(img.ImageType)},
			{Role: domain.RoleUser, Content: query, ImageURL: img.DataURL()},
		},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	if resp.Message.Content == "" {
		return "", domain.NewDomainError("ImageAnalyzer.Query", domain.ErrUnexpectedResponse, "No prediction returned from model")
	}
	return resp.Message.Content, nil
}

// Reply section names, checked in this order against the upper-cased line.
var replyHeaders = []struct {
	marker  string
	section string
}{
	{"SUMMARY:", "summary"},
	{"ANATOMICAL STRUCTURES:", "anatomical"},
	{"FINDINGS:", "findings"},
	{"ABNORMALITIES:", "abnormalities"},
	{"IMPRESSION:", "impression"},
	{"RECOMMENDATIONS:", "recommendations"},
}

// ParseImageReply splits a semi-structured model reply into sections.
// Lines after a header accumulate into that section until the next header.
// Summary continuation lines are joined with spaces, findings take any
// non-empty line, and the list sections only take "-" bullets.
func ParseImageReply(text string) *domain.ImageAnalysis {
	out := &domain.ImageAnalysis{
		DetailedFindings:     []domain.Finding{},
		AnatomicalStructures: []string{},
		Abnormalities:        []domain.Abnormality{},
		Recommendations:      []string{},
	}

	var summary strings.Builder
	section := ""
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		upper := strings.ToUpper(line)

		header := ""
		for _, h := range replyHeaders {
			if strings.Contains(upper, h.marker) {
				header = h.section
				break
			}
		}
		if header != "" {
			section = header
			if header == "summary" {
				summary.Reset()
				if _, after, ok := strings.Cut(line, ":"); ok {
					summary.WriteString(strings.TrimSpace(after))
				}
			}
			continue
		}
		if line == "" || section == "" {
			continue
		}

		bullet, isBullet := strings.CutPrefix(line, "-")
		bullet = strings.TrimSpace(bullet)
		switch section {
		case "summary":
			summary.WriteString(" " + line)
		case "anatomical":
			if isBullet {
				out.AnatomicalStructures = append(out.AnatomicalStructures, bullet)
			}
		case "findings":
			out.DetailedFindings = append(out.DetailedFindings, domain.Finding{Finding: line})
		case "abnormalities":
			if isBullet {
				out.Abnormalities = append(out.Abnormalities, domain.Abnormality{Description: bullet})
			}
		case "recommendations":
			if isBullet {
				out.Recommendations = append(out.Recommendations, bullet)
			}
		}
	}
	out.Summary = strings.TrimSpace(summary.String())

	confidence := 0.7
	if out.Summary != "" {
		confidence += 0.1
	}
	if len(out.AnatomicalStructures) > 0 {
		confidence += 0.1
	}
	if len(out.DetailedFindings) > 0 {
		confidence += 0.1
	}
	out.Confidence = min(confidence, 0.95)
	return out
}

// CompareImages analyzes a current and a previous study and reports the
// findings that only appear in the current one. The quality gate applies to
// both images.
func (a *ImageAnalyzerAgent) CompareImages(ctx context.Context, current, previous *domain.MedicalImage, query string) (domain.AgentResult, error) {
	if current == nil || previous == nil {
		return domain.Failure("Invalid input data"), nil
	}

	cur, err := a.Process(ctx, domain.ImageInput{Image: current, Query: query})
	if err != nil || !cur.Success {
		return cur, err
	}
	prev, err := a.Process(ctx, domain.ImageInput{Image: previous, Query: query})
	if err != nil || !prev.Success {
		return prev, err
	}

	curA := cur.Data.(*domain.ImageAnalysis)
	prevA := prev.Data.(*domain.ImageAnalysis)

	seen := make(map[string]bool, len(prevA.DetailedFindings))
	for _, f := range prevA.DetailedFindings {
		seen[strings.ToLower(f.Finding)] = true
	}
	newFindings := []domain.Finding{}
	for _, f := range curA.DetailedFindings {
		if !seen[strings.ToLower(f.Finding)] {
			newFindings = append(newFindings, f)
		}
	}

	confidence := min(cur.Confidence, prev.Confidence)
	return domain.AgentResult{
		Success: true,
		Data: &domain.ImageComparison{
			CurrentSummary:  curA.Summary,
			PreviousSummary: prevA.Summary,
			NewFindings:     newFindings,
			Confidence:      confidence,
		},
		Confidence: confidence,
		Metadata: map[string]any{
			"current_image_id":  current.ImageID,
			"previous_image_id": previous.ImageID,
		},
		Sources:   []string{"MedGemma Model"},
		Timestamp: time.Now(),
	}, nil
}
