package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
	"medsight/internal/infra/tracer"
)

// OpenAIProvider implements domain.LLMProvider for any OpenAI-compatible
// chat completions API, including vision models that take image_url parts.
type OpenAIProvider struct {
	model  string
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a provider with pooled HTTP transport.
func NewOpenAIProvider(cfg config.ProviderConfig, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = discardLogger()
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		oc.BaseURL = base
	}
	oc.HTTPClient = NewHTTPClient(cfg)

	return &OpenAIProvider{
		model:  cfg.Model,
		client: openai.NewClientWithConfig(oc),
		logger: logger,
	}
}

// Name implements domain.LLMProvider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Chat implements domain.LLMProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.model
	}
	ctx, span := tracer.StartSpan(ctx, tracer.SpanLLMChat,
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.Name()),
			tracer.StringAttr("llm.model", req.Model),
		),
	)
	defer span.End()
	start := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, toOpenAIRequest(req))
	if err != nil {
		err = mapOpenAIError(err)
		tracer.RecordError(span, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := domain.NewDomainError("OpenAIProvider.Chat", domain.ErrUnexpectedResponse, "No prediction returned from model")
		tracer.RecordError(span, err)
		return nil, err
	}

	result := &domain.ChatResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Message: domain.ChatMessage{
			Role:    domain.RoleAssistant,
			Content: resp.Choices[0].Message.Content,
		},
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		CreatedAt: time.Unix(resp.Created, 0),
	}

	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.Name(), result, time.Since(start))
	return result, nil
}

func toOpenAIRequest(req domain.ChatRequest) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.ImageURL == "" {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role: m.Role,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: m.Content},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    m.ImageURL,
						Detail: openai.ImageURLDetailAuto,
					},
				},
			},
		})
	}

	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.JSONMode {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	return out
}

// mapOpenAIError classifies client errors by HTTP status like mapHTTPError.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return mapHTTPError(apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return mapHTTPError(reqErr.HTTPStatusCode, []byte(fmt.Sprint(reqErr.Err)))
	}
	return mapTransportError(err)
}

var _ domain.LLMProvider = (*OpenAIProvider)(nil)
