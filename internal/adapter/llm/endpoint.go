package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"medsight/internal/domain"
	"medsight/internal/infra/config"
	"medsight/internal/infra/tracer"
)

// EndpointProvider calls a hosted prediction endpoint that accepts
// chat-completion instances, such as a dedicated MedGemma deployment.
// BaseURL is the full predict URL.
type EndpointProvider struct {
	model  string
	apiKey string
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewEndpointProvider creates a provider for cfg.BaseURL.
func NewEndpointProvider(cfg config.ProviderConfig, logger *slog.Logger) *EndpointProvider {
	if logger == nil {
		logger = discardLogger()
	}
	return &EndpointProvider{
		model:  cfg.Model,
		apiKey: cfg.APIKey,
		url:    strings.TrimRight(cfg.BaseURL, "/"),
		client: NewHTTPClient(cfg),
		logger: logger,
	}
}

// Name implements domain.LLMProvider.
func (p *EndpointProvider) Name() string { return "endpoint" }

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type endpointMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type endpointInstance struct {
	RequestFormat string            `json:"@requestFormat"`
	Messages      []endpointMessage `json:"messages"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Temperature   float64           `json:"temperature"`
}

type predictRequest struct {
	Instances []endpointInstance `json:"instances"`
}

type predictResponse struct {
	Predictions json.RawMessage `json:"predictions"`
}

type chatCompletion struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat implements domain.LLMProvider.
func (p *EndpointProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
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

	body, err := json.Marshal(toPredictRequest(req))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	respBody, err := doJSONRequest(ctx, p.client, p.url, body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	result, err := parsePrediction(respBody)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if result.Model == "" {
		result.Model = req.Model
	}

	setUsageAttrs(span, result.Usage)
	tracer.SetOK(span)
	logChatCompleted(p.logger, p.Name(), result, time.Since(start))
	return result, nil
}

func toPredictRequest(req domain.ChatRequest) predictRequest {
	msgs := make([]endpointMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		parts := []contentPart{{Type: "text", Text: m.Content}}
		if m.ImageURL != "" {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: m.ImageURL}})
		}
		msgs = append(msgs, endpointMessage{Role: m.Role, Content: parts})
	}
	return predictRequest{Instances: []endpointInstance{{
		RequestFormat: "chatCompletions",
		Messages:      msgs,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
	}}}
}

// parsePrediction accepts a chat-completion object, a bare string, or a list
// whose first element is one of those.
func parsePrediction(body []byte) (*domain.ChatResponse, error) {
	var resp predictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewDomainError("EndpointProvider.Chat", domain.ErrUnexpectedResponse, "decode response: "+err.Error())
	}
	return decodePrediction(resp.Predictions)
}

func decodePrediction(raw json.RawMessage) (*domain.ChatResponse, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "[]" || trimmed == "{}" || trimmed == `""` {
		return nil, domain.NewDomainError("EndpointProvider.Chat", domain.ErrUnexpectedResponse, "No prediction returned from model")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, domain.NewDomainError("EndpointProvider.Chat", domain.ErrUnexpectedResponse, err.Error())
		}
		return newTextResponse(uuid.NewString(), "", s), nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
			return nil, domain.NewDomainError("EndpointProvider.Chat", domain.ErrUnexpectedResponse, "No prediction returned from model")
		}
		return decodePrediction(items[0])
	case '{':
		var cc chatCompletion
		if err := json.Unmarshal(raw, &cc); err != nil || len(cc.Choices) == 0 {
			return nil, domain.NewDomainError("EndpointProvider.Chat", domain.ErrUnexpectedResponse, "Unexpected prediction format: object without choices")
		}
		id := cc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out := newTextResponse(id, cc.Model, cc.Choices[0].Message.Content)
		out.Usage = domain.Usage{
			PromptTokens:     cc.Usage.PromptTokens,
			CompletionTokens: cc.Usage.CompletionTokens,
			TotalTokens:      cc.Usage.TotalTokens,
		}
		return out, nil
	}
	return nil, domain.NewDomainError("EndpointProvider.Chat", domain.ErrUnexpectedResponse,
		fmt.Sprintf("Unexpected prediction format: %.40s", trimmed))
}

func newTextResponse(id, model, content string) *domain.ChatResponse {
	return &domain.ChatResponse{
		ID:        id,
		Model:     model,
		Message:   domain.ChatMessage{Role: domain.RoleAssistant, Content: content},
		CreatedAt: time.Now(),
	}
}

var _ domain.LLMProvider = (*EndpointProvider)(nil)
