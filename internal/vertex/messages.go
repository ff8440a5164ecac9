package vertex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	bridge "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/apiclient"
)

// MessageParams is a message-creation request in the vendor-native shape.
// Model is required here and moves into the URL during the rewrite.
type MessageParams struct {
	Model            string          `json:"model"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []MessageParam  `json:"messages"`
	System           json.RawMessage `json:"system,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	TopK             *int            `json:"top_k,omitempty"`
	StopSequences    []string        `json:"stop_sequences,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	AnthropicVersion string          `json:"anthropic_version,omitempty"` // overrides the stamped default
}

// MessageParam is a single conversation turn.
type MessageParam struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Message is a message-creation response.
type Message struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Model        string          `json:"model"`
	Content      json.RawMessage `json:"content"`
	StopReason   string          `json:"stop_reason"`
	StopSequence string          `json:"stop_sequence,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// Usage is the token accounting attached to responses.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CountTokensParams is a token-count request.
type CountTokensParams struct {
	Model    string          `json:"model,omitempty"`
	Messages []MessageParam  `json:"messages"`
	System   json.RawMessage `json:"system,omitempty"`
	Tools    json.RawMessage `json:"tools,omitempty"`
}

// TokenCount is a token-count response.
type TokenCount struct {
	InputTokens int `json:"input_tokens"`
}

// MessagesService exposes the message-creation surface. The beta variant
// tags every path with the beta query marker.
type MessagesService struct {
	client *Client
	beta   bool
}

// BetaService groups the beta-flagged resource namespaces.
type BetaService struct {
	Messages *MessagesService
}

func (s *MessagesService) path(base string) string {
	if s.beta {
		return base + bridge.BetaQueryMarker
	}
	return base
}

// Create sends a non-streaming message-creation request.
func (s *MessagesService) Create(ctx context.Context, params *MessageParams) (*Message, error) {
	body, err := bodyMap(params)
	if err != nil {
		return nil, err
	}
	req := &bridge.Request{
		Method: http.MethodPost,
		Path:   s.path(bridge.MessagesPath),
		Body:   body,
	}
	var out Message
	if err := s.client.api.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateStreaming sends a streaming message-creation request and returns
// the SSE event stream. The stream field is forced on so the rewrite picks
// the streaming verb.
func (s *MessagesService) CreateStreaming(ctx context.Context, params *MessageParams) (*apiclient.Stream, error) {
	body, err := bodyMap(params)
	if err != nil {
		return nil, err
	}
	body["stream"] = true
	req := &bridge.Request{
		Method: http.MethodPost,
		Path:   s.path(bridge.MessagesPath),
		Body:   body,
	}
	return s.client.api.Stream(ctx, req)
}

// CountTokens counts the input tokens a message-creation request would
// consume.
func (s *MessagesService) CountTokens(ctx context.Context, params *CountTokensParams) (*TokenCount, error) {
	body, err := bodyMap(params)
	if err != nil {
		return nil, err
	}
	req := &bridge.Request{
		Method: http.MethodPost,
		Path:   s.path(bridge.CountTokensPath),
		Body:   body,
	}
	var out TokenCount
	if err := s.client.api.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Batches returns the batches namespace. Every operation on it fails with
// ErrBatchesNotSupported before dispatch; the namespace exists so callers
// porting from the vendor endpoint get a clear domain error instead of an
// opaque upstream 404.
func (s *MessagesService) Batches() *BatchesService {
	return &BatchesService{client: s.client, beta: s.beta}
}

// BatchesService is the batches sub-resource, unsupported on Vertex.
type BatchesService struct {
	client *Client
	beta   bool
}

func (s *BatchesService) path(base string) string {
	if s.beta {
		return base + bridge.BetaQueryMarker
	}
	return base
}

// Create attempts to create a message batch.
func (s *BatchesService) Create(ctx context.Context, body map[string]any) (json.RawMessage, error) {
	req := &bridge.Request{
		Method: http.MethodPost,
		Path:   s.path(bridge.BatchesPathPrefix),
		Body:   body,
	}
	var out json.RawMessage
	if err := s.client.api.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// List attempts to list message batches.
func (s *BatchesService) List(ctx context.Context) (json.RawMessage, error) {
	req := &bridge.Request{
		Method: http.MethodGet,
		Path:   s.path(bridge.BatchesPathPrefix),
	}
	var out json.RawMessage
	if err := s.client.api.DoJSON(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// bodyMap converts typed params to the map shape the rewrite operates on.
func bodyMap(params any) (map[string]any, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("vertex: marshal params: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("vertex: marshal params: %w", err)
	}
	return m, nil
}
