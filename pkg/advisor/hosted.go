package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/zeromicro/go-zero/core/logx"
)

// Hosted answers advisory questions through an OpenAI-compatible chat
// completion endpoint.
type Hosted struct {
	cfg    *Config
	client *openai.Client
}

// HostedOption configures optional hosted-backend behaviour.
type HostedOption func(*Hosted)

// WithOpenAIClient injects a pre-configured client, primarily for testing.
func WithOpenAIClient(client *openai.Client) HostedOption {
	return func(h *Hosted) { h.client = client }
}

// NewHosted constructs the hosted backend from validated configuration.
func NewHosted(cfg *Config, opts ...HostedOption) (*Hosted, error) {
	if cfg == nil {
		return nil, errors.New("advisor: config cannot be nil")
	}
	h := &Hosted{cfg: cfg}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		oaOpts := []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
		}
		if cfg.Timeout > 0 {
			oaOpts = append(oaOpts, option.WithRequestTimeout(cfg.Timeout))
		}
		clientVal := openai.NewClient(oaOpts...)
		h.client = &clientVal
	}
	return h, nil
}

// Backend identifies this implementation.
func (h *Hosted) Backend() string { return BackendHosted }

// IsAvailable reports whether the backend is configured to make calls.
func (h *Hosted) IsAvailable(ctx context.Context) bool {
	return strings.TrimSpace(h.cfg.APIKey) != ""
}

// AnalyzeMarket asks for a trading signal on the given snapshot.
func (h *Hosted) AnalyzeMarket(ctx context.Context, mc MarketContext) (*SignalVerdict, error) {
	text, err := h.complete(ctx, marketPrompt(mc))
	if err != nil {
		return nil, err
	}
	return decodeVerdict[SignalVerdict](text)
}

// EvaluateTradeRequest asks for an approve/reject on a trade request.
func (h *Hosted) EvaluateTradeRequest(ctx context.Context, tc TradeContext) (*Verdict, error) {
	text, err := h.complete(ctx, tradePrompt(tc))
	if err != nil {
		return nil, err
	}
	return decodeVerdict[Verdict](text)
}

// OptimizeStrategy asks for bounded parameter changes.
func (h *Hosted) OptimizeStrategy(ctx context.Context, pc PerformanceContext) (*ParamProposal, error) {
	text, err := h.complete(ctx, optimizePrompt(pc))
	if err != nil {
		return nil, err
	}
	return decodeVerdict[ParamProposal](text)
}

// ReviewCodeChange asks for an approve/reject on a source change.
func (h *Hosted) ReviewCodeChange(ctx context.Context, cc CodeChangeContext) (*Verdict, error) {
	text, err := h.complete(ctx, codeReviewPrompt(cc))
	if err != nil {
		return nil, err
	}
	return decodeVerdict[Verdict](text)
}

func (h *Hosted) complete(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(h.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	}

	var completion *openai.ChatCompletion
	var err error
	start := time.Now()
	for attempt := 0; attempt <= h.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		completion, err = h.client.Chat.Completions.New(ctx, params)
		if err == nil {
			break
		}
		logx.Errorf("[advisor] chat completion attempt %d failed: %v", attempt+1, err)
	}
	if err != nil {
		return "", fmt.Errorf("advisor: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("advisor: empty completion")
	}
	text := completion.Choices[0].Message.Content
	logx.Infof("[advisor] hosted verdict in %dms (%d tokens)", time.Since(start).Milliseconds(), completion.Usage.TotalTokens)
	return text, nil
}
