package advisor

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = "You are the risk and strategy advisor for an automated perpetual-futures trading team. " +
	"Answer with a single JSON object matching the requested schema and nothing else."

func marketPrompt(mc MarketContext) string {
	ctx, _ := json.Marshal(mc)
	return fmt.Sprintf(`Analyze this market snapshot and judge the next action.

Context:
%s

Valid signals: BUY (open long), SELL (close long), SHORT (open short), COVER (close short), HOLD.
Respond with JSON: {"signal": "...", "confidence": 0.0-1.0, "reasoning": "..."}`, ctx)
}

func tradePrompt(tc TradeContext) string {
	ctx, _ := json.Marshal(tc)
	return fmt.Sprintf(`Review this trade request against prudent risk limits.

Context:
%s

Respond with JSON: {"approve": true|false, "reasoning": "..."}`, ctx)
}

func optimizePrompt(pc PerformanceContext) string {
	ctx, _ := json.Marshal(pc)
	return fmt.Sprintf(`The strategy is underperforming. Propose conservative parameter changes.

Context:
%s

Only propose keys listed in current_params, and keep every value inside its bounds.
Respond with JSON: {"changes": {"param": value, ...}, "reasoning": "..."}`, ctx)
}

func codeReviewPrompt(cc CodeChangeContext) string {
	return fmt.Sprintf(`Review this proposed source change to a live trading system. Reject anything
that widens risk limits, removes safety checks, or is unrelated to the stated reason.

Target: %s
Reason: %s

--- original ---
%s
--- proposed ---
%s

Respond with JSON: {"approve": true|false, "reasoning": "..."}`, cc.TargetPath, cc.Reason, cc.OriginalContent, cc.ProposedContent)
}

// extractJSON strips markdown fences and surrounding prose, returning the
// first top-level JSON object in the text.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("advisor: no JSON object in response: %.80s", text)
	}
	return text[start : end+1], nil
}

func decodeVerdict[T any](text string) (*T, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("advisor: decode verdict: %w", err)
	}
	return &out, nil
}
