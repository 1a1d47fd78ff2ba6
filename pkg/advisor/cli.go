package advisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
)

// CLI answers advisory questions by piping the prompt to a local command and
// reading its stdout. Any assistant CLI that prints a JSON object works.
type CLI struct {
	cfg *Config
}

// NewCLI constructs the local-command backend.
func NewCLI(cfg *Config) (*CLI, error) {
	if cfg == nil {
		return nil, errors.New("advisor: config cannot be nil")
	}
	if strings.TrimSpace(cfg.CLI.Command) == "" {
		return nil, errors.New("advisor: cli command not configured")
	}
	return &CLI{cfg: cfg}, nil
}

// Backend identifies this implementation.
func (c *CLI) Backend() string { return BackendCLI }

// IsAvailable reports whether the configured command resolves on PATH.
func (c *CLI) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(c.cfg.CLI.Command)
	return err == nil
}

// AnalyzeMarket asks for a trading signal on the given snapshot.
func (c *CLI) AnalyzeMarket(ctx context.Context, mc MarketContext) (*SignalVerdict, error) {
	text, err := c.run(ctx, marketPrompt(mc))
	if err != nil {
		return nil, err
	}
	return decodeVerdict[SignalVerdict](text)
}

// EvaluateTradeRequest asks for an approve/reject on a trade request.
func (c *CLI) EvaluateTradeRequest(ctx context.Context, tc TradeContext) (*Verdict, error) {
	text, err := c.run(ctx, tradePrompt(tc))
	if err != nil {
		return nil, err
	}
	return decodeVerdict[Verdict](text)
}

// OptimizeStrategy asks for bounded parameter changes.
func (c *CLI) OptimizeStrategy(ctx context.Context, pc PerformanceContext) (*ParamProposal, error) {
	text, err := c.run(ctx, optimizePrompt(pc))
	if err != nil {
		return nil, err
	}
	return decodeVerdict[ParamProposal](text)
}

// ReviewCodeChange asks for an approve/reject on a source change.
func (c *CLI) ReviewCodeChange(ctx context.Context, cc CodeChangeContext) (*Verdict, error) {
	text, err := c.run(ctx, codeReviewPrompt(cc))
	if err != nil {
		return nil, err
	}
	return decodeVerdict[Verdict](text)
}

func (c *CLI) run(ctx context.Context, prompt string) (string, error) {
	runCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.cfg.CLI.Command, c.cfg.CLI.Args...)
	cmd.Stdin = strings.NewReader(systemPrompt + "\n\n" + prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("advisor: run %s: %w (stderr: %.200s)", c.cfg.CLI.Command, err, stderr.String())
	}
	logx.Infof("[advisor] cli verdict from %s (%d bytes)", c.cfg.CLI.Command, stdout.Len())
	return stdout.String(), nil
}
