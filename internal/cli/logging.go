// Package cli holds helpers shared by the team's entry points.
package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"tradeteam/internal/config"
)

// ConfigSummaryLines returns human readable lines describing the loaded
// configuration.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}
	return []string{
		fmt.Sprintf("Instrument: %s", cfg.Trading.Instrument),
		fmt.Sprintf("Initial capital: %.2f", cfg.Trading.InitialCapital),
		fmt.Sprintf("Intervals (signal/executor/guardian): %ds / %ds / %ds", cfg.Intervals.SignalSec, cfg.Intervals.ExecutorSec, cfg.Intervals.GuardianSec),
		fmt.Sprintf("Drawdown thresholds (warn/block/stop): %.0f%% / %.0f%% / %.0f%%", cfg.Risk.WarnDrawdown*100, cfg.Risk.BlockDrawdown*100, cfg.Risk.StopDrawdown*100),
		fmt.Sprintf("Pool switch (stop-loss/re-entry): %.0f%% / %.0f%%", cfg.Pool.StopLossRatio*100, cfg.Pool.ReentryGainRatio*100),
		fmt.Sprintf("Advisor: %s", presence(strings.TrimSpace(cfg.AdvisorConf) != "")),
		fmt.Sprintf("Postgres audit: %s", presence(strings.TrimSpace(cfg.Postgres.DSN) != "")),
		fmt.Sprintf("Journal: %s (%s)", cfg.Journal.Dir, cfg.Journal.Codec),
	}
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	logx.Info("configuration summary")
	for _, line := range ConfigSummaryLines(cfg) {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}
