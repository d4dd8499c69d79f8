package meter

import (
	"log/slog"

	"github.com/lexgate/llmgate"
)

// LogMeter logs gate events using slog. Admission denials are expected,
// user-facing conditions and are logged at Info, never as errors.
type LogMeter struct {
	Logger *slog.Logger
}

var _ llmgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAdmission(e llmgate.AdmissionEvent) {
	if e.Allowed {
		m.Logger.Debug("admission",
			"tenant", e.TenantID,
			"estimated_tokens", e.EstimatedTokens,
		)
		return
	}
	m.Logger.Info("admission_denied",
		"tenant", e.TenantID,
		"reason", string(e.Reason),
		"estimated_tokens", e.EstimatedTokens,
		"retry_after", e.RetryAfter,
	)
}

func (m *LogMeter) OnDispatch(e llmgate.DispatchEvent) {
	m.Logger.Info("dispatch",
		"request_id", e.RequestID,
		"provider", e.Provider,
		"model", e.Model,
		"attempt", e.Attempt,
		"fallback", e.Fallback,
		"estimated_tokens", e.EstimatedTokens,
		"load", e.Load,
	)
}

func (m *LogMeter) OnResult(e llmgate.ResultEvent) {
	if e.Success {
		m.Logger.Info("result",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"prompt_tokens", e.Usage.PromptTokens,
			"completion_tokens", e.Usage.CompletionTokens,
		)
	} else {
		m.Logger.Warn("result_error",
			"request_id", e.RequestID,
			"provider", e.Provider,
			"model", e.Model,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
