package enum

// ExitReason records why exit_run was set.
type ExitReason string

const (
	ExitReasonNone        ExitReason = ""
	ExitReasonDrawdown    ExitReason = "drawdown"
	ExitReasonMaxDuration ExitReason = "max_duration"
	ExitReasonSignal      ExitReason = "signal"
	ExitReasonStale       ExitReason = "stale"
)
