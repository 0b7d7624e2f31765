package pipeline

// ProgressStatus is the lifecycle state carried by a progress event.
type ProgressStatus string

const (
	// ProgressStart is emitted immediately before a step runs.
	ProgressStart ProgressStatus = "start"
	// ProgressDone is emitted after a step completes successfully.
	ProgressDone ProgressStatus = "done"
	// ProgressError is emitted after a step fails; the pipeline stops.
	ProgressError ProgressStatus = "error"
)

// ProgressEvent describes one step lifecycle transition. A successful run
// emits exactly two events per executed step.
type ProgressEvent struct {
	Step       string         `json:"step"`
	Status     ProgressStatus `json:"status"`
	Index      int            `json:"index"`
	Total      int            `json:"total"`
	DurationMS int64          `json:"durationMs,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ProgressSink receives progress events during a pipeline run. Sinks are
// called synchronously from the pipeline goroutine and should return quickly.
type ProgressSink func(ProgressEvent)
