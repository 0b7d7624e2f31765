package pipeline

// StepResult records one executed step: its wall-clock duration and either
// its statistics or its failure message.
type StepResult struct {
	Step       string `json:"step"`
	Success    bool   `json:"success"`
	DurationMS int64  `json:"durationMs"`
	Stats      any    `json:"stats,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result is the outcome of one pipeline execution. On failure the ordered
// step results up to and including the failed step are preserved so callers
// can locate where the problem appeared.
type Result struct {
	TaskID           string       `json:"taskId"`
	Success          bool         `json:"success"`
	ProcessingTimeMS int64        `json:"processingTime"`
	OriginalSize     int64        `json:"originalSize"`
	OptimizedSize    int64        `json:"optimizedSize"`
	CompressionRatio float64      `json:"compressionRatio"`
	DownloadURL      string       `json:"downloadUrl,omitempty"`
	Steps            []StepResult `json:"steps"`
	FailedStep       string       `json:"failedStep,omitempty"`
	Error            string       `json:"error,omitempty"`
}
