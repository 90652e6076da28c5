package domain

import "time"

// UsageLog is one accounting row per successful optimization.
type UsageLog struct {
	ClientID        string
	JobID           string
	SourceFormat    Format
	TargetFormat    Format
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

// NewUsageLog derives the accounting row from a finished result. Growth is recorded as zero savings.
func NewUsageLog(clientID, jobID string, res OptimizationResult, compute time.Duration) UsageLog {
	saved := res.ReductionBytes
	if saved < 0 {
		saved = 0
	}
	ms := compute.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	if clientID == "" {
		clientID = "anonymous"
	}
	return UsageLog{
		ClientID:        clientID,
		JobID:           jobID,
		SourceFormat:    res.SourceFormat,
		TargetFormat:    res.TargetFormat,
		PixelsProcessed: int64(res.OutputWidth) * int64(res.OutputHeight),
		BytesSaved:      saved,
		ComputeTimeMS:   ms,
		CreatedAt:       time.Now().UTC(),
	}
}
