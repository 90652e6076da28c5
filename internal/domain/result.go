package domain

import "math"

// OptimizationResult is the before/after report for one pipeline run. The HTTP layer renders
// it verbatim, so field semantics must not drift.
type OptimizationResult struct {
	OriginalSizeBytes  int64   `json:"original_size_bytes"`
	OptimizedSizeBytes int64   `json:"optimized_size_bytes"`
	ReductionBytes     int64   `json:"reduction_bytes"`
	ReductionPercent   float64 `json:"reduction_percent"`
	SourceFormat       Format  `json:"source_format"`
	TargetFormat       Format  `json:"target_format"`
	OriginalWidth      int     `json:"original_width"`
	OriginalHeight     int     `json:"original_height"`
	OutputWidth        int     `json:"output_width"`
	OutputHeight       int     `json:"output_height"`
	Resized            bool    `json:"resized"`
	Sharpened          bool    `json:"sharpened"`
	SharpenAmount      int     `json:"sharpen_amount"`
	MetadataStripped   bool    `json:"metadata_stripped"`
	AutoOriented       bool    `json:"auto_oriented"`
	FormatConverted    bool    `json:"format_converted"`
	Preset             string  `json:"preset"`
	// QualityUsed is nil when the target format is lossless.
	QualityUsed *int `json:"quality_used"`
}

// SetSizes fills the size fields. A negative reduction means the output grew.
func (r *OptimizationResult) SetSizes(original, optimized int64) {
	r.OriginalSizeBytes = original
	r.OptimizedSizeBytes = optimized
	r.ReductionBytes = original - optimized
	r.ReductionPercent = 0
	if original > 0 {
		r.ReductionPercent = round2(float64(r.ReductionBytes) / float64(original) * 100)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
