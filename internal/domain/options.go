package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	PresetSpeed      = "speed"
	PresetBalanced   = "balanced"
	PresetMaxQuality = "max_quality"

	OutputSame = "same"
	OutputJPEG = "jpeg"
	OutputPNG  = "png"
	OutputWebP = "webp"

	MinQuality       = 1
	MaxQuality       = 95
	MinResizePercent = 10
	MaxResizePercent = 200
	MinSharpen       = 0
	MaxSharpen       = 100
)

// ProcessingOptions is the per-invocation transform request. Ranges are enforced by the upload
// layer; Validate rejects anything that still slips through.
type ProcessingOptions struct {
	Preset        string `json:"preset" validate:"required"`
	Quality       *int   `json:"quality,omitempty" validate:"omitempty,min=1,max=95"`
	ResizePercent int    `json:"resize_percent" validate:"min=10,max=200"`
	Sharpen       int    `json:"sharpen" validate:"min=0,max=100"`
	OutputFormat  string `json:"output_format" validate:"oneof=same jpeg png webp"`
	StripMetadata bool   `json:"strip_metadata"`
	AutoOrient    bool   `json:"auto_orient"`
}

// DefaultOptions mirrors the defaults the upload form starts from.
func DefaultOptions() ProcessingOptions {
	return ProcessingOptions{
		Preset:        PresetBalanced,
		ResizePercent: 100,
		Sharpen:       0,
		OutputFormat:  OutputSame,
		StripMetadata: true,
		AutoOrient:    true,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (o ProcessingOptions) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrInvalidOption, err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidOption, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := jsonFieldName(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "max":
		return fmt.Sprintf("%s out of range: %v", field, fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

func jsonFieldName(field string) string {
	switch field {
	case "ResizePercent":
		return "resize_percent"
	case "OutputFormat":
		return "output_format"
	case "StripMetadata":
		return "strip_metadata"
	case "AutoOrient":
		return "auto_orient"
	default:
		return strings.ToLower(field)
	}
}

// IntPtr is a convenience for building options with an explicit quality.
func IntPtr(v int) *int {
	return &v
}
