// Package pipeline turns one encoded image plus ProcessingOptions into an optimized encoding and
// an OptimizationResult. It performs no I/O; callers hand it bytes and receive bytes.
package pipeline

import (
	"context"
	"fmt"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/metadata"
	"github.com/dunamismax/pixelopt/internal/preset"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dunamismax/pixelopt/internal/pipeline"

type Output struct {
	Result domain.OptimizationResult
	Data   []byte
}

type Processor struct {
	presets preset.Table
	encoder Encoder
	tracer  trace.Tracer
}

// NewProcessor builds a processor on the encoder backend selected at build time.
func NewProcessor(presets preset.Table) *Processor {
	return &Processor{
		presets: presets,
		encoder: newEncoder(),
		tracer:  otel.Tracer(tracerName),
	}
}

// Optimize runs the full pipeline over input. Work is CPU-bound and not interruptible: ctx is
// consulted once before decoding and otherwise only carries the trace.
func (p *Processor) Optimize(ctx context.Context, input []byte, opts domain.ProcessingOptions) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.optimize")
	defer span.End()

	out, err := p.optimize(ctx, input, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.ErrorKind(err))
		return Output{}, err
	}
	span.SetAttributes(
		attribute.String("image.source_format", string(out.Result.SourceFormat)),
		attribute.String("image.target_format", string(out.Result.TargetFormat)),
		attribute.Int64("image.optimized_bytes", out.Result.OptimizedSizeBytes),
	)
	return out, nil
}

func (p *Processor) optimize(ctx context.Context, input []byte, opts domain.ProcessingOptions) (Output, error) {
	if err := opts.Validate(); err != nil {
		return Output{}, err
	}

	var profile preset.EncodeProfile
	err := p.stage(ctx, "resolve", func() (err error) {
		profile, err = p.presets.Resolve(opts.Preset, opts.Quality)
		return err
	})
	if err != nil {
		return Output{}, err
	}

	var asset *ImageAsset
	if err := p.stage(ctx, "decode", func() (err error) {
		asset, err = decodeAsset(input)
		return err
	}); err != nil {
		return Output{}, err
	}
	source := asset.Format

	p.run(ctx, "orient", func() { normalizeOrientation(asset, opts) })

	origW, origH := asset.Size()

	p.run(ctx, "resize", func() { asset.Image = resize(asset.Image, opts.ResizePercent) })
	p.run(ctx, "sharpen", func() { asset.Image = sharpen(asset.Image, opts.Sharpen) })

	var target domain.Format
	if err := p.stage(ctx, "convert", func() (err error) {
		target, err = resolveTarget(source, opts.OutputFormat)
		if err != nil {
			return err
		}
		asset.Image = convertFor(asset.Image, target)
		return nil
	}); err != nil {
		return Output{}, err
	}

	switch {
	case opts.StripMetadata:
		asset.Metadata.Clear()
	case target != source:
		asset.Metadata = metadata.Metadata{}
	}

	var data []byte
	if err := p.stage(ctx, "encode", func() (err error) {
		data, err = p.encoder.Encode(asset, target, profile)
		return err
	}); err != nil {
		return Output{}, err
	}

	outW, outH := asset.Size()
	res := domain.OptimizationResult{
		SourceFormat:     source,
		TargetFormat:     target,
		OriginalWidth:    origW,
		OriginalHeight:   origH,
		OutputWidth:      outW,
		OutputHeight:     outH,
		Resized:          opts.ResizePercent != 100,
		Sharpened:        opts.Sharpen > 0,
		SharpenAmount:    opts.Sharpen,
		MetadataStripped: opts.StripMetadata,
		AutoOriented:     opts.AutoOrient,
		FormatConverted:  target != source,
		Preset:           opts.Preset,
		QualityUsed:      profile.QualityFor(target),
	}
	res.SetSizes(int64(len(input)), int64(len(data)))

	return Output{Result: res, Data: data}, nil
}

// normalizeOrientation applies the EXIF orientation and performs the first metadata clear.
func normalizeOrientation(asset *ImageAsset, opts domain.ProcessingOptions) {
	if opts.AutoOrient {
		if o := asset.Metadata.Orientation(); o != metadata.OrientationTopLeft {
			asset.Image = orient(asset.Image, o)
			asset.Metadata.ResetOrientation()
		}
	}
	if opts.StripMetadata {
		asset.Metadata.Clear()
	}
}

// run traces a stage that cannot fail.
func (p *Processor) run(ctx context.Context, name string, fn func()) {
	_, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	fn()
}

func (p *Processor) stage(ctx context.Context, name string, fn func() error) error {
	_, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	if err := fn(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s stage: %w", name, err)
	}
	return nil
}
