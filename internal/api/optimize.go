package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/service"
	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/dunamismax/pixelopt/internal/upload"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
)

const multipartMemory = 32 << 20

type optimizeResponse struct {
	Success          bool          `json:"success"`
	OriginalFilename string        `json:"original_filename,omitempty"`
	SafeFilename     string        `json:"safe_filename"`
	SourceFilename   string        `json:"source_filename"`
	OriginalSize     int64         `json:"original_size"`
	OptimizedSize    int64         `json:"optimized_size"`
	ReductionBytes   int64         `json:"reduction_bytes"`
	ReductionPercent float64       `json:"reduction_percent"`
	Format           domain.Format `json:"format"`
	OutputFormat     domain.Format `json:"output_format"`
	FormatConverted  bool          `json:"format_converted"`
	OriginalWidth    int           `json:"original_width"`
	OriginalHeight   int           `json:"original_height"`
	Width            int           `json:"width"`
	Height           int           `json:"height"`
	Resized          bool          `json:"resized"`
	MetadataStripped bool          `json:"metadata_stripped"`
	AutoOriented     bool          `json:"auto_oriented"`
	Preset           string        `json:"preset"`
	QualityUsed      *int          `json:"quality_used"`
	Sharpened        bool          `json:"sharpened"`
	SharpenAmount    int           `json:"sharpen_amount"`
	DownloadURL      string        `json:"download_url"`
	PreviewURL       string        `json:"preview_url"`
}

func newOptimizeResponse(source string, out service.Outcome) optimizeResponse {
	res := out.Result
	return optimizeResponse{
		Success:          true,
		SafeFilename:     out.OutputName,
		SourceFilename:   source,
		OriginalSize:     res.OriginalSizeBytes,
		OptimizedSize:    res.OptimizedSizeBytes,
		ReductionBytes:   res.ReductionBytes,
		ReductionPercent: res.ReductionPercent,
		Format:           res.SourceFormat,
		OutputFormat:     res.TargetFormat,
		FormatConverted:  res.FormatConverted,
		OriginalWidth:    res.OriginalWidth,
		OriginalHeight:   res.OriginalHeight,
		Width:            res.OutputWidth,
		Height:           res.OutputHeight,
		Resized:          res.Resized,
		MetadataStripped: res.MetadataStripped,
		AutoOriented:     res.AutoOriented,
		Preset:           res.Preset,
		QualityUsed:      res.QualityUsed,
		Sharpened:        res.Sharpened,
		SharpenAmount:    res.SharpenAmount,
		DownloadURL:      "/download/" + out.OutputName,
		PreviewURL:       "/preview/" + storage.KindOptimized + "/" + out.OutputName,
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, "upload too large", err)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}
	defer file.Close()
	if strings.TrimSpace(header.Filename) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file selected"})
		return
	}

	opts, err := s.parseOptions(r)
	if err != nil {
		s.writeError(w, r, "Invalid options", err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		s.writeError(w, r, "Failed to read upload", err)
		return
	}
	info, err := upload.Validate(header.Filename, data, s.maxUploadBytes)
	if err != nil {
		s.metrics.uploadsRejected.Inc()
		s.writeError(w, r, "Upload rejected", err)
		return
	}

	safe := upload.SafeFilename(header.Filename, s.now())
	ctx := r.Context()
	if err := s.deps.Files.StoreOriginal(ctx, safe, data, info.MIMEType); err != nil {
		s.writeError(w, r, "Failed to store upload", err)
		return
	}

	out, err := s.runPipeline(ctx, func(ctx context.Context) (service.Outcome, error) {
		return s.deps.Files.Optimize(ctx, safe, data, opts)
	})
	if err != nil {
		if !errors.Is(err, errTimeout) {
			s.discard(ctx, safe)
		}
		s.writeError(w, r, "Optimization failed", err)
		return
	}

	s.observeResult(out.Result)
	resp := newOptimizeResponse(safe, out)
	resp.OriginalFilename = header.Filename
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReoptimize(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid form body"})
		return
	}

	name := strings.TrimSpace(r.FormValue("safe_filename"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No filename provided"})
		return
	}

	opts, err := s.parseOptions(r)
	if err != nil {
		s.writeError(w, r, "Invalid options", err)
		return
	}

	ctx := r.Context()
	source, err := s.deps.Files.ResolveOriginal(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Original file not found. Please re-upload."})
			return
		}
		s.writeError(w, r, "Reoptimize failed", err)
		return
	}

	out, err := s.runPipeline(ctx, func(ctx context.Context) (service.Outcome, error) {
		return s.deps.Files.Reoptimize(ctx, source, opts)
	})
	if err != nil {
		s.writeError(w, r, "Optimization failed", err)
		return
	}

	s.observeResult(out.Result)
	writeJSON(w, http.StatusOK, newOptimizeResponse(source, out))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	ctx := r.Context()

	data, err := s.deps.Files.Open(ctx, storage.KindOptimized, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
			return
		}
		s.writeError(w, r, "Download failed", err)
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", storage.KindOptimized+"_"+name))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)

	if s.deleteAfterDownload {
		s.discard(context.WithoutCancel(ctx), name)
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	if kind != storage.KindOriginal && kind != storage.KindOptimized {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid file type"})
		return
	}

	data, err := s.deps.Files.Open(r.Context(), kind, chi.URLParam(r, "filename"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
			return
		}
		s.writeError(w, r, "Preview failed", err)
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCleanupAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.deps.Janitor.PurgeAll(r.Context())
	if err != nil {
		s.writeError(w, r, "Cleanup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Cleaned up %d files", count),
		"count":   count,
	})
}

func (s *Server) parseOptions(r *http.Request) (domain.ProcessingOptions, error) {
	if r.Form == nil {
		if err := r.ParseForm(); err != nil {
			return domain.ProcessingOptions{}, fmt.Errorf("%w: %v", domain.ErrInvalidOption, err)
		}
	}
	return upload.ParseOptions(r.Form, s.deps.Presets)
}

// runPipeline bounds fn by the request timeout. The pipeline itself cannot be interrupted, so on
// timeout fn keeps running in the background and its stored output expires with the next cleanup.
func (s *Server) runPipeline(ctx context.Context, fn func(context.Context) (service.Outcome, error)) (service.Outcome, error) {
	if s.requestTimeout <= 0 {
		return fn(ctx)
	}

	type result struct {
		out service.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn(context.WithoutCancel(ctx))
		done <- result{out, err}
	}()

	timer := time.NewTimer(s.requestTimeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.out, res.err
	case <-timer.C:
		s.metrics.pipelineTimeouts.Inc()
		return service.Outcome{}, fmt.Errorf("%w after %s", errTimeout, s.requestTimeout)
	case <-ctx.Done():
		return service.Outcome{}, ctx.Err()
	}
}

func (s *Server) discard(ctx context.Context, name string) {
	if err := s.deps.Files.Discard(ctx, name); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("discard stored files")
	}
}

func (s *Server) observeResult(res domain.OptimizationResult) {
	s.metrics.optimizations.WithLabelValues(string(res.SourceFormat), string(res.TargetFormat)).Inc()
	if res.ReductionBytes > 0 {
		s.metrics.bytesSaved.Add(float64(res.ReductionBytes))
	}
}
