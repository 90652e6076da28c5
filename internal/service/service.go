// Package service ties the pipeline to the file store. The HTTP API and the queue worker both
// optimize through it so stored names and layouts stay identical.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dunamismax/pixelopt/internal/domain"
	"github.com/dunamismax/pixelopt/internal/pipeline"
	"github.com/dunamismax/pixelopt/internal/storage"
	"github.com/dunamismax/pixelopt/internal/upload"
)

type Optimizer interface {
	Optimize(ctx context.Context, input []byte, opts domain.ProcessingOptions) (pipeline.Output, error)
}

// Outcome describes a stored optimized file.
type Outcome struct {
	Result     domain.OptimizationResult
	OutputName string
}

type Service struct {
	files     storage.Store
	optimizer Optimizer
}

func New(files storage.Store, optimizer Optimizer) *Service {
	return &Service{files: files, optimizer: optimizer}
}

// StoreOriginal saves an uploaded file under its safe name.
func (s *Service) StoreOriginal(ctx context.Context, safeFilename string, data []byte, contentType string) error {
	key, err := storage.Key(storage.KindOriginal, safeFilename)
	if err != nil {
		return err
	}
	return s.files.Put(ctx, key, data, contentType)
}

// Reoptimize loads a stored original and optimizes it again with new options. name may be the
// original's safe name or the name of a previous (possibly converted) output.
func (s *Service) Reoptimize(ctx context.Context, name string, opts domain.ProcessingOptions) (Outcome, error) {
	original, data, err := s.findOriginal(ctx, name)
	if err != nil {
		return Outcome{}, err
	}
	return s.Optimize(ctx, original, data, opts)
}

func (s *Service) findOriginal(ctx context.Context, name string) (string, []byte, error) {
	for _, candidate := range originalCandidates(name) {
		key, err := storage.Key(storage.KindOriginal, candidate)
		if err != nil {
			return "", nil, err
		}
		data, err := s.files.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", nil, err
		}
		return candidate, data, nil
	}
	return "", nil, fmt.Errorf("%w: original of %s", storage.ErrNotFound, name)
}

// ResolveOriginal returns the safe name under which the original behind name is stored.
func (s *Service) ResolveOriginal(ctx context.Context, name string) (string, error) {
	for _, candidate := range originalCandidates(name) {
		key, err := storage.Key(storage.KindOriginal, candidate)
		if err != nil {
			return "", err
		}
		ok, err := s.files.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: original of %s", storage.ErrNotFound, name)
}

// originalCandidates lists the names an original could have been stored under. A converted output
// no longer shares the original's extension, so every accepted upload extension is tried.
func originalCandidates(name string) []string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	candidates := []string{name}
	for _, ext := range upload.AllowedExtensions {
		for _, e := range []string{ext, strings.ToUpper(ext)} {
			if c := stem + "." + e; c != name {
				candidates = append(candidates, c)
			}
		}
	}
	return candidates
}

// Optimize runs the pipeline over data and stores the result as the optimized file for
// safeFilename. Nothing is written when the pipeline fails.
func (s *Service) Optimize(ctx context.Context, safeFilename string, data []byte, opts domain.ProcessingOptions) (Outcome, error) {
	out, err := s.optimizer.Optimize(ctx, data, opts)
	if err != nil {
		return Outcome{}, err
	}

	name := upload.FinalName(safeFilename, out.Result)
	key, err := storage.Key(storage.KindOptimized, name)
	if err != nil {
		return Outcome{}, err
	}
	if err := s.files.Put(ctx, key, out.Data, out.Result.TargetFormat.ContentType()); err != nil {
		return Outcome{}, fmt.Errorf("store optimized file: %w", err)
	}
	return Outcome{Result: out.Result, OutputName: name}, nil
}

// Open returns a stored file of the given kind.
func (s *Service) Open(ctx context.Context, kind, name string) ([]byte, error) {
	key, err := storage.Key(kind, name)
	if err != nil {
		return nil, err
	}
	return s.files.Get(ctx, key)
}

// Discard removes a downloaded optimized file together with its original. Missing files are ignored.
func (s *Service) Discard(ctx context.Context, outputName string) error {
	key, err := storage.Key(storage.KindOptimized, outputName)
	if err != nil {
		return err
	}
	if err := s.files.Delete(ctx, key); err != nil {
		return err
	}

	for _, name := range originalCandidates(outputName) {
		key, err := storage.Key(storage.KindOriginal, name)
		if err != nil {
			return err
		}
		if err := s.files.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}
