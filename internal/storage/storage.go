// Package storage keeps uploaded originals and optimized outputs between requests.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key")
)

const (
	KindOriginal  = "original"
	KindOptimized = "optimized"
)

type Object struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is a flat namespace of small image objects. Put must be atomic: a concurrent Get sees
// either the previous object or the complete new one.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Object, error)
}

// Key builds the object key for a stored file of the given kind ("original" or "optimized").
func Key(kind, name string) (string, error) {
	if kind != KindOriginal && kind != KindOptimized {
		return "", fmt.Errorf("%w: kind %q", ErrInvalidKey, kind)
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	return kind + "_" + name, nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, name)
	}
	return nil
}
