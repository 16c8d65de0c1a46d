// Package filestore retains uploaded source files so ingested documents can
// be traced back to the bytes they came from. Backends register themselves
// by type name.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/jarvis/internal/config"
)

type Store interface {
	Save(ctx context.Context, key string, r io.ReadSeeker, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// ListOlderThan returns the keys of files written before the cutoff.
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
}

type Factory func(args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.FileStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("file store type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported file store type: %s", cfg.Type)
	}
	return factory(buildArgs(cfg))
}

func buildArgs(cfg config.FileStoreConfig) interface{} {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "s3":
		return map[string]interface{}{
			"endpoint":   cfg.S3.Endpoint,
			"secret_id":  cfg.S3.SecretID,
			"secret_key": cfg.S3.SecretKey,
			"bucket":     cfg.S3.Bucket,
			"region":     cfg.S3.Region,
			"prefix":     cfg.S3.Prefix,
			"use_ssl":    cfg.S3.UseSSL,
		}
	default:
		return map[string]interface{}{
			"dir": cfg.Dir,
		}
	}
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("store config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode store config: %w", err)
	}
	return nil
}
