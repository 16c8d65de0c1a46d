// Package job holds the background jobs run by the scheduler.
package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/jarvis/internal/filestore"
)

// UploadCleanupJob purges retained upload files older than the configured
// retention from the file store.
type UploadCleanupJob struct {
	files     filestore.Store
	retention time.Duration
}

func NewUploadCleanupJob(files filestore.Store, retention time.Duration) *UploadCleanupJob {
	return &UploadCleanupJob{files: files, retention: retention}
}

func (j *UploadCleanupJob) Name() string {
	return "upload_cleanup"
}

func (j *UploadCleanupJob) Run(ctx context.Context) error {
	if j.files == nil || j.retention <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-j.retention)
	keys, err := j.files.ListOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	removed := 0
	for _, key := range keys {
		if err := j.files.Delete(ctx, key); err != nil {
			logutil.GetLogger(ctx).Warn("failed to delete expired upload",
				zap.String("key", key), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logutil.GetLogger(ctx).Info("expired uploads removed", zap.Int("count", removed))
	}
	return nil
}
