package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/shareloft/shareloft/internal/config"
	"github.com/shareloft/shareloft/internal/objectstore"
	"github.com/shareloft/shareloft/internal/recordstore"
)

// Jobs owns the background schedule. Currently a single job: reclaiming
// multipart sessions that were planned but never bound to a share (a crash
// or lost fulfillment race between planning and the conditional write leaves
// one behind).
type Jobs struct {
	store   *recordstore.Store
	objects objectstore.Client
	cnf     *config.Config
	logger  *zap.Logger
	cron    *cron.Cron
}

func New(store *recordstore.Store, objects objectstore.Client, cnf *config.Config, logger *zap.Logger) *Jobs {
	return &Jobs{
		store:   store,
		objects: objects,
		cnf:     cnf,
		logger:  logger.Named("cron"),
		cron:    cron.New(),
	}
}

func (j *Jobs) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", j.cnf.Cron.SweepInterval)
	if _, err := j.cron.AddFunc(spec, func() { j.sweepOrphanedSessions(ctx) }); err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

func (j *Jobs) Stop() {
	<-j.cron.Stop().Done()
}

// sweepOrphanedSessions aborts multipart sessions older than the retention
// window that no live share references. Sessions younger than retention are
// never touched, so an in-flight fulfillment cannot lose its session.
func (j *Jobs) sweepOrphanedSessions(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.cnf.Upload.SessionRetention)

	uploads, err := j.objects.ListMultipartUploads(ctx)
	if err != nil {
		j.logger.Error("list multipart uploads failed", zap.Error(err))
		return
	}

	reclaimed := 0
	for _, u := range uploads {
		if u.Initiated.After(cutoff) {
			continue
		}
		referenced, err := j.store.UploadReferenced(ctx, u.UploadID)
		if err != nil {
			j.logger.Error("session reference lookup failed",
				zap.String("upload_id", u.UploadID), zap.Error(err))
			continue
		}
		if referenced {
			continue
		}
		if err := j.objects.AbortMultipartUpload(ctx, u.Key, u.UploadID); err != nil {
			j.logger.Error("orphaned session abort failed",
				zap.String("upload_id", u.UploadID), zap.Error(err))
			continue
		}
		reclaimed++
	}
	if reclaimed > 0 {
		j.logger.Info("reclaimed orphaned multipart sessions", zap.Int("count", reclaimed))
	}
}
