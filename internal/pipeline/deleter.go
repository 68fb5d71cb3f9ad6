package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/shareloft/shareloft/internal/dlq"
	"github.com/shareloft/shareloft/internal/objectstore"
	"github.com/shareloft/shareloft/internal/recordstore"
	"github.com/shareloft/shareloft/pkg/models"
)

// Deleter consumes the record store's change stream and releases the storage
// behind every removed share: finalized objects are deleted, unfinished
// multipart sessions are aborted. It is the only component that deletes
// objects.
//
// Failures retry the batch; a failing batch is bisected until the poison
// record sits alone, which then burns its own retry budget before being
// dead-lettered. One bad record never blocks the stream.
type Deleter struct {
	stream  *recordstore.Stream
	objects objectstore.Client
	dlq     dlq.Publisher
	logger  *zap.Logger

	maxRetries     int
	retryBackoff   time.Duration
	nextRetryDelay time.Duration

	done chan struct{}
}

type Config struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

func NewDeleter(stream *recordstore.Stream, objects objectstore.Client, publisher dlq.Publisher,
	logger *zap.Logger, cfg Config) *Deleter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Deleter{
		stream:         stream,
		objects:        objects,
		dlq:            publisher,
		logger:         logger.Named("pipeline"),
		maxRetries:     cfg.MaxRetries,
		retryBackoff:   cfg.RetryBackoff,
		nextRetryDelay: time.Second,
		done:           make(chan struct{}),
	}
}

// Start runs the consumer loop until ctx is cancelled.
func (d *Deleter) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		for {
			batch, err := d.stream.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.logger.Error("change stream read failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(d.nextRetryDelay):
				}
				continue
			}
			d.handle(ctx, batch)
			// A cancelled handle may have stopped mid-batch. Leaving the
			// cursor in place redelivers the whole batch on restart; the
			// release paths are idempotent, so acking is the only thing
			// that must not happen early.
			if ctx.Err() != nil {
				return
			}
			if err := d.stream.Ack(ctx, batch[len(batch)-1].Seq); err != nil {
				d.logger.Error("ack failed", zap.Error(err))
			}
		}
	}()
}

// Wait blocks until the consumer loop has stopped.
func (d *Deleter) Wait() {
	<-d.done
}

func (d *Deleter) handle(ctx context.Context, batch []recordstore.ChangeNotification) {
	var removals []recordstore.ChangeNotification
	for _, n := range batch {
		if n.Operation == recordstore.OpRemove && n.Before != nil && n.Before.BoundStorage() {
			removals = append(removals, n)
		}
	}
	if len(removals) == 0 {
		return
	}
	d.processBatch(ctx, removals)
}

// processBatch applies the batch in order. On failure the records before the
// failure point are already released and never touched again; the failing
// remainder splits in half and each half is handled independently. A single
// record retries with backoff until the budget runs out, then goes to the
// dead-letter channel.
func (d *Deleter) processBatch(ctx context.Context, recs []recordstore.ChangeNotification) {
	failedAt, err := d.apply(ctx, recs)
	if err == nil {
		return
	}

	rest := recs[failedAt:]
	if len(rest) > 1 {
		d.logger.Warn("batch failed, bisecting",
			zap.Int("size", len(rest)),
			zap.Error(err))
		mid := len(rest) / 2
		d.processBatch(ctx, rest[:mid])
		d.processBatch(ctx, rest[mid:])
		return
	}

	rec := rest[0]
	attempts := 1
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.retryBackoff
	bo.Reset()
	for attempts < d.maxRetries {
		select {
		case <-ctx.Done():
			return
		case <-time.After(bo.NextBackOff()):
		}
		if _, err = d.apply(ctx, rest); err == nil {
			return
		}
		attempts++
	}
	d.deadLetter(ctx, rec, err, attempts)
}

// apply releases storage record by record, preserving per-key order, and
// reports the index of the first failure. Both release paths are idempotent,
// so re-applying an already-released record on a retry is harmless.
func (d *Deleter) apply(ctx context.Context, recs []recordstore.ChangeNotification) (int, error) {
	for i, n := range recs {
		if err := d.release(ctx, n.Before); err != nil {
			return i, err
		}
	}
	return -1, nil
}

func (d *Deleter) release(ctx context.Context, share *models.Share) error {
	// An unfinished multipart session is aborted; a finalized object is
	// deleted. The two paths are mutually exclusive per record.
	if share.UploadID != "" {
		if err := d.objects.AbortMultipartUpload(ctx, share.File, share.UploadID); err != nil {
			return err
		}
		d.logger.Info("aborted multipart session",
			zap.String("share_id", share.ID),
			zap.String("upload_id", share.UploadID))
		return nil
	}
	if err := d.objects.DeleteObject(ctx, share.File); err != nil {
		return err
	}
	d.logger.Info("deleted object",
		zap.String("share_id", share.ID),
		zap.String("object_key", share.File))
	return nil
}

func (d *Deleter) deadLetter(ctx context.Context, n recordstore.ChangeNotification, cause error, attempts int) {
	fc := dlq.FailureContext{
		ShareID:   n.Before.ID,
		ObjectKey: n.Before.File,
		UploadID:  n.Before.UploadID,
		Cause:     string(n.Cause),
		Error:     cause.Error(),
		Attempts:  attempts,
		At:        time.Now().UTC(),
	}
	if err := d.dlq.Publish(ctx, fc); err != nil {
		// Last resort: the failure context must not vanish silently.
		d.logger.Error("dead-letter publish failed",
			zap.String("share_id", fc.ShareID),
			zap.String("object_key", fc.ObjectKey),
			zap.String("original_error", fc.Error),
			zap.Error(err))
		return
	}
	d.logger.Error("deletion dead-lettered",
		zap.String("share_id", fc.ShareID),
		zap.Int("attempts", attempts),
		zap.Error(cause))
}
