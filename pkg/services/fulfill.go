package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shareloft/shareloft/internal/cache"
	"github.com/shareloft/shareloft/internal/recordstore"
	"github.com/shareloft/shareloft/pkg/models"
	"github.com/shareloft/shareloft/pkg/schemas"
)

// ChunkCeiling is the fixed upper bound on a single upload part.
const ChunkCeiling = 200 << 20 // 200 MiB

const targetCacheTTL = 2 * time.Second

// PartCount derives the number of upload parts for a transfer. Zero-byte
// input still gets one part; the object store accepts a single empty part.
func PartCount(totalBytes int64) int {
	if totalBytes <= 0 {
		return 1
	}
	return int((totalBytes + ChunkCeiling - 1) / ChunkCeiling)
}

type transferPlan struct {
	Key      string
	UploadID string
	PartURLs []string
}

// planTransfer creates one multipart session and presigns a write URL per
// part. Nothing is persisted here; a failure leaves the caller with no
// reference to clean up. No internal retries either, the caller decides.
func (a *ApiService) planTransfer(ctx context.Context, totalBytes int64, contentType string) (*transferPlan, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cnf.Upload.PlanTimeout)
	defer cancel()

	key := uuid.New().String()
	uploadID, err := a.objects.CreateMultipartUpload(ctx, key, contentType)
	if err != nil {
		return nil, planningError(err)
	}

	parts := PartCount(totalBytes)
	urls := make([]string, 0, parts)
	for n := 1; n <= parts; n++ {
		url, err := a.objects.PresignUploadPart(ctx, key, uploadID, int32(n), a.cnf.Upload.PartURLTTL)
		if err != nil {
			return nil, planningError(err)
		}
		urls = append(urls, url)
	}
	return &transferPlan{Key: key, UploadID: uploadID, PartURLs: urls}, nil
}

func planningError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransferPlanning, err)
}

// fulfillmentTarget evaluates the anonymous-path guard. Absence, wrong type
// and expiry all collapse into the same ErrNotFound so a guesser learns
// nothing from the outcome.
func (a *ApiService) fulfillmentTarget(ctx context.Context, id string) (*models.Share, error) {
	share, err := cache.Fetch(a.cacher, cache.KeyShare(id), targetCacheTTL, func() (*models.Share, error) {
		return a.store.Get(ctx, id)
	})
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if share.Type != models.ShareTypeFileRequest || share.Expired(a.clock()) {
		return nil, ErrNotFound
	}
	return share, nil
}

// ReadFulfillmentTarget is phase A of the fulfillment protocol: the share id
// is the only capability, and the response carries nothing but the title.
func (a *ApiService) ReadFulfillmentTarget(ctx context.Context, id string) (*schemas.FulfillmentTarget, error) {
	share, err := a.fulfillmentTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	return &schemas.FulfillmentTarget{Title: share.Title}, nil
}

// SubmitFulfillment is phase B: validate, re-check the guard, plan the
// transfer and bind the result to the share in one conditional write. At
// most one submission wins; the loser's planner session is left for the
// session sweeper.
func (a *ApiService) SubmitFulfillment(ctx context.Context, id string, payload *schemas.FulfillPayload) (*schemas.FulfillmentSession, error) {
	if err := a.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if payload.FileSize > a.cnf.Upload.MaxFileSize {
		return nil, fmt.Errorf("%w: file size exceeds maximum", ErrValidation)
	}

	share, err := a.fulfillmentTarget(ctx, id)
	if err != nil {
		return nil, err
	}
	if share.Fulfilled() {
		return nil, ErrAlreadyFulfilled
	}

	plan, err := a.planTransfer(ctx, payload.FileSize, payload.FileType)
	if err != nil {
		return nil, err
	}

	next := *share
	next.FileName = payload.FileName
	next.File = plan.Key
	next.UploadID = plan.UploadID
	if err := a.store.Put(ctx, &next, recordstore.IfFileAbsent()); err != nil {
		switch {
		case errors.Is(err, recordstore.ErrConditionFailed):
			// Lost the race. The session created above is now orphaned; the
			// sweeper reclaims it after the retention window.
			a.logger.Warn("fulfillment lost conditional write",
				zap.String("id", id),
				zap.String("upload_id", plan.UploadID))
			return nil, ErrAlreadyFulfilled
		case errors.Is(err, recordstore.ErrNotFound):
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.cacher.Delete(cache.KeyShare(id))

	a.logger.Info("share request fulfilled",
		zap.String("id", id),
		zap.String("file", plan.Key),
		zap.Int("parts", len(plan.PartURLs)))
	return &schemas.FulfillmentSession{UploadUrls: plan.PartURLs}, nil
}
