package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shareloft/shareloft/internal/cache"
	"github.com/shareloft/shareloft/internal/recordstore"
	"github.com/shareloft/shareloft/pkg/models"
	"github.com/shareloft/shareloft/pkg/schemas"
)

// CreateShare validates and persists a new share. FILE shares must arrive
// with a bound file; FILE_REQUEST shares must not.
func (a *ApiService) CreateShare(ctx context.Context, owner string, req *schemas.CreateShare) (*schemas.ShareOut, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: missing owner", ErrValidation)
	}
	if err := a.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	switch req.Type {
	case models.ShareTypeFile:
		if req.File == "" {
			return nil, fmt.Errorf("%w: FILE share requires a bound file", ErrValidation)
		}
	case models.ShareTypeFileRequest:
		if req.File != "" {
			return nil, fmt.Errorf("%w: FILE_REQUEST share must not carry a file", ErrValidation)
		}
	}
	now := a.clock().UTC()
	if req.Expire <= now.Unix() {
		return nil, fmt.Errorf("%w: expire must be in the future", ErrValidation)
	}

	share := &models.Share{
		ID:        uuid.New().String(),
		Owner:     owner,
		Type:      req.Type,
		Title:     req.Title,
		FileName:  req.FileName,
		File:      req.File,
		Expire:    req.Expire,
		CreatedAt: now,
	}
	if err := a.store.Put(ctx, share, recordstore.IfNotExists()); err != nil {
		return nil, err
	}

	a.logger.Info("share created",
		zap.String("id", share.ID),
		zap.String("type", string(share.Type)),
		zap.Int64("expire", share.Expire))
	return schemas.ToShareOut(share), nil
}

// ListShares returns the caller's live shares.
func (a *ApiService) ListShares(ctx context.Context, owner string) ([]*schemas.ShareOut, error) {
	shares, err := a.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]*schemas.ShareOut, 0, len(shares))
	for _, s := range shares {
		out = append(out, schemas.ToShareOut(s))
	}
	return out, nil
}

// DeleteShare removes the caller's share. The object bound to it is released
// asynchronously by the deletion pipeline, never here.
func (a *ApiService) DeleteShare(ctx context.Context, id, requester string) error {
	share, err := a.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if share.Owner != requester {
		return ErrForbidden
	}
	if err := a.store.Delete(ctx, id); err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	a.cacher.Delete(cache.KeyShare(id))
	a.logger.Info("share deleted", zap.String("id", id))
	return nil
}
