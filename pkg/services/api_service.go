package services

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/shareloft/shareloft/internal/cache"
	"github.com/shareloft/shareloft/internal/config"
	"github.com/shareloft/shareloft/internal/objectstore"
	"github.com/shareloft/shareloft/internal/recordstore"
)

// Caller-visible error taxonomy. Handlers translate these to HTTP statuses;
// everything else is an internal failure.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyFulfilled = errors.New("already fulfilled")
	ErrTransferPlanning = errors.New("transfer planning failed")
	ErrUpstreamTimeout  = errors.New("upstream timeout")
)

type ApiService struct {
	store    *recordstore.Store
	objects  objectstore.Client
	cacher   cache.Cacher
	cnf      *config.Config
	logger   *zap.Logger
	validate *validator.Validate
	clock    func() time.Time
}

func NewApiService(store *recordstore.Store, objects objectstore.Client, cacher cache.Cacher,
	cnf *config.Config, logger *zap.Logger) *ApiService {
	return &ApiService{
		store:    store,
		objects:  objects,
		cacher:   cacher,
		cnf:      cnf,
		logger:   logger.Named("services"),
		validate: validator.New(),
		clock:    time.Now,
	}
}
