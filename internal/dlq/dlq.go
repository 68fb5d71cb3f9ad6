package dlq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// FailureContext is the dead-letter payload: everything an operator needs to
// remediate a deletion the pipeline gave up on.
type FailureContext struct {
	ShareID   string    `json:"shareId"`
	ObjectKey string    `json:"objectKey,omitempty"`
	UploadID  string    `json:"uploadId,omitempty"`
	Cause     string    `json:"cause"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	At        time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, fc FailureContext) error
}

const defaultQueueKey = "shareloft:deadletter"

// Redis publishes failure contexts onto a Redis list for external
// remediation tooling to drain.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, key: defaultQueueKey}
}

func (r *Redis) Publish(ctx context.Context, fc FailureContext) error {
	raw, err := json.Marshal(fc)
	if err != nil {
		return err
	}
	return r.client.LPush(ctx, r.key, raw).Err()
}

// Logger is the fallback publisher when no Redis is configured: the failure
// context lands in the error log instead of a queue.
type Logger struct {
	logger *zap.Logger
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{logger: logger.Named("dlq")}
}

func (l *Logger) Publish(ctx context.Context, fc FailureContext) error {
	l.logger.Error("dead-lettered deletion",
		zap.String("share_id", fc.ShareID),
		zap.String("object_key", fc.ObjectKey),
		zap.String("upload_id", fc.UploadID),
		zap.String("cause", fc.Cause),
		zap.Int("attempts", fc.Attempts),
		zap.String("error", fc.Error))
	return nil
}

var (
	_ Publisher = (*Redis)(nil)
	_ Publisher = (*Logger)(nil)
)
