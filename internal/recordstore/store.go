package recordstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/shareloft/shareloft/pkg/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrConditionFailed = errors.New("condition failed")
)

var (
	bucketShares  = []byte("shares")
	bucketExpiry  = []byte("expiry")
	bucketJournal = []byte("journal")
	bucketCursors = []byte("cursors")
)

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpModify Operation = "MODIFY"
	OpRemove Operation = "REMOVE"
)

type Cause string

const (
	CauseUser   Cause = "USER"
	CauseExpiry Cause = "EXPIRY"
)

// ChangeNotification is the per-mutation journal entry. Before carries the
// old image of the record; it is nil for inserts.
type ChangeNotification struct {
	Seq       uint64        `json:"seq"`
	Operation Operation     `json:"operation"`
	Cause     Cause         `json:"cause"`
	Before    *models.Share `json:"before,omitempty"`
	At        time.Time     `json:"at"`
}

// Condition is evaluated against the current record (nil when absent) inside
// the write transaction. Returning an error aborts the write with
// ErrConditionFailed semantics.
type Condition func(prev *models.Share) error

// IfNotExists fails the write when a record already exists under the key.
func IfNotExists() Condition {
	return func(prev *models.Share) error {
		if prev != nil {
			return ErrConditionFailed
		}
		return nil
	}
}

// IfFileAbsent fails the write when the record is missing or already has a
// bound file. This is the compare-and-swap behind first-fulfillment-wins.
func IfFileAbsent() Condition {
	return func(prev *models.Share) error {
		if prev == nil {
			return ErrNotFound
		}
		if prev.Fulfilled() {
			return ErrConditionFailed
		}
		return nil
	}
}

// Store is the share record store: a bbolt database holding the records, an
// ordered expiry index the TTL sweeper walks, a change journal and one
// cursor per consumer group. All contention resolves inside bbolt's single
// update transaction, so conditional writes are linearizable without any
// in-process lock.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
	clock  func() time.Time

	sweepInterval time.Duration
	signal        chan struct{}
	done          chan struct{}
	cancel        context.CancelFunc
}

type Option func(*Store)

// WithClock overrides the store's time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithSweepInterval overrides how often the TTL sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

func Open(path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	db, err := bbolt.Open(path, 0666, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketShares, bucketExpiry, bucketJournal, bucketCursors} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init record store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:            db,
		logger:        logger.Named("recordstore"),
		clock:         time.Now,
		sweepInterval: time.Second,
		signal:        make(chan struct{}, 1),
		done:          make(chan struct{}),
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop(ctx)
	return s, nil
}

func (s *Store) Close() error {
	s.cancel()
	<-s.done
	return s.db.Close()
}

// Get returns the record for id. Expired records are invisible even before
// the sweeper removes them.
func (s *Store) Get(ctx context.Context, id string) (*models.Share, error) {
	var share *models.Share
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketShares).Get([]byte(id))
		if raw == nil {
			return ErrNotFound
		}
		decoded, err := decodeShare(raw)
		if err != nil {
			return err
		}
		share = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if share.Expired(s.clock()) {
		return nil, ErrNotFound
	}
	return share, nil
}

// Put writes the record, evaluating cond (if any) against the current image
// inside the same transaction. Every successful write appends an
// INSERT/MODIFY journal entry carrying the old image.
func (s *Store) Put(ctx context.Context, share *models.Share, cond Condition) error {
	if share.ID == "" {
		return errors.New("share id is empty")
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		shares := tx.Bucket(bucketShares)
		key := []byte(share.ID)

		var prev *models.Share
		if raw := shares.Get(key); raw != nil {
			decoded, err := decodeShare(raw)
			if err != nil {
				return err
			}
			prev = decoded
		}
		if cond != nil {
			if err := cond(prev); err != nil {
				return err
			}
		}

		raw, err := json.Marshal(share)
		if err != nil {
			return err
		}
		if err := shares.Put(key, raw); err != nil {
			return err
		}

		expiry := tx.Bucket(bucketExpiry)
		if prev != nil && prev.Expire != share.Expire {
			if err := expiry.Delete(expiryKey(prev.Expire, prev.ID)); err != nil {
				return err
			}
		}
		if err := expiry.Put(expiryKey(share.Expire, share.ID), key); err != nil {
			return err
		}

		op := OpInsert
		if prev != nil {
			op = OpModify
		}
		return s.appendJournal(tx, op, CauseUser, prev)
	})
	if err != nil {
		return err
	}
	s.wake()
	return nil
}

// Delete removes the record explicitly (cause USER). Deleting an absent or
// already-expired record returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		shares := tx.Bucket(bucketShares)
		key := []byte(id)
		raw := shares.Get(key)
		if raw == nil {
			return ErrNotFound
		}
		prev, err := decodeShare(raw)
		if err != nil {
			return err
		}
		if prev.Expired(s.clock()) {
			return ErrNotFound
		}
		if err := shares.Delete(key); err != nil {
			return err
		}
		if err := tx.Bucket(bucketExpiry).Delete(expiryKey(prev.Expire, prev.ID)); err != nil {
			return err
		}
		return s.appendJournal(tx, OpRemove, CauseUser, prev)
	})
	if err != nil {
		return err
	}
	s.wake()
	return nil
}

// ListByOwner returns the owner's live shares, newest first.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]*models.Share, error) {
	now := s.clock()
	var out []*models.Share
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketShares).ForEach(func(_, raw []byte) error {
			share, err := decodeShare(raw)
			if err != nil {
				return err
			}
			if share.Owner == owner && !share.Expired(now) {
				out = append(out, share)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UploadReferenced reports whether any live record still references the
// multipart session. The session sweeper uses it to spare in-flight uploads.
func (s *Store) UploadReferenced(ctx context.Context, uploadID string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketShares).ForEach(func(_, raw []byte) error {
			share, err := decodeShare(raw)
			if err != nil {
				return err
			}
			if share.UploadID == uploadID {
				found = true
			}
			return nil
		})
	})
	return found, err
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.sweepExpired(); err != nil {
				s.logger.Error("ttl sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Debug("ttl sweep removed records", zap.Int("count", n))
			}
		}
	}
}

// sweepExpired removes every record whose expiry has passed, emitting a
// REMOVE/EXPIRY journal entry per record. The expiry bucket's keys sort by
// timestamp, so the scan stops at the first live entry.
func (s *Store) sweepExpired() (int, error) {
	now := s.clock().UTC().Unix()
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		expiry := tx.Bucket(bucketExpiry)
		shares := tx.Bucket(bucketShares)
		cur := expiry.Cursor()
		bound := expiryKey(now+1, "")
		for k, id := cur.First(); k != nil && bytes.Compare(k, bound) < 0; k, id = cur.Next() {
			raw := shares.Get(id)
			if raw != nil {
				prev, err := decodeShare(raw)
				if err != nil {
					return err
				}
				if err := shares.Delete(id); err != nil {
					return err
				}
				if err := s.appendJournal(tx, OpRemove, CauseExpiry, prev); err != nil {
					return err
				}
				removed++
			}
			if err := cur.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.wake()
	}
	return removed, nil
}

func (s *Store) appendJournal(tx *bbolt.Tx, op Operation, cause Cause, before *models.Share) error {
	journal := tx.Bucket(bucketJournal)
	seq, err := journal.NextSequence()
	if err != nil {
		return err
	}
	entry := ChangeNotification{
		Seq:       seq,
		Operation: op,
		Cause:     cause,
		Before:    before,
		At:        s.clock().UTC(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return journal.Put(seqKey(seq), raw)
}

func (s *Store) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func decodeShare(raw []byte) (*models.Share, error) {
	share := &models.Share{}
	if err := json.Unmarshal(raw, share); err != nil {
		return nil, fmt.Errorf("decode share record: %w", err)
	}
	return share, nil
}

func expiryKey(expire int64, id string) []byte {
	key := make([]byte, 8, 8+1+len(id))
	binary.BigEndian.PutUint64(key, uint64(expire))
	key = append(key, '/')
	return append(key, id...)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
