package recordstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

const defaultPollInterval = 500 * time.Millisecond

// Stream is a consumer-group view over the change journal. Delivery is
// at-least-once: entries past the group's cursor are handed out again on
// every call until Ack moves the cursor, so a consumer that crashes
// mid-batch sees the whole batch once more.
type Stream struct {
	store        *Store
	group        string
	batchSize    int
	pollInterval time.Duration
}

type StreamOption func(*Stream)

func WithBatchSize(n int) StreamOption {
	return func(st *Stream) { st.batchSize = n }
}

func WithPollInterval(d time.Duration) StreamOption {
	return func(st *Stream) { st.pollInterval = d }
}

func (s *Store) Stream(group string, opts ...StreamOption) *Stream {
	st := &Stream{
		store:        s,
		group:        group,
		batchSize:    100,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// Next blocks until at least one unacknowledged notification is available
// and returns up to the configured batch size, in journal order.
func (st *Stream) Next(ctx context.Context) ([]ChangeNotification, error) {
	ticker := time.NewTicker(st.pollInterval)
	defer ticker.Stop()
	for {
		batch, err := st.fetch()
		if err != nil {
			return nil, err
		}
		if len(batch) > 0 {
			return batch, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-st.store.signal:
		case <-ticker.C:
		}
	}
}

// Ack acknowledges every notification up to and including seq and prunes
// journal entries no consumer group still needs.
func (st *Stream) Ack(ctx context.Context, seq uint64) error {
	return st.store.db.Update(func(tx *bbolt.Tx) error {
		cursors := tx.Bucket(bucketCursors)
		if err := cursors.Put([]byte(st.group), seqKey(seq)); err != nil {
			return err
		}

		min := seq
		if err := cursors.ForEach(func(_, v []byte) error {
			if cur := binary.BigEndian.Uint64(v); cur < min {
				min = cur
			}
			return nil
		}); err != nil {
			return err
		}

		journal := tx.Bucket(bucketJournal)
		cur := journal.Cursor()
		bound := seqKey(min + 1)
		for k, _ := cur.First(); k != nil && bytes.Compare(k, bound) < 0; k, _ = cur.First() {
			if err := journal.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (st *Stream) fetch() ([]ChangeNotification, error) {
	var batch []ChangeNotification
	err := st.store.db.View(func(tx *bbolt.Tx) error {
		var after uint64
		if v := tx.Bucket(bucketCursors).Get([]byte(st.group)); v != nil {
			after = binary.BigEndian.Uint64(v)
		}
		cur := tx.Bucket(bucketJournal).Cursor()
		for k, v := cur.Seek(seqKey(after + 1)); k != nil && len(batch) < st.batchSize; k, v = cur.Next() {
			var entry ChangeNotification
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			batch = append(batch, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}
