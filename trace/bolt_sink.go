package trace

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

var (
	messagesBucket = []byte("messages")
	csAccessBucket = []byte("cs_access")
)

// BoltSink archives trace events in a BoltDB file. Message events and
// critical section events go to separate buckets, keyed by insertion order.
// The archive is write-only from the engine's point of view; nothing is
// restored from it on startup.
type BoltSink struct {
	db *bolt.DB
}

func OpenBoltSink(path string) (*BoltSink, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open trace archive %s", path)
	}

	err = db.Update(func(btx *bolt.Tx) error {
		if _, err := btx.CreateBucketIfNotExists(messagesBucket); err != nil {
			return err
		}
		_, err := btx.CreateBucketIfNotExists(csAccessBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create trace buckets")
	}
	return &BoltSink{db: db}, nil
}

func bucketFor(t EvtType) []byte {
	if t.IsMessage() {
		return messagesBucket
	}
	return csAccessBucket
}

func (s *BoltSink) Record(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal trace event")
	}

	return s.db.Update(func(btx *bolt.Tx) error {
		b := btx.Bucket(bucketFor(ev.EvtType))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// Messages returns archived REQUEST/TOKEN events in the order they were recorded.
func (s *BoltSink) Messages() ([]Event, error) {
	return s.readBucket(messagesBucket)
}

// CSAccesses returns archived ENTER/EXIT events in the order they were recorded.
func (s *BoltSink) CSAccesses() ([]Event, error) {
	return s.readBucket(csAccessBucket)
}

func (s *BoltSink) readBucket(name []byte) ([]Event, error) {
	var events []Event
	err := s.db.View(func(btx *bolt.Tx) error {
		b := btx.Bucket(name)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, ev)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read bucket %s", name)
	}
	return events, nil
}

func (s *BoltSink) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
