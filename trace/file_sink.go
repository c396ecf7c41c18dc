package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultBatchSize     = 500
	defaultFlushInterval = 5 * time.Second
	defaultBacklog       = 10000
)

// FileSink appends events as JSON lines. Events are queued and written in
// batches by a background goroutine; Close flushes whatever is left. When the
// queue is full Record drops the event and returns ErrBacklogFull.
type FileSink struct {
	f       *os.File
	writer  *bufio.Writer
	ch      chan Event
	done    chan struct{}
	once    sync.Once
	errMu   sync.Mutex
	lastErr error

	closeMu  sync.RWMutex
	closed   bool
	closeErr error

	batchSize int
	interval  time.Duration
}

func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open trace file %s", path)
	}

	s := &FileSink{
		f:         f,
		writer:    bufio.NewWriter(f),
		ch:        make(chan Event, defaultBacklog),
		done:      make(chan struct{}),
		batchSize: defaultBatchSize,
		interval:  defaultFlushInterval,
	}
	go s.run()
	return s, nil
}

func (s *FileSink) Record(ev Event) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return errors.New("trace file sink closed")
	}
	select {
	case s.ch <- ev:
		return nil
	default:
		return ErrBacklogFull
	}
}

func (s *FileSink) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	batch := make([]Event, 0, s.batchSize)
	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				s.flush(batch)
				close(s.done)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (s *FileSink) flush(batch []Event) {
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			s.setErr(err)
			continue
		}
		s.writer.Write(data)
		s.writer.WriteByte('\n')
	}
	if err := s.writer.Flush(); err != nil {
		s.setErr(err)
	}
}

func (s *FileSink) setErr(err error) {
	s.errMu.Lock()
	s.lastErr = err
	s.errMu.Unlock()
}

// Close drains queued events, flushes them and closes the file. It returns
// the last write error seen, if any.
func (s *FileSink) Close() error {
	s.once.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		close(s.ch)
		s.closeMu.Unlock()
		<-s.done

		s.errMu.Lock()
		s.closeErr = s.lastErr
		s.errMu.Unlock()

		if err := s.f.Close(); err != nil && s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
