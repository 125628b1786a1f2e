package logging

import (
	"bytes"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

const (
	shipperQueueSize = 1024
	shipperBatchMax  = 64
	shipperInterval  = 2 * time.Second
	shipperTimeout   = 5 * time.Second
)

// shipper forwards JSON log lines to a remote aggregation endpoint. Lines are
// queued in memory and POSTed in newline-delimited batches; when the queue is
// full or the endpoint is down, lines are dropped. The shipper never blocks
// the logging hot path and never reports its own failures anywhere but the
// wire.
type shipper struct {
	endpoint string
	key      string
	secret   string
	client   *http.Client
	opts     *slog.HandlerOptions

	queue chan []byte
	done  chan struct{}
	wg    sync.WaitGroup
}

// newShipperFromEnv returns a running shipper when all three credential
// variables are set, nil otherwise.
func newShipperFromEnv(opts *slog.HandlerOptions) *shipper {
	endpoint := os.Getenv(EnvRemoteEndpoint)
	key := os.Getenv(EnvRemoteAccessKey)
	secret := os.Getenv(EnvRemoteAccessSecret)
	if endpoint == "" || key == "" || secret == "" {
		return nil
	}
	s := &shipper{
		endpoint: endpoint,
		key:      key,
		secret:   secret,
		client:   &http.Client{Timeout: shipperTimeout},
		opts:     opts,
		queue:    make(chan []byte, shipperQueueSize),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// handler returns a slog.Handler that encodes records as JSON into the queue.
func (s *shipper) handler() slog.Handler {
	return slog.NewJSONHandler(queueWriter{s}, s.opts)
}

type queueWriter struct{ s *shipper }

// Write enqueues one JSON line, dropping it when the queue is full.
func (w queueWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)
	select {
	case w.s.queue <- line:
	default:
	}
	return len(p), nil
}

func (s *shipper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(shipperInterval)
	defer ticker.Stop()

	var batch [][]byte
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.post(batch)
		batch = batch[:0]
	}

	for {
		select {
		case line := <-s.queue:
			batch = append(batch, line)
			if len(batch) >= shipperBatchMax {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			for {
				select {
				case line := <-s.queue:
					batch = append(batch, line)
				default:
					flush()
					return
				}
			}
		}
	}
}

// post sends one newline-delimited batch. Errors are discarded: the remote
// sink is best-effort and the other destinations already carry the records.
func (s *shipper) post(batch [][]byte) {
	var buf bytes.Buffer
	for _, line := range batch {
		buf.Write(line)
	}
	req, err := http.NewRequest(http.MethodPost, s.endpoint, &buf)
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("X-Access-Key", s.key)
	req.Header.Set("X-Access-Secret", s.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// Close flushes queued lines and stops the background goroutine.
func (s *shipper) Close() error {
	close(s.done)
	s.wg.Wait()
	return nil
}
