package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sender performs one request/response round trip over whatever
// transport carries the wire bytes; Framer is transport-agnostic.
type Sender interface {
	Send(ctx context.Context, data []byte) ([]byte, error)
}

// Config controls the lazy notification flush queue.
type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// Framer offers call/notify/batch_call over a Sender, queuing
// notifications for a lazy background flush rather than sending each
// one immediately — the same buffered-channel-plus-ticker shape used
// for batching outbound log writes.
type Framer struct {
	sender Sender
	cfg    Config
	logger zerolog.Logger

	notifyCh chan Request
	wg       sync.WaitGroup
	stopCh   chan struct{}

	dropped int64
	mu      sync.Mutex
}

// NewFramer creates a framer over sender. Call Start to launch the
// lazy notification flush loop.
func NewFramer(sender Sender, logger zerolog.Logger, cfg Config) *Framer {
	cfg = cfg.withDefaults()
	return &Framer{
		sender:   sender,
		cfg:      cfg,
		logger:   logger.With().Str("component", "jsonrpc").Logger(),
		notifyCh: make(chan Request, cfg.BufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background notification-flush loop.
func (f *Framer) Start() {
	f.wg.Add(1)
	go f.drain()
}

// Stop flushes any queued notifications and halts the flush loop.
func (f *Framer) Stop() {
	close(f.stopCh)
	f.wg.Wait()
}

func (f *Framer) drain() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Request, 0, f.cfg.BatchSize)
	for {
		select {
		case <-f.stopCh:
			batch = f.drainPending(batch)
			if len(batch) > 0 {
				f.flush(batch)
			}
			return
		case req := <-f.notifyCh:
			batch = append(batch, req)
			if len(batch) >= f.cfg.BatchSize {
				f.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				f.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (f *Framer) drainPending(batch []Request) []Request {
	for {
		select {
		case req := <-f.notifyCh:
			batch = append(batch, req)
		default:
			return batch
		}
	}
}

func (f *Framer) flush(batch []Request) {
	data, err := EncodeBatch(batch)
	if err != nil {
		f.logger.Warn().Err(err).Msg("notification batch encode failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := f.sender.Send(ctx, data); err != nil {
		f.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("notification batch send failed")
	}
}

// Notify queues method/params as a fire-and-forget notification (no
// id, no reply expected). Non-blocking: drops silently if the queue
// is full.
func (f *Framer) Notify(method string, params interface{}) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	req := Request{Method: method, Params: raw}
	select {
	case f.notifyCh <- req:
		return nil
	default:
		f.mu.Lock()
		f.dropped++
		f.mu.Unlock()
		f.logger.Warn().Str("method", method).Msg("notification dropped: queue full")
		return nil
	}
}

// Dropped returns the count of notifications dropped due to a full
// queue.
func (f *Framer) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	return json.Marshal(params)
}

// Call sends method/params as a single request and decodes the result
// into T.
func Call[T any](ctx context.Context, f *Framer, method string, params interface{}) (T, error) {
	var zero T
	raw, err := marshalParams(params)
	if err != nil {
		return zero, err
	}
	req := Request{Method: method, Params: raw, ID: uuid.NewString()}
	data, err := EncodeRequest(req)
	if err != nil {
		return zero, err
	}

	respData, err := f.sender.Send(ctx, data)
	if err != nil {
		return zero, err
	}
	resp, err := DecodeResponse(respData)
	if err != nil {
		return zero, err
	}
	if resp.Error != nil {
		return zero, resp.Error
	}

	var result T
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return zero, fmt.Errorf("jsonrpc: decode result: %w", err)
		}
	}
	return result, nil
}

// BatchCallSpec is one call within a BatchCall invocation.
type BatchCallSpec struct {
	Method string
	Params interface{}
}

// BatchCall sends specs as a single JSON-RPC batch frame and returns
// one decoded T per spec, in the same order specs was given in —
// matched back to responses by id, since the wire format does not
// constrain response ordering.
func BatchCall[T any](ctx context.Context, f *Framer, specs []BatchCallSpec) ([]T, error) {
	reqs := make([]Request, len(specs))
	ids := make([]string, len(specs))
	for i, spec := range specs {
		raw, err := marshalParams(spec.Params)
		if err != nil {
			return nil, err
		}
		id := uuid.NewString()
		ids[i] = id
		reqs[i] = Request{Method: spec.Method, Params: raw, ID: id}
	}

	data, err := EncodeBatch(reqs)
	if err != nil {
		return nil, err
	}
	respData, err := f.sender.Send(ctx, data)
	if err != nil {
		return nil, err
	}
	resps, err := DecodeBatchResponse(respData)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Response, len(resps))
	for _, r := range resps {
		if s, ok := r.ID.(string); ok {
			byID[s] = r
		}
	}

	out := make([]T, len(specs))
	for i, id := range ids {
		resp, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("jsonrpc: batch response missing id %s", id)
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		if len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &out[i]); err != nil {
				return nil, fmt.Errorf("jsonrpc: decode batch result %s: %w", id, err)
			}
		}
	}
	return out, nil
}
