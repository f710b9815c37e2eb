package jsonrpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type echoSender struct {
	handle func(data []byte) []byte
	calls  [][]byte
}

func (s *echoSender) Send(ctx context.Context, data []byte) ([]byte, error) {
	s.calls = append(s.calls, data)
	return s.handle(data), nil
}

func TestCallDecodesTypedResult(t *testing.T) {
	sender := &echoSender{handle: func(data []byte) []byte {
		req, _ := DecodeRequest(data)
		result, _ := json.Marshal(map[string]int{"value": 42})
		resp := Response{JSONRPC: Version, Result: result, ID: req.ID}
		out, _ := json.Marshal(resp)
		return out
	}}
	f := NewFramer(sender, zerolog.Nop(), Config{})

	type payload struct {
		Value int `json:"value"`
	}
	got, err := Call[payload](context.Background(), f, "get_value", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got.Value != 42 {
		t.Fatalf("expected value 42, got %d", got.Value)
	}
}

func TestCallPropagatesRPCError(t *testing.T) {
	sender := &echoSender{handle: func(data []byte) []byte {
		req, _ := DecodeRequest(data)
		resp := Response{JSONRPC: Version, Error: NewError(ErrCodeMethodNotFound, "no such method", nil), ID: req.ID}
		out, _ := json.Marshal(resp)
		return out
	}}
	f := NewFramer(sender, zerolog.Nop(), Config{})

	_, err := Call[struct{}](context.Background(), f, "missing", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	rpcErr, ok := err.(*Error)
	if !ok || rpcErr.Code != ErrCodeMethodNotFound {
		t.Fatalf("expected method-not-found *Error, got %v", err)
	}
}

func TestBatchCallMatchesResponsesByID(t *testing.T) {
	sender := &echoSender{handle: func(data []byte) []byte {
		var reqs []Request
		json.Unmarshal(data, &reqs)

		resps := make([]Response, len(reqs))
		// Reply in reverse order on purpose: ordering is unconstrained.
		for i, req := range reqs {
			n := len(reqs) - 1 - i
			result, _ := json.Marshal(map[string]string{"echo": reqs[n].Method})
			resps[i] = Response{JSONRPC: Version, Result: result, ID: reqs[n].ID}
		}
		out, _ := json.Marshal(resps)
		return out
	}}
	f := NewFramer(sender, zerolog.Nop(), Config{})

	type echoResult struct {
		Echo string `json:"echo"`
	}
	specs := []BatchCallSpec{{Method: "a"}, {Method: "b"}, {Method: "c"}}
	got, err := BatchCall[echoResult](context.Background(), f, specs)
	if err != nil {
		t.Fatalf("batch call: %v", err)
	}
	for i, spec := range specs {
		if got[i].Echo != spec.Method {
			t.Fatalf("index %d: expected echo %q, got %q", i, spec.Method, got[i].Echo)
		}
	}
}

func TestNotifyFlushesLazilyOnTicker(t *testing.T) {
	flushed := make(chan int, 10)
	sender := &echoSender{handle: func(data []byte) []byte {
		var reqs []Request
		json.Unmarshal(data, &reqs)
		flushed <- len(reqs)
		return []byte("[]")
	}}
	f := NewFramer(sender, zerolog.Nop(), Config{FlushInterval: 20 * time.Millisecond, BatchSize: 100})
	f.Start()
	defer f.Stop()

	f.Notify("event_a", nil)
	f.Notify("event_b", nil)

	select {
	case n := <-flushed:
		if n != 2 {
			t.Fatalf("expected both notifications flushed together, got %d", n)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a lazy flush to fire")
	}
}

func TestNotifyDropsSilentlyWhenQueueFull(t *testing.T) {
	sender := &echoSender{handle: func(data []byte) []byte { return []byte("[]") }}
	f := NewFramer(sender, zerolog.Nop(), Config{BufferSize: 1, FlushInterval: time.Hour})

	if err := f.Notify("first", nil); err != nil {
		t.Fatalf("first notify: %v", err)
	}
	if err := f.Notify("second", nil); err != nil {
		t.Fatalf("second notify should drop, not error: %v", err)
	}
	if f.Dropped() != 1 {
		t.Fatalf("expected 1 dropped notification, got %d", f.Dropped())
	}
}
