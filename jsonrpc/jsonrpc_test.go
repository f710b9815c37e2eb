package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestRequestRoundTripsThroughEncodeDecode(t *testing.T) {
	req := Request{Method: "ping", Params: json.RawMessage(`{"n":1}`), ID: "abc"}
	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Method != req.Method || decoded.JSONRPC != Version {
		t.Fatalf("expected structurally equal frame, got %+v", decoded)
	}
	if decoded.ID != req.ID {
		t.Fatalf("expected id preserved, got %v", decoded.ID)
	}
}

func TestRequestWithoutIDIsANotification(t *testing.T) {
	req := Request{Method: "log"}
	if !req.IsNotification() {
		t.Fatal("expected a request with no id to be a notification")
	}
}

func TestBatchEncodeDecodePreservesIDSet(t *testing.T) {
	reqs := []Request{
		{Method: "a", ID: "1"},
		{Method: "b", ID: "2"},
		{Method: "c", ID: "3"},
	}
	data, err := EncodeBatch(reqs)
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}

	var decoded []Request
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode batch: %v", err)
	}

	seen := make(map[string]bool)
	for _, r := range decoded {
		seen[r.ID.(string)] = true
	}
	for _, r := range reqs {
		if !seen[r.ID.(string)] {
			t.Fatalf("expected id %v preserved in batch", r.ID)
		}
	}
}

func TestErrorCarriesReservedCode(t *testing.T) {
	e := NewError(ErrCodeMethodNotFound, "method not found", map[string]string{"method": "foo"})
	if e.Code != -32601 {
		t.Fatalf("expected reserved method-not-found code, got %d", e.Code)
	}
	if len(e.Data) == 0 {
		t.Fatal("expected data to be marshaled")
	}
}
