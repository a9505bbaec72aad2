package mcp

import (
	"encoding/json"
	"testing"
)

func TestNewRequest(t *testing.T) {
	req := NewRequest(42, "tools/list", map[string]any{"cursor": "abc"})

	if req.JSONRPC != "2.0" {
		t.Errorf("JSONRPC = %q, want %q", req.JSONRPC, "2.0")
	}
	if req.ID != 42 {
		t.Errorf("ID = %d, want 42", req.ID)
	}
	if req.Method != "tools/list" {
		t.Errorf("Method = %q, want %q", req.Method, "tools/list")
	}
}

func TestRequestOmitsNilParams(t *testing.T) {
	data, err := json.Marshal(NewRequest(1, "ping", nil))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["params"]; ok {
		t.Error("params should be omitted when nil")
	}
}

func TestResponseUnmarshalError(t *testing.T) {
	raw := `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"Method not found"}}`
	var resp Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if resp.Error == nil {
		t.Fatal("Error is nil, want non-nil")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("Error.Code = %d, want -32601", resp.Error.Code)
	}
}

func TestRPCErrorString(t *testing.T) {
	e := &RPCError{Code: -32600, Message: "Invalid Request"}
	want := "jsonrpc error -32600: Invalid Request"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantErr    bool
		wantMethod string
		wantNullID bool
	}{
		{name: "response", line: `{"jsonrpc":"2.0","id":7,"result":{}}`},
		{name: "notification", line: `{"jsonrpc":"2.0","method":"notifications/progress"}`, wantMethod: "notifications/progress", wantNullID: true},
		{name: "server request", line: `{"jsonrpc":"2.0","id":"s1","method":"ping"}`, wantMethod: "ping"},
		{name: "null id", line: `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`, wantNullID: true},
		{name: "not json", line: `starting server on stdio...`, wantErr: true},
		{name: "wrong version", line: `{"jsonrpc":"1.0","id":1,"result":{}}`, wantErr: true},
		{name: "json array", line: `[1,2,3]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeEnvelope([]byte(tt.line))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEnvelope: %v", err)
			}
			if env.Method != tt.wantMethod {
				t.Errorf("Method = %q, want %q", env.Method, tt.wantMethod)
			}
			if isNullID(env.ID) != tt.wantNullID {
				t.Errorf("isNullID = %v, want %v", isNullID(env.ID), tt.wantNullID)
			}
		})
	}
}
