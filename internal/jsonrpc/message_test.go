package jsonrpc

import (
	"encoding/json"
	"testing"
)

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		code int
		want int
	}{
		{ErrCodeParseError, -32700},
		{ErrCodeInvalidRequest, -32600},
		{ErrCodeMethodNotFound, -32601},
		{ErrCodeInvalidParams, -32602},
		{ErrCodeInternalError, -32603},
	}
	for _, tt := range tests {
		if tt.code != tt.want {
			t.Errorf("code = %d, want %d", tt.code, tt.want)
		}
	}
}

func TestNewRequest_RoundTrip(t *testing.T) {
	req, err := NewRequest(7, "session/prompt", map[string]string{"sessionId": "s1"})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if req.JSONRPC != "2.0" || req.IsNotification() {
		t.Errorf("request = %+v", req)
	}

	data, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var decoded Request
	if err := Decode(data, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Method != "session/prompt" {
		t.Errorf("method = %q", decoded.Method)
	}
	var params map[string]string
	if err := json.Unmarshal(decoded.Params, &params); err != nil || params["sessionId"] != "s1" {
		t.Errorf("params = %s, %v", decoded.Params, err)
	}
}

func TestNewNotification_OmitsID(t *testing.T) {
	n, err := NewNotification("session/cancel", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !n.IsNotification() {
		t.Error("notification carries an id")
	}
	data, _ := Encode(n)
	var raw map[string]any
	json.Unmarshal(data, &raw)
	if _, present := raw["id"]; present {
		t.Errorf("id present on the wire: %s", data)
	}
}

func TestNewResult_NullForNil(t *testing.T) {
	resp, err := NewResult(1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Result) != "null" {
		t.Errorf("result = %q, want null", resp.Result)
	}
}

func TestNewError(t *testing.T) {
	resp := NewError(3, ErrCodeMethodNotFound, "unknown method", map[string]string{"method": "x"})
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Error.Error() != "unknown method" {
		t.Errorf("Error() = %q", resp.Error.Error())
	}
	var data map[string]string
	if err := json.Unmarshal(resp.Error.Data, &data); err != nil || data["method"] != "x" {
		t.Errorf("data = %s", resp.Error.Data)
	}
}
