package nodeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler func(req rpcRequest) rpcResponse) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		resp := handler(req)
		resp.ID = req.ID
		json.NewEncoder(w).Encode(resp)
	}))
	client := New(srv.URL, "user", "pass", 5*time.Second)
	return srv, client
}

func TestGetBlockTemplate(t *testing.T) {
	srv, client := newTestServer(t, func(req rpcRequest) rpcResponse {
		if req.Method != "getblocktemplate" {
			t.Errorf("method = %q, want getblocktemplate", req.Method)
		}
		result, _ := json.Marshal(BlockTemplate{Height: 800000, Bits: "1d00ffff"})
		return rpcResponse{Result: result}
	})
	defer srv.Close()

	tmpl, err := client.GetBlockTemplate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tmpl.Height != 800000 {
		t.Errorf("height = %d, want 800000", tmpl.Height)
	}
}

func TestSubmitBlock_Accepted(t *testing.T) {
	srv, client := newTestServer(t, func(req rpcRequest) rpcResponse {
		if req.Method != "submitblock" {
			t.Errorf("method = %q, want submitblock", req.Method)
		}
		return rpcResponse{Result: json.RawMessage("null")}
	})
	defer srv.Close()

	reason, err := client.SubmitBlock(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "" {
		t.Errorf("expected empty reason for accepted block, got %q", reason)
	}
}

func TestSubmitBlock_Rejected(t *testing.T) {
	srv, client := newTestServer(t, func(req rpcRequest) rpcResponse {
		result, _ := json.Marshal("bad-prevblk")
		return rpcResponse{Result: result}
	})
	defer srv.Close()

	reason, err := client.SubmitBlock(context.Background(), "deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != "bad-prevblk" {
		t.Errorf("reason = %q, want bad-prevblk", reason)
	}
}

func TestCall_RPCError(t *testing.T) {
	srv, client := newTestServer(t, func(req rpcRequest) rpcResponse {
		return rpcResponse{Error: &rpcError{Code: -1, Message: "boom"}}
	})
	defer srv.Close()

	_, err := client.GetBlockTemplate(context.Background())
	if err == nil {
		t.Fatal("expected an error from an RPC-level failure")
	}
}

func TestGetBlockchainInfo(t *testing.T) {
	srv, client := newTestServer(t, func(req rpcRequest) rpcResponse {
		result, _ := json.Marshal(BlockchainInfo{Chain: "main", Blocks: 800000})
		return rpcResponse{Result: result}
	})
	defer srv.Close()

	info, err := client.GetBlockchainInfo(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Chain != "main" {
		t.Errorf("chain = %q, want main", info.Chain)
	}
}
