// Package nodeclient is a minimal JSON-RPC client for talking to a Bitcoin
// full node: getblocktemplate, submitblock, and the informational calls the
// statistics collaborator uses. It is intentionally thin — a single
// request/response call over HTTP Basic Auth — rather than a full RPC SDK.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks JSON-RPC 1.0 to a bitcoind-compatible node over HTTP.
type Client struct {
	url        string
	user       string
	password   string
	httpClient *http.Client
}

// New constructs a Client for the given node RPC endpoint.
func New(url, user, password string, timeout time.Duration) *Client {
	return &Client{
		url:      url,
		user:     user,
		password: password,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     string          `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// call issues a single JSON-RPC request and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      "stratum",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("decode rpc response (status %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("decode rpc result for %s: %w", method, err)
	}
	return nil
}

// BlockTemplate mirrors the fields of getblocktemplate's result this pool
// consumes. Fields the node returns that the pool doesn't use are ignored.
type BlockTemplate struct {
	Version           int32              `json:"version"`
	PreviousBlockHash string             `json:"previousblockhash"`
	Transactions      []TemplateTx       `json:"transactions"`
	CoinbaseValue     int64              `json:"coinbasevalue"`
	Bits              string             `json:"bits"`
	Height            int64              `json:"height"`
	CurTime           uint32             `json:"curtime"`
	Target            string             `json:"target"`
	DefaultWitnessCommitment string     `json:"default_witness_commitment"`
	Rules             []string           `json:"rules"`
}

// TemplateTx is one non-coinbase transaction offered by the template.
type TemplateTx struct {
	Data    string `json:"data"`
	TxID    string `json:"txid"`
	Hash    string `json:"hash"` // wtxid, differs from TxID for segwit transactions
	Fee     int64  `json:"fee"`
	Weight  int    `json:"weight"`
}

// GetBlockTemplate requests a template with the segwit rule, as solo
// mining pools must to receive a default_witness_commitment and segwit
// transactions in the candidate set.
func (c *Client) GetBlockTemplate(ctx context.Context) (*BlockTemplate, error) {
	params := []interface{}{
		map[string]interface{}{
			"rules": []string{"segwit"},
		},
	}
	var tmpl BlockTemplate
	if err := c.call(ctx, "getblocktemplate", params, &tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// SubmitBlock submits a fully assembled, hex-encoded block.
func (c *Client) SubmitBlock(ctx context.Context, blockHex string) (string, error) {
	var result *string
	if err := c.call(ctx, "submitblock", []interface{}{blockHex}, &result); err != nil {
		return "", err
	}
	if result == nil {
		return "", nil // nil/empty result means accepted
	}
	return *result, nil
}

// BlockchainInfo is the subset of getblockchaininfo the statistics
// collaborator surfaces.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	Headers              int64   `json:"headers"`
	Difficulty           float64 `json:"difficulty"`
	BestBlockHash        string  `json:"bestblockhash"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// MiningInfo is the subset of getmininginfo the statistics collaborator uses.
type MiningInfo struct {
	Blocks             int64   `json:"blocks"`
	Difficulty         float64 `json:"difficulty"`
	NetworkHashPS      float64 `json:"networkhashps"`
	PooledTx           int64   `json:"pooledtx"`
}

func (c *Client) GetMiningInfo(ctx context.Context) (*MiningInfo, error) {
	var info MiningInfo
	if err := c.call(ctx, "getmininginfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetNetworkHashPS returns the estimated network hash rate.
func (c *Client) GetNetworkHashPS(ctx context.Context) (float64, error) {
	var hashps float64
	if err := c.call(ctx, "getnetworkhashps", nil, &hashps); err != nil {
		return 0, err
	}
	return hashps, nil
}

// MempoolInfo is the subset of getmempoolinfo the statistics collaborator
// uses.
type MempoolInfo struct {
	Size  int64 `json:"size"`
	Bytes int64 `json:"bytes"`
}

func (c *Client) GetMempoolInfo(ctx context.Context) (*MempoolInfo, error) {
	var info MempoolInfo
	if err := c.call(ctx, "getmempoolinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
