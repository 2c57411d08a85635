package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dielemma/custody/internal/identity"
)

var (
	ErrInvalidConfig    = errors.New("solana: invalid config")
	ErrRPC              = errors.New("solana: rpc error")
	ErrResponseTooLarge = errors.New("solana: response too large")
	ErrNoAccount        = errors.New("solana: account does not exist")
)

// RPCError is a JSON-RPC error envelope returned by the node.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e == nil {
		return "solana: nil rpc error"
	}
	return fmt.Sprintf("solana: rpc error code %d: %s", e.Code, e.Message)
}

func (e *RPCError) Unwrap() error { return ErrRPC }

type Option func(*Client) error

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return fmt.Errorf("%w: nil http client", ErrInvalidConfig)
		}
		c.hc = hc
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("%w: timeout must be > 0", ErrInvalidConfig)
		}
		if c.hc == nil {
			c.hc = &http.Client{}
		}
		c.hc.Timeout = d
		return nil
	}
}

func WithMaxResponseBytes(n int64) Option {
	return func(c *Client) error {
		if n <= 0 {
			return fmt.Errorf("%w: max response bytes must be > 0", ErrInvalidConfig)
		}
		c.maxRespBytes = n
		return nil
	}
}

// Client is a minimal JSON-RPC client for the account-model ledger; it covers
// only the read surface the adapter needs.
type Client struct {
	url          string
	hc           *http.Client
	maxRespBytes int64
	nextID       atomic.Uint64
}

func NewClient(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: missing url", ErrInvalidConfig)
	}
	c := &Client{
		url:          url,
		hc:           &http.Client{Timeout: 10 * time.Second},
		maxRespBytes: 32 << 20, // full program scans can be large
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     uint64          `json:"id"`
}

// AccountInfo is the decoded value of one ledger account.
type AccountInfo struct {
	Owner    identity.Identity
	Lamports uint64
	Data     []byte
}

// ProgramAccount pairs an account with its address, as returned by a full
// program scan.
type ProgramAccount struct {
	Address identity.Identity
	Account AccountInfo
}

type accountJSON struct {
	Owner    string   `json:"owner"`
	Lamports uint64   `json:"lamports"`
	Data     []string `json:"data"` // [payload, encoding]
}

func (a accountJSON) decode() (AccountInfo, error) {
	owner, err := identity.Parse(a.Owner)
	if err != nil {
		return AccountInfo{}, fmt.Errorf("solana: parse account owner: %w", err)
	}
	var data []byte
	if len(a.Data) >= 2 {
		if a.Data[1] != "base64" {
			return AccountInfo{}, fmt.Errorf("solana: unexpected account encoding %q", a.Data[1])
		}
		data, err = base64.StdEncoding.DecodeString(a.Data[0])
		if err != nil {
			return AccountInfo{}, fmt.Errorf("solana: decode account data: %w", err)
		}
	}
	return AccountInfo{Owner: owner, Lamports: a.Lamports, Data: data}, nil
}

// GetAccountInfo fetches one account. Returns ErrNoAccount when the address
// holds nothing.
func (c *Client) GetAccountInfo(ctx context.Context, addr identity.Identity) (AccountInfo, error) {
	type result struct {
		Value *accountJSON `json:"value"`
	}
	var res result
	params := []any{addr.String(), map[string]any{"encoding": "base64"}}
	if err := c.call(ctx, "getAccountInfo", params, &res); err != nil {
		return AccountInfo{}, err
	}
	if res.Value == nil {
		return AccountInfo{}, ErrNoAccount
	}
	return res.Value.decode()
}

// GetProgramAccounts scans every account owned by the program, server-side
// filtered to the exact record size.
func (c *Client) GetProgramAccounts(ctx context.Context, program identity.Identity, dataSize int) ([]ProgramAccount, error) {
	type entry struct {
		Pubkey  string      `json:"pubkey"`
		Account accountJSON `json:"account"`
	}
	var res []entry
	params := []any{
		program.String(),
		map[string]any{
			"encoding": "base64",
			"filters":  []any{map[string]any{"dataSize": dataSize}},
		},
	}
	if err := c.call(ctx, "getProgramAccounts", params, &res); err != nil {
		return nil, err
	}

	out := make([]ProgramAccount, 0, len(res))
	for _, e := range res {
		addr, err := identity.Parse(e.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("solana: parse program account pubkey: %w", err)
		}
		acc, err := e.Account.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, ProgramAccount{Address: addr, Account: acc})
	}
	return out, nil
}

// GetMinimumBalanceForRentExemption returns the lamports needed to keep an
// account of the given size alive.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, size int) (uint64, error) {
	var out uint64
	if err := c.call(ctx, "getMinimumBalanceForRentExemption", []any{size}, &out); err != nil {
		return 0, err
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("solana: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("solana: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("solana: http do: %w", err)
	}
	defer resp.Body.Close()

	body, err := readAllLimited(resp.Body, c.maxRespBytes)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(bytes.TrimSpace(body))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("solana: http status %d: %s", resp.StatusCode, msg)
	}

	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return fmt.Errorf("solana: unmarshal response: %w", err)
	}
	if rr.Error != nil {
		return &RPCError{Code: rr.Error.Code, Message: rr.Error.Message}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return fmt.Errorf("solana: unmarshal result: %w", err)
	}
	return nil
}

func readAllLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("solana: read response: %w", err)
	}
	if int64(len(b)) > maxBytes {
		return nil, ErrResponseTooLarge
	}
	return b, nil
}
