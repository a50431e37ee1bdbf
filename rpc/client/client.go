// Package client is a typed JSON-RPC client for the escrow ledger. Mutating
// calls are signed with the configured key and carry the next account nonce.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"escrowledger/crypto"
	"escrowledger/rpc"
	"escrowledger/rpc/modules"
)

// Error is a JSON-RPC error returned by the server.
type Error struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (%v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Unwrap exposes the escrow sentinel for escrow error kinds so callers can
// use errors.Is(err, escrow.ErrPaused).
func (e *Error) Unwrap() error {
	code, ok := modules.EscrowKindFromCode(e.Code)
	if !ok {
		return nil
	}
	return code.Err()
}

// Client talks to a single escrowd endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	key      *crypto.PrivateKey
	token    string
	ids      atomic.Uint64

	nonceMu sync.Mutex
	nonce   uint64
	synced  bool
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithKey sets the signing key for mutating calls.
func WithKey(key *crypto.PrivateKey) Option {
	return func(c *Client) { c.key = key }
}

// WithBearerToken attaches a JWT to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/") + "/",
		http:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the address of the signing key.
func (c *Client) Address() (crypto.Address, error) {
	if c.key == nil {
		return crypto.Address{}, errors.New("client: signing key not configured")
	}
	return c.key.Address(), nil
}

// Call performs an unsigned call and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	var list []json.RawMessage
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("client: encode params: %w", err)
		}
		list = []json.RawMessage{raw}
	}
	return c.do(ctx, method, list, out)
}

// CallSigned signs args with the client key and the next nonce. The local
// nonce is resynchronised from the server after any failure so a rejected
// call does not wedge later ones.
func (c *Client) CallSigned(ctx context.Context, method string, args interface{}, out interface{}) error {
	if c.key == nil {
		return errors.New("client: signing key not configured")
	}
	var payload []byte
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return fmt.Errorf("client: encode args: %w", err)
		}
		payload = raw
	}

	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	if !c.synced {
		if err := c.syncNonce(ctx); err != nil {
			return err
		}
	}
	nonce := c.nonce + 1
	sig, err := crypto.SignRequest(c.key, method, payload, nonce)
	if err != nil {
		return err
	}
	env := rpc.SignedEnvelope{
		Caller:    c.key.Address().String(),
		Nonce:     nonce,
		Signature: "0x" + hex.EncodeToString(sig),
		Args:      payload,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := c.do(ctx, method, []json.RawMessage{raw}, out); err != nil {
		c.synced = false
		return err
	}
	c.nonce = nonce
	return nil
}

func (c *Client) syncNonce(ctx context.Context) error {
	var res modules.AccountNonceResult
	if err := c.Call(ctx, rpc.MethodAccountNonce, modules.AddressParams{Address: c.key.Address().String()}, &res); err != nil {
		return fmt.Errorf("client: fetch nonce: %w", err)
	}
	c.nonce = res.Nonce
	c.synced = true
	return nil
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpc.RPCError   `json:"error"`
}

func (c *Client) do(ctx context.Context, method string, params []json.RawMessage, out interface{}) error {
	body, err := json.Marshal(rpc.RPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: c.ids.Add(1)})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var decoded response
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("client: http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if decoded.Error != nil {
		return &Error{Code: decoded.Error.Code, Message: decoded.Error.Message, Data: decoded.Error.Data}
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	return json.Unmarshal(decoded.Result, out)
}
