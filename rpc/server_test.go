package rpc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"escrowledger/core"
	"escrowledger/core/genesis"
	"escrowledger/crypto"
	"escrowledger/native/escrow"
	"escrowledger/rpc/middleware"
	"escrowledger/rpc/modules"
	"escrowledger/storage"
)

type testEnv struct {
	node     *core.Node
	server   *Server
	http     *httptest.Server
	admin    *crypto.PrivateKey
	donor    *crypto.PrivateKey
	verifier *crypto.PrivateKey
	nonces   map[crypto.Address]uint64
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	node, err := core.NewNode(storage.NewMemDB(), nil)
	require.NoError(t, err)
	env := &testEnv{node: node, nonces: make(map[crypto.Address]uint64)}
	for _, key := range []**crypto.PrivateKey{&env.admin, &env.donor, &env.verifier} {
		*key, err = crypto.GeneratePrivateKey()
		require.NoError(t, err)
	}
	spec := &genesis.Spec{
		Admin:     env.admin.Address().String(),
		Height:    10,
		Verifiers: map[string]string{"kyc": env.verifier.Address().String()},
		Balances:  map[string]string{env.donor.Address().String(): "1000"},
	}
	require.NoError(t, spec.Validate())
	_, err = node.ApplyGenesis(spec)
	require.NoError(t, err)

	env.server, err = NewServer(node, nil, cfg, nil)
	require.NoError(t, err)
	env.http = httptest.NewServer(env.server.Handler())
	t.Cleanup(env.http.Close)
	return env
}

func (e *testEnv) envelope(t *testing.T, key *crypto.PrivateKey, method string, args interface{}) json.RawMessage {
	t.Helper()
	var payload []byte
	if args != nil {
		var err error
		payload, err = json.Marshal(args)
		require.NoError(t, err)
	}
	addr := key.Address()
	e.nonces[addr]++
	sig, err := crypto.SignRequest(key, method, payload, e.nonces[addr])
	require.NoError(t, err)
	raw, err := json.Marshal(SignedEnvelope{
		Caller:    addr.String(),
		Nonce:     e.nonces[addr],
		Signature: hex.EncodeToString(sig),
		Args:      payload,
	})
	require.NoError(t, err)
	return raw
}

func (e *testEnv) post(t *testing.T, body []byte, header http.Header) (int, RPCResponse, json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/", bytes.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded struct {
		RPCResponse
		Result json.RawMessage `json:"result"`
	}
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(data, &decoded), string(data))
	}
	return resp.StatusCode, decoded.RPCResponse, decoded.Result
}

func (e *testEnv) call(t *testing.T, method string, param json.RawMessage) (int, *RPCError, json.RawMessage) {
	t.Helper()
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: 1}
	if param != nil {
		req.Params = []json.RawMessage{param}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	status, resp, result := e.post(t, body, nil)
	return status, resp.Error, result
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestServerRejectsMalformedRequests(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	status, resp, _ := env.post(t, []byte("{not json"), nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeParseError, resp.Error.Code)

	status, resp, _ = env.post(t, []byte("  "), nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)

	status, rpcErr, _ := env.call(t, "escrow_mint", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, rpcErr.Code)

	_, rpcErr, _ = env.call(t, MethodAuditEvents, nil)
	require.Equal(t, codeMethodNotFound, rpcErr.Code, "audit methods require an archive")

	_, rpcErr, _ = env.call(t, MethodEscrowGet, mustJSON(t, modules.IDParams{ID: "abc"}))
	require.Equal(t, codeInvalidParams, rpcErr.Code)
}

func TestServerSignedLifecycle(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	recipient, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	create := modules.CreateParams{
		Recipient:  recipient.Address().String(),
		Amount:     "300",
		Conditions: []string{"kyc"},
		Metadata:   "tuition",
		Duration:   5,
	}
	status, rpcErr, result := env.call(t, MethodEscrowCreate, env.envelope(t, env.donor, MethodEscrowCreate, create))
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, rpcErr)
	var created modules.CreateResult
	require.NoError(t, json.Unmarshal(result, &created))
	require.Equal(t, "1", created.ID)

	_, rpcErr, _ = env.call(t, MethodEscrowRelease, env.envelope(t, recipient, MethodEscrowRelease, modules.IDParams{ID: "1"}))
	require.NotNil(t, rpcErr)
	require.Equal(t, modules.EscrowErrorCode(escrow.CodeConditionsNotMet), rpcErr.Code)
	require.Equal(t, "ConditionsNotMet", rpcErr.Message)

	_, rpcErr, _ = env.call(t, MethodEscrowFulfillCondition, env.envelope(t, env.verifier, MethodEscrowFulfillCondition, modules.ConditionParams{ID: "1", Condition: "kyc"}))
	require.Nil(t, rpcErr)
	_, rpcErr, _ = env.call(t, MethodEscrowRelease, env.envelope(t, recipient, MethodEscrowRelease, modules.IDParams{ID: "1"}))
	require.Nil(t, rpcErr)

	_, rpcErr, result = env.call(t, MethodEscrowGet, mustJSON(t, modules.IDParams{ID: "1"}))
	require.Nil(t, rpcErr)
	var record modules.EscrowResult
	require.NoError(t, json.Unmarshal(result, &record))
	require.Equal(t, "released", record.Status)
	require.Equal(t, uint64(15), record.ExpiresAt)
	require.Equal(t, env.donor.Address().String(), record.Donor)

	_, rpcErr, result = env.call(t, MethodEscrowBalance, mustJSON(t, modules.IDParams{ID: "1"}))
	require.Nil(t, rpcErr)
	var balance modules.BalanceResult
	require.NoError(t, json.Unmarshal(result, &balance))
	require.False(t, balance.Held)
	require.Equal(t, "0", balance.Balance)

	_, rpcErr, result = env.call(t, MethodAccountBalance, mustJSON(t, modules.AddressParams{Address: recipient.Address().String()}))
	require.Nil(t, rpcErr)
	var account modules.AccountBalanceResult
	require.NoError(t, json.Unmarshal(result, &account))
	require.Equal(t, "300", account.Balance)

	_, rpcErr, result = env.call(t, MethodEscrowTotals, nil)
	require.Nil(t, rpcErr)
	var totals modules.TotalsResult
	require.NoError(t, json.Unmarshal(result, &totals))
	require.Equal(t, modules.TotalsResult{Escrows: 1, Released: "300", Refunded: "0"}, totals)
}

func TestServerEnvelopeChecks(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	raw := env.envelope(t, env.admin, MethodAdminPause, nil)
	_, rpcErr, _ := env.call(t, MethodAdminPause, raw)
	require.Nil(t, rpcErr)

	_, rpcErr, _ = env.call(t, MethodAdminPause, raw)
	require.NotNil(t, rpcErr)
	require.Equal(t, codeNonceRejected, rpcErr.Code, "replayed envelope")

	// Signed for a different method.
	forged := env.envelope(t, env.admin, MethodAdminUnpause, nil)
	_, rpcErr, _ = env.call(t, MethodAdminPause, forged)
	require.Equal(t, modules.EscrowErrorCode(escrow.CodeUnauthorized), rpcErr.Code)

	// Claims to be the admin but is signed by the donor.
	var env2 SignedEnvelope
	require.NoError(t, json.Unmarshal(env.envelope(t, env.donor, MethodAdminUnpause, nil), &env2))
	env2.Caller = env.admin.Address().String()
	_, rpcErr, _ = env.call(t, MethodAdminUnpause, mustJSON(t, env2))
	require.Equal(t, modules.EscrowErrorCode(escrow.CodeUnauthorized), rpcErr.Code)

	nonce, err := env.node.AccountNonce(env.admin.Address())
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce, "rejected signatures must not consume nonces")

	_, rpcErr, _ = env.call(t, MethodAdminUnpause, nil)
	require.Equal(t, codeInvalidParams, rpcErr.Code)

	_, rpcErr, result := env.call(t, MethodEscrowPaused, nil)
	require.Nil(t, rpcErr)
	require.JSONEq(t, `{"paused":true}`, string(result))
}

func TestServerJWTRequiresWriteScope(t *testing.T) {
	secret := "rpc-test-secret"
	env := newTestEnv(t, ServerConfig{Auth: middleware.AuthConfig{Enabled: true, HMACSecret: secret, Issuer: "escrow-tests"}})
	token := func(scope string) string {
		claims := jwt.MapClaims{"iss": "escrow-tests", "sub": "ops", "scope": scope, "exp": time.Now().Add(time.Hour).Unix()}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return signed
	}
	body := func(method string, param json.RawMessage) []byte {
		return mustJSON(t, RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: []json.RawMessage{param}, ID: 7})
	}

	status, _, _ := env.post(t, body(MethodEscrowTotals, mustJSON(t, struct{}{})), nil)
	require.Equal(t, http.StatusUnauthorized, status)

	read := http.Header{"Authorization": {"Bearer " + token("escrow:read")}}
	status, resp, _ := env.post(t, body(MethodEscrowTotals, mustJSON(t, struct{}{})), read)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)

	pause := env.envelope(t, env.admin, MethodAdminPause, nil)
	status, resp, _ = env.post(t, body(MethodAdminPause, pause), read)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	write := http.Header{"Authorization": {"Bearer " + token("escrow:read escrow:write")}}
	status, resp, _ = env.post(t, body(MethodAdminPause, pause), write)
	require.Equal(t, http.StatusOK, status)
	require.Nil(t, resp.Error)
}

func TestServerHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	env.call(t, MethodChainHeight, nil)

	resp, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, healthResponse{Status: "ok", Height: 10}, health)

	resp, err = http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(data), "escrow_http_requests_total")
	require.Contains(t, string(data), "escrow_rpc_")
}

func TestServerStreamsCommittedEvents(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws/events?types=escrow.paused,escrow.unpaused"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.node.Bus().Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	create := modules.CreateParams{Recipient: env.verifier.Address().String(), Amount: "5", Duration: 3}
	_, rpcErr, _ := env.call(t, MethodEscrowCreate, env.envelope(t, env.donor, MethodEscrowCreate, create))
	require.Nil(t, rpcErr)
	_, rpcErr, _ = env.call(t, MethodAdminPause, env.envelope(t, env.admin, MethodAdminPause, nil))
	require.Nil(t, rpcErr)

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, escrow.EventTypePaused, evt.Type, "created events are filtered out")
	require.Equal(t, env.admin.Address().String(), evt.Attributes["admin"])

	conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return env.node.Bus().Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}
