package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"bondledger/core"
	"bondledger/core/events"
	"bondledger/core/state"
	"bondledger/core/types"
	"bondledger/crypto"
	"bondledger/gateway/middleware"
	"bondledger/native/bond"
	"bondledger/native/precision"
	"bondledger/storage"
	"bondledger/storage/journal"
)

type testEnv struct {
	handler  http.Handler
	x        *core.Executor
	hub      *Hub
	admin    *crypto.PrivateKey
	oracle   *crypto.PrivateKey
	borrower *crypto.PrivateKey
	bond     crypto.Address
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), precision.One())
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	j, err := journal.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	env := &testEnv{
		admin:    mustKey(t),
		oracle:   mustKey(t),
		borrower: mustKey(t),
		bond:     bond.DefaultAddress("HUSDC"),
		hub:      NewHub(0),
	}
	env.x = core.NewExecutor(state.NewManager(storage.NewMemDB()), core.ExecutorConfig{
		Emitter: events.Fanout{j, env.hub},
		Now:     func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	_, err = env.x.Update(func(m *core.Modules, st *state.Manager) error {
		admin := env.admin.PubKey().Address()
		if err := st.SetIdentity(state.SlotRegistryAdmin, admin.Bytes()); err != nil {
			return err
		}
		if err := st.SetIdentity(state.SlotOracleAuthority, env.oracle.PubKey().Address().Bytes()); err != nil {
			return err
		}
		if err := st.RegisterToken("WETH", "Wrapped Ether", 18, admin.Bytes()); err != nil {
			return err
		}
		if err := st.RegisterToken("USDC", "USD Coin", 6, admin.Bytes()); err != nil {
			return err
		}
		return m.Assets.Mint(admin, "WETH", env.borrower.PubKey().Address(), units(10))
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	srv, err := New(Config{Ledger: env.x, Journal: j, Stream: env.hub, Registerer: reg, Gatherer: reg})
	require.NoError(t, err)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) envelope(t *testing.T, key *crypto.PrivateKey, op string, payload interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	nonce, err := e.x.Nonce(key.PubKey().Address())
	require.NoError(t, err)
	env := types.Envelope{Op: op, Nonce: nonce + 1, Payload: raw}
	require.NoError(t, env.Sign(key))
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return body
}

func (e *testEnv) submit(t *testing.T, key *crypto.PrivateKey, op string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/v1/tx", e.envelope(t, key, op, payload))
}

func (e *testEnv) mustSubmit(t *testing.T, key *crypto.PrivateKey, op string, payload interface{}) {
	t.Helper()
	rec := e.submit(t, key, op, payload)
	require.Equal(t, http.StatusOK, rec.Code, "%s: %s", op, rec.Body.String())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (e *testEnv) openPosition(t *testing.T) {
	t.Helper()
	e.mustSubmit(t, e.admin, core.OpIssueBond, core.IssueBondPayload{
		Symbol: "hUSDC", Underlying: "USDC", Collateral: "WETH", ExpirationTime: 1_800_000_000,
	})
	e.mustSubmit(t, e.admin, core.OpListBond, core.BondPayload{Bond: e.bond})
	e.mustSubmit(t, e.admin, core.OpSetDebtCeiling, core.ParameterPayload{Bond: e.bond, Value: units(1_000_000).String()})
	e.mustSubmit(t, e.admin, core.OpSetFeed, core.SetFeedPayload{Symbol: "WETH", Decimals: 8})
	e.mustSubmit(t, e.admin, core.OpSetFeed, core.SetFeedPayload{Symbol: "USDC", Decimals: 8})
	e.mustSubmit(t, e.oracle, core.OpPublishPrice, core.PublishPricePayload{Symbol: "WETH", Price: "10000000000"})
	e.mustSubmit(t, e.oracle, core.OpPublishPrice, core.PublishPricePayload{Symbol: "USDC", Price: "100000000"})
	e.mustSubmit(t, e.borrower, core.OpOpenVault, core.BondPayload{Bond: e.bond})
	e.mustSubmit(t, e.borrower, core.OpDepositCollateral, core.AmountPayload{Bond: e.bond, Amount: units(10).String()})
	e.mustSubmit(t, e.borrower, core.OpLockCollateral, core.AmountPayload{Bond: e.bond, Amount: units(10).String()})

	rec := e.submit(t, e.borrower, core.OpBorrow, core.AmountPayload{Bond: e.bond, Amount: units(100).String()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Events []types.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Events)
	require.Equal(t, "bond.borrow", resp.Events[len(resp.Events)-1].Type)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)
	env.do(t, http.MethodGet, "/v1/accounts/"+env.borrower.PubKey().Address().String()+"/nonce", nil)
	metrics := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	require.Contains(t, metrics.Body.String(), "bondledger_http_requests_total")
}

func TestPositionQueries(t *testing.T) {
	env := newTestEnv(t)
	env.openPosition(t)
	borrower := env.borrower.PubKey().Address().String()
	base := "/v1/bonds/" + env.bond.String()

	bondBody := decodeBody(t, env.do(t, http.MethodGet, base, nil))
	require.Equal(t, "HUSDC", bondBody["symbol"])
	require.Equal(t, true, bondBody["listed"])
	require.Equal(t, units(100).String(), bondBody["totalSupply"])

	vaultBody := decodeBody(t, env.do(t, http.MethodGet, base+"/vaults/"+borrower, nil))
	require.Equal(t, true, vaultBody["isOpen"])
	require.Equal(t, units(100).String(), vaultBody["debt"])
	require.Equal(t, units(10).String(), vaultBody["lockedCollateral"])

	listing := decodeBody(t, env.do(t, http.MethodGet, base+"/vaults", nil))
	vaults, ok := listing["vaults"].([]interface{})
	require.True(t, ok)
	require.Len(t, vaults, 1)
	require.Equal(t, borrower, vaults[0].(map[string]interface{})["account"])

	ratio := decodeBody(t, env.do(t, http.MethodGet, base+"/vaults/"+borrower+"/ratio", nil))
	require.Equal(t, precision.Percent(1000).String(), ratio["ratio"])

	hypothetical := decodeBody(t, env.do(t, http.MethodGet,
		base+"/vaults/"+borrower+"/ratio?collateral="+units(3).String()+"&debt="+units(200).String(), nil))
	require.Equal(t, precision.Percent(150).String(), hypothetical["ratio"])

	underwater := decodeBody(t, env.do(t, http.MethodGet, base+"/vaults/"+borrower+"/underwater", nil))
	require.Equal(t, false, underwater["underwater"])

	clutchable := decodeBody(t, env.do(t, http.MethodGet, base+"/clutchable?repay="+units(50).String(), nil))
	require.Equal(t, "550000000000000000", clutchable["collateral"])

	balance := decodeBody(t, env.do(t, http.MethodGet, "/v1/assets/husdc/balances/"+borrower, nil))
	require.Equal(t, units(100).String(), balance["balance"])

	price := decodeBody(t, env.do(t, http.MethodGet, "/v1/prices/weth", nil))
	require.Equal(t, "10000000000", price["price"])
	require.Equal(t, units(100).String(), price["normalized"])

	nonce := decodeBody(t, env.do(t, http.MethodGet, "/v1/accounts/"+borrower+"/nonce", nil))
	require.Equal(t, float64(4), nonce["nonce"])

	evts := decodeBody(t, env.do(t, http.MethodGet, "/v1/events?type=vault.open", nil))
	list, ok := evts["events"].([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.openPosition(t)
	borrower := env.borrower.PubKey().Address()

	rec := env.submit(t, env.borrower, core.OpSetDebtCeiling, core.ParameterPayload{Bond: env.bond, Value: "1"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "not the admin")

	rec = env.submit(t, env.borrower, core.OpWithdrawCollateral, core.AmountPayload{Bond: env.bond, Amount: units(1).String()})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	replay := env.envelope(t, env.borrower, core.OpRepayBorrow, core.AmountPayload{Bond: env.bond, Amount: units(1).String()})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/tx", replay).Code)
	require.Equal(t, http.StatusConflict, env.do(t, http.MethodPost, "/v1/tx", replay).Code)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/v1/tx", []byte(`{"op":`)).Code)
	require.Equal(t, http.StatusBadRequest, env.submit(t, env.borrower, "noSuchOp", core.BondPayload{}).Code)
	require.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/v1/tx", []byte(`{"op":"borrow","nonce":1,"payload":{}}`)).Code)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/bonds/not-an-address", nil).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/prices/doge", nil).Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/bonds/"+bond.DefaultAddress("NOPE").String(), nil).Code)
	require.Equal(t, http.StatusUnprocessableEntity, env.do(t, http.MethodGet, "/v1/bonds/"+env.bond.String()+"/clutchable?repay=0", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/v1/events?limit=-1", nil).Code)

	vaultBody := decodeBody(t, env.do(t, http.MethodGet, "/v1/bonds/"+env.bond.String()+"/vaults/"+borrower.String(), nil))
	require.Equal(t, units(99).String(), vaultBody["debt"])
}

func TestEventsDisabledWithoutJournal(t *testing.T) {
	reg := prometheus.NewRegistry()
	x := core.NewExecutor(state.NewManager(storage.NewMemDB()), core.ExecutorConfig{})
	srv, err := New(Config{Ledger: x, Registerer: reg, Gatherer: reg})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/events/stream", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	_, err = New(Config{})
	require.Error(t, err)
}

func TestSubmitRequiresBearerWhenAuthEnabled(t *testing.T) {
	auth, err := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: "s3cret"}, nil)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	x := core.NewExecutor(state.NewManager(storage.NewMemDB()), core.ExecutorConfig{})
	srv, err := New(Config{Ledger: x, Auth: auth, Registerer: reg, Gatherer: reg})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tx", bytes.NewReader([]byte(`{}`))))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestEventStreamDeliversCommittedEvents(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/stream?type=vault.open"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "test complete")

	env.openPosition(t)

	msgType, data, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, msgType)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, events.TypeOpenVault, evt.Type)
	require.Equal(t, env.borrower.PubKey().Address().String(), evt.Attributes["account"])
}
