package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mir00r/sip-dispatcher/internal/config"
	"github.com/mir00r/sip-dispatcher/internal/dispatcher"
	"github.com/mir00r/sip-dispatcher/internal/domain"
	"github.com/mir00r/sip-dispatcher/internal/errors"
	"github.com/mir00r/sip-dispatcher/internal/middleware"
	"github.com/mir00r/sip-dispatcher/internal/registrar"
	"github.com/mir00r/sip-dispatcher/internal/repository"
	"github.com/mir00r/sip-dispatcher/pkg/logger"
)

type literalResolver struct{}

func (literalResolver) LookupIP(_ context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func testDispatcher(t *testing.T, rows ...domain.DestinationRow) *dispatcher.Dispatcher {
	t.Helper()
	ds := dispatcher.New(dispatcher.DefaultOptions(), dispatcher.WithResolver(literalResolver{}))
	if len(rows) > 0 {
		_, err := ds.Reload(context.Background(), dispatcher.StaticSource(rows))
		require.NoError(t, err)
	}
	return ds
}

func defaultRows() []domain.DestinationRow {
	return []domain.DestinationRow{
		{Group: 1, URI: "sip:10.0.0.1:5060", Attrs: "duid=a"},
		{Group: 1, URI: "sip:10.0.0.2:5060", Attrs: "duid=b"},
		{Group: 2, URI: "sip:10.0.0.3:5080;transport=tcp"},
	}
}

func testRouter(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	if deps.Dispatcher == nil {
		deps.Dispatcher = testDispatcher(t, defaultRows()...)
	}
	deps.Logger = logger.Nop()
	return NewRouter(deps)
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp.Code
}

func flagsOf(t *testing.T, ds *dispatcher.Dispatcher, group int, uri string) domain.DestinationFlags {
	t.Helper()
	set := ds.Tree().Find(group)
	require.NotNil(t, set)
	for _, info := range set.Destinations() {
		if info.URI == uri {
			return info.Flags
		}
	}
	t.Fatalf("destination %s not in set %d", uri, group)
	return 0
}

func TestHealthEndpoints(t *testing.T) {
	empty := testRouter(t, Deps{Dispatcher: testDispatcher(t)})
	assert.Equal(t, http.StatusOK, do(t, empty, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, empty, http.MethodGet, "/ready", nil).Code)

	loaded := testRouter(t, Deps{})
	rec := do(t, loaded, http.MethodGet, "/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, float64(2), body["sets"])
}

func TestListHandlers(t *testing.T) {
	router := testRouter(t, Deps{})

	rec := do(t, router, http.MethodGet, "/api/v1/sets?mode=full", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["nrsets"])

	rec = do(t, router, http.MethodGet, "/api/v1/sets?mode=verbose", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))

	rec = do(t, router, http.MethodGet, "/api/v1/sets/print", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "number of destination sets: 2")

	empty := testRouter(t, Deps{Dispatcher: testDispatcher(t)})
	rec = do(t, empty, http.MethodGet, "/api/v1/sets", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSetStateHandler(t *testing.T) {
	ds := testDispatcher(t, defaultRows()...)
	router := testRouter(t, Deps{Dispatcher: ds})

	tests := []struct {
		name   string
		target string
		body   interface{}
		status int
	}{
		{"by uri", "/api/v1/sets/1/state", StateRequest{Key: "sip:10.0.0.1:5060", State: "ip"}, http.StatusOK},
		{"by duid", "/api/v1/sets/1/state", StateRequest{Key: "b", State: "d"}, http.StatusOK},
		{"unknown state", "/api/v1/sets/1/state", StateRequest{Key: "a", State: "x"}, http.StatusBadRequest},
		{"unknown set", "/api/v1/sets/9/state", StateRequest{Key: "a", State: "a"}, http.StatusNotFound},
		{"unknown destination", "/api/v1/sets/1/state", StateRequest{Key: "sip:10.9.9.9", State: "a"}, http.StatusNotFound},
		{"missing key", "/api/v1/sets/1/state", map[string]string{"state": "a"}, http.StatusBadRequest},
		{"unknown field", "/api/v1/sets/1/state", `{"key":"a","state":"a","extra":1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPut, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	assert.True(t, flagsOf(t, ds, 1, "sip:10.0.0.1:5060").Has(domain.FlagInactive|domain.FlagProbing))
	assert.True(t, flagsOf(t, ds, 1, "sip:10.0.0.2:5060").Has(domain.FlagDisabled))
}

func TestMarkHandler(t *testing.T) {
	ds := testDispatcher(t, defaultRows()...)
	router := testRouter(t, Deps{Dispatcher: ds})

	rec := do(t, router, http.MethodPost, "/api/v1/sets/2/mark", MarkRequest{URI: "sip:10.0.0.3:5080;transport=tcp", State: "t"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.True(t, flagsOf(t, ds, 2, "sip:10.0.0.3:5080;transport=tcp").Has(domain.FlagTrying))

	rec = do(t, router, http.MethodPost, "/api/v1/sets/2/mark", MarkRequest{URI: "sip:10.0.0.3", State: "?"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddRemoveDestination(t *testing.T) {
	ds := testDispatcher(t, defaultRows()...)
	store := repository.NewInMemoryDestinationRepository()
	router := testRouter(t, Deps{Dispatcher: ds, Store: store})

	rec := do(t, router, http.MethodPost, "/api/v1/destinations", DestinationRequest{Group: 3, URI: "sip:10.0.0.9", Priority: 5})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, ds.Tree().Find(3))
	assert.Equal(t, 1, store.Count())

	rec = do(t, router, http.MethodPost, "/api/v1/destinations", DestinationRequest{Group: 3})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodDelete, "/api/v1/sets/3/destinations?uri=sip:10.0.0.9", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Nil(t, ds.Tree().Find(3))
	assert.Equal(t, 0, store.Count())

	rec = do(t, router, http.MethodDelete, "/api/v1/sets/1/destinations", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPingHandlers(t *testing.T) {
	ds := testDispatcher(t, defaultRows()...)
	router := testRouter(t, Deps{Dispatcher: ds})

	rec := do(t, router, http.MethodGet, "/api/v1/ping", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["active"])

	rec = do(t, router, http.MethodPut, "/api/v1/ping", `{"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ds.PingActive())

	rec = do(t, router, http.MethodPut, "/api/v1/ping", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelectHandler(t *testing.T) {
	router := testRouter(t, Deps{})

	rec := do(t, router, http.MethodPost, "/api/v1/select", domain.SelectRequest{Group: 1, Algorithm: domain.AlgorithmSerial})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var sel domain.Selection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sel))
	assert.Equal(t, 1, sel.Group)
	assert.Equal(t, 0, sel.Index)
	assert.Equal(t, "sip:10.0.0.2:5060", sel.Destination.URI)

	rec = do(t, router, http.MethodPost, "/api/v1/select", domain.SelectRequest{Group: 42, Algorithm: domain.AlgorithmRoundRobin})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "GROUP_NOT_FOUND", errorCode(t, rec))
}

func TestMatchHandler(t *testing.T) {
	router := testRouter(t, Deps{})

	tests := []struct {
		name   string
		query  string
		status int
		found  bool
		group  float64
	}{
		{"any set", "ip=10.0.0.1&port=5060&proto=udp", http.StatusOK, true, 1},
		{"wrong port", "ip=10.0.0.3&port=5060", http.StatusOK, false, 0},
		{"no port mode", "ip=10.0.0.3&port=5060&mode=no-port", http.StatusOK, true, 2},
		{"restricted group", "ip=10.0.0.1&group=2", http.StatusOK, false, 0},
		{"unknown address", "ip=10.9.9.9", http.StatusOK, false, 0},
		{"invalid ip", "ip=nope", http.StatusBadRequest, false, 0},
		{"invalid port", "ip=10.0.0.1&port=70000", http.StatusBadRequest, false, 0},
		{"invalid mode", "ip=10.0.0.1&mode=fuzzy", http.StatusBadRequest, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/api/v1/match?"+tt.query, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			body := decode(t, rec)
			assert.Equal(t, tt.found, body["found"])
			if tt.found {
				assert.Equal(t, tt.group, body["group"])
			}
		})
	}
}

func TestHashHandler(t *testing.T) {
	router := testRouter(t, Deps{})

	rec := do(t, router, http.MethodGet, "/api/v1/hash?x=alice&y=example.com&slots=8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HashResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	hash, slot := dispatcher.HashSlot(8, "alice", "example.com")
	assert.Equal(t, hash, resp.Hash)
	assert.Equal(t, slot, resp.Slot)

	rec = do(t, router, http.MethodGet, "/api/v1/hash?uri=sip:alice@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, dispatcher.Hash("alice", "example.com"), resp.Hash)

	rec = do(t, router, http.MethodGet, "/api/v1/hash?x=a&slots=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoadHandlers(t *testing.T) {
	ds := testDispatcher(t, defaultRows()...)
	router := testRouter(t, Deps{Dispatcher: ds})
	require.NoError(t, ds.Loads().Add("call-1", "a", 1))
	require.NoError(t, ds.Loads().Add("call-2", "a", 1))

	rec := do(t, router, http.MethodGet, "/api/v1/loads", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["calls"])

	rec = do(t, router, http.MethodGet, "/api/v1/loads/call-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "init", decode(t, rec)["state"])

	rec = do(t, router, http.MethodPost, "/api/v1/loads/call-1/confirm", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/v1/loads/call-1", nil)
	assert.Equal(t, "confirmed", decode(t, rec)["state"])

	rec = do(t, router, http.MethodPut, "/api/v1/loads/call-1", ReplaceRequest{DUID: "b"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	e, ok := ds.Loads().Get("call-1")
	require.True(t, ok)
	assert.Equal(t, "b", e.DUID)

	rec = do(t, router, http.MethodPost, "/api/v1/loads/update", LoadUpdateRequest{CallID: "call-2", Method: "BYE"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, ok = ds.Loads().Get("call-2")
	assert.False(t, ok)

	rec = do(t, router, http.MethodDelete, "/api/v1/loads/call-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, router, http.MethodDelete, "/api/v1/loads/call-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "CALL_LOAD_NOT_FOUND", errorCode(t, rec))

	rec = do(t, router, http.MethodGet, "/api/v1/loads/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminGuard(t *testing.T) {
	auth := middleware.NewJWTAuth("test-secret", logger.Nop())
	router := testRouter(t, Deps{Auth: auth})

	admin, err := auth.IssueToken("ops", []string{middleware.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	viewer, err := auth.IssueToken("viewer", []string{"viewer"}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/v1/ping", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, router, http.MethodPut, "/api/v1/ping", `{"active":true}`).Code)
	assert.Equal(t, http.StatusForbidden, do(t, router, http.MethodPut, "/api/v1/ping", `{"active":true}`,
		"Authorization", "Bearer "+viewer).Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodPut, "/api/v1/ping", `{"active":true}`,
		"Authorization", "Bearer "+admin).Code)
}

func TestReloadAndConfigHandlers(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Admin.JWTSecret = "s3cret"

	var fail error
	reload := func(context.Context) (*dispatcher.LoadResult, error) {
		if fail != nil {
			return nil, fail
		}
		return &dispatcher.LoadResult{Sets: 2, Loaded: 3, Skipped: 1}, nil
	}
	router := testRouter(t, Deps{Reload: reload, Config: cfg})

	rec := do(t, router, http.MethodPost, "/api/v1/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(3), body["loaded"])
	assert.Equal(t, float64(1), body["skipped"])

	fail = errors.NewError(errors.ErrCodeReloadInProgress, "reload", "a reload is already running")
	rec = do(t, router, http.MethodPost, "/api/v1/reload", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "s3cret")
	assert.Equal(t, "s3cret", cfg.Admin.JWTSecret)
}

func TestRegistrarHandlers(t *testing.T) {
	reg := registrar.New(registrar.Options{
		HashSize:       16,
		DefaultExpires: 3600,
		MinExpires:     60,
		DefaultQ:       1,
	}, []string{"location"})
	router := testRouter(t, Deps{Registrar: reg})

	register := `{"aor":"sip:alice@example.com","call_id":"reg-1","cseq":5,` +
		`"contacts":[{"uri":"sip:alice@10.0.0.5:5060","q":0.5},{"uri":"sip:alice@10.0.0.6:5060"}]}`
	rec := do(t, router, http.MethodPost, "/api/v1/registrar/location/contacts", register)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["contacts"], 2)

	rec = do(t, router, http.MethodGet, "/api/v1/registrar/location/contacts?aor=sip:alice@example.com", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["contacts"], 2)

	rec = do(t, router, http.MethodGet, "/api/v1/registrar/domains", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `"contacts":2`), rec.Body.String())

	tests := []struct {
		name   string
		method string
		target string
		body   interface{}
		status int
	}{
		{"retransmission", http.MethodPost, "/api/v1/registrar/location/contacts", register, http.StatusOK},
		{"stale cseq", http.MethodPost, "/api/v1/registrar/location/contacts",
			`{"aor":"sip:alice@example.com","call_id":"reg-1","cseq":4,"contacts":[{"uri":"sip:alice@10.0.0.5:5060"}]}`, http.StatusConflict},
		{"q out of range", http.MethodPost, "/api/v1/registrar/location/contacts",
			`{"aor":"sip:bob@example.com","call_id":"r","cseq":1,"contacts":[{"uri":"sip:bob@10.0.0.7","q":2}]}`, http.StatusBadRequest},
		{"missing call-id", http.MethodPost, "/api/v1/registrar/location/contacts",
			`{"aor":"sip:bob@example.com","cseq":1}`, http.StatusBadRequest},
		{"unknown domain", http.MethodGet, "/api/v1/registrar/other/contacts?aor=sip:alice@example.com", nil, http.StatusNotFound},
		{"unknown aor", http.MethodGet, "/api/v1/registrar/location/contacts?aor=sip:carol@example.com", nil, http.StatusNotFound},
		{"missing aor", http.MethodGet, "/api/v1/registrar/location/contacts", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.target, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

// TestRegisterTooManyContacts tests that a rejected REGISTER reports the
// contacts that stay bound
func TestRegisterTooManyContacts(t *testing.T) {
	reg := registrar.New(registrar.Options{
		HashSize:       16,
		MaxContacts:    1,
		DefaultExpires: 3600,
		MinExpires:     60,
		DefaultQ:       1,
	}, []string{"location"})
	router := testRouter(t, Deps{Registrar: reg})

	rec := do(t, router, http.MethodPost, "/api/v1/registrar/location/contacts",
		`{"aor":"sip:alice@example.com","call_id":"reg-1","cseq":1,"contacts":[{"uri":"sip:alice@10.0.0.5:5060"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/v1/registrar/location/contacts",
		`{"aor":"sip:alice@example.com","call_id":"reg-2","cseq":1,"contacts":[{"uri":"sip:alice@10.0.0.6:5060"}]}`)
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "TOO_MANY_CONTACTS", body.Code)
	require.Len(t, body.Contacts, 1)
	assert.Equal(t, "sip:alice@10.0.0.5:5060", body.Contacts[0].URI)
}

func TestSwaggerDoc(t *testing.T) {
	router := testRouter(t, Deps{})

	rec := do(t, router, http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "/api/v1", body["basePath"])
	assert.Contains(t, body["paths"], "/sets/{group}/state")
}
