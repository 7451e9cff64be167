package audit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/common"
	"github.com/noah-isme/toko-pos/internal/docstore/memstore"
)

func TestMiddlewareRecordsWritesOnly(t *testing.T) {
	svc := Service{Store: memstore.New(), Enabled: true}
	recorder := HTTPRecorder{Service: svc, OnError: func(err error) { t.Errorf("record: %v", err) }}

	r := chi.NewRouter()
	r.With(recorder.Middleware(HTTPConfig{ResourceType: "product", ResourceIDParam: "id"})).
		Put("/products/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusAccepted) })
	r.With(recorder.Middleware(HTTPConfig{ResourceType: "product"})).
		Get("/products/{id}", func(w http.ResponseWriter, _ *http.Request) {})

	req := httptest.NewRequest(http.MethodPut, "/products/oil", strings.NewReader("{}"))
	req = req.WithContext(common.WithActor(req.Context(), common.Actor{ID: "admin-1", Role: common.RoleAdmin}))
	r.ServeHTTP(httptest.NewRecorder(), req)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/products/oil", nil))

	rr := httptest.NewRecorder()
	Handler{Service: svc}.List(rr, httptest.NewRequest(http.MethodGet, "/audit?limit=25", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var payload struct {
		Data []Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Len(t, payload.Data, 1)
	got := payload.Data[0]
	require.Equal(t, "product", got.ResourceType)
	require.Equal(t, "oil", got.ResourceID)
	require.Equal(t, "admin-1", got.ActorUserID)
	require.Equal(t, http.StatusAccepted, got.Status)
	require.Equal(t, "PUT /products/{id}", got.Action)
}

func TestHandlerRejectsBadLimit(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler{Service: Service{Store: memstore.New()}}.List(rr, httptest.NewRequest(http.MethodGet, "/audit?limit=abc", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
