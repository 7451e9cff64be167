package sale

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pos/internal/cart"
	"github.com/noah-isme/toko-pos/internal/catalog"
	"github.com/noah-isme/toko-pos/internal/common"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, store := newService(t)
	h := &Handler{Service: svc, Quoter: &cart.Quoter{Catalog: &catalog.Service{Store: store}}}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(common.WithActor(r.Context(), cashier)))
		})
	})
	r.Post("/sales/quick", h.Quick)
	r.Get("/sales/{id}", h.Get)
	return r
}

func TestQuickSaleHandler(t *testing.T) {
	router := newRouter(t)

	body := `{"items":[{"productId":"A","quantity":6}],"paymentMethod":"cash","amountPaid":"60"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sales/quick", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Data Sale `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.True(t, created.Data.Total.Equal(dec("54")))
	require.True(t, created.Data.Change.Equal(dec("6")))
	require.Len(t, created.Data.Bonuses, 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sales/"+created.Data.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got struct {
		Data struct {
			ReceiptNumber string     `json:"receiptNumber"`
			Movements     []Movement `json:"movements"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, created.Data.ReceiptNumber, got.Data.ReceiptNumber)
	require.Len(t, got.Data.Movements, 1)
}

func TestQuickSaleHandlerErrors(t *testing.T) {
	router := newRouter(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"short payment", http.MethodPost, "/sales/quick", `{"items":[{"productId":"A","quantity":1}],"paymentMethod":"cash","amountPaid":"1"}`, http.StatusBadRequest},
		{"bad method", http.MethodPost, "/sales/quick", `{"items":[{"productId":"A","quantity":1}],"paymentMethod":"iou","amountPaid":"10"}`, http.StatusBadRequest},
		{"unknown product", http.MethodPost, "/sales/quick", `{"items":[{"productId":"Z","quantity":1}],"paymentMethod":"cash","amountPaid":"10"}`, http.StatusNotFound},
		{"no items", http.MethodPost, "/sales/quick", `{"items":[],"paymentMethod":"cash","amountPaid":"10"}`, http.StatusUnprocessableEntity},
		{"unknown sale", http.MethodGet, "/sales/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestQuickSaleRequiresActor(t *testing.T) {
	svc, store := newService(t)
	h := &Handler{Service: svc, Quoter: &cart.Quoter{Catalog: &catalog.Service{Store: store}}}
	rec := httptest.NewRecorder()
	h.Quick(rec, httptest.NewRequest(http.MethodPost, "/sales/quick", strings.NewReader(`{}`)).WithContext(context.Background()))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
