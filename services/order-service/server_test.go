package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashendes/transactional-rest/internal/config"
	"github.com/ashendes/transactional-rest/internal/kernel"
	"github.com/ashendes/transactional-rest/internal/models"
	"github.com/ashendes/transactional-rest/internal/policy"
	"github.com/ashendes/transactional-rest/internal/storage"
)

func testConfig() config.Config {
	return config.Config{
		Service: "order-service-test",
		Storage: config.StorageConfig{
			Driver:  storage.DriverMemory,
			Timeout: time.Second,
			Breaker: true,
		},
		Finalizer: config.FinalizerConfig{Workers: 1, QueueSize: 16},
	}
}

func newTestServer(t *testing.T) (*server, *storage.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger, _ := test.NewNullLogger()
	mem := storage.NewMemory(0)
	srv, err := newServer(testConfig(), mem, logger)
	require.NoError(t, err)
	return srv, mem
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

// stored drains the finalizer and returns what reached storage
func stored(t *testing.T, srv *server, mem *storage.Memory) []*models.Transaction {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Close(ctx))
	return mem.All()
}

const validOrder = `{"items":[{"item_id":"item-1","quantity":2,"price":10.5}]}`

func TestCreateOrderIsTracked(t *testing.T) {
	srv, mem := newTestServer(t)

	rec, body := do(t, srv.Handler(), http.MethodPost, "/orders?source=web", validOrder, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	data := body["data"].(map[string]any)
	assert.Equal(t, models.OrderStatusCompleted, data["status"])
	assert.Equal(t, 21.0, data["total_amount"])
	assert.NotContains(t, data, "items")
	assert.NotContains(t, body, "_embedded")

	txs := stored(t, srv, mem)
	require.Len(t, txs, 1)
	tx := txs[0]
	assert.Equal(t, "/transactions/"+tx.ID, body["_links"].(map[string]any)["transaction"])
	assert.Equal(t, http.MethodPost, tx.RequestMethod)
	assert.Equal(t, models.SourceREST, tx.RequestSource)
	assert.Equal(t, models.ModelOrder, tx.Model)
	assert.Equal(t, "get_order", tx.RelatedRoute)
	assert.Equal(t, http.StatusCreated, tx.Status)
	assert.True(t, tx.Success)
	assert.Equal(t, "web", tx.QueryParams["source"])
	require.Contains(t, tx.RelatedIDs, "orderId")
	assert.Nil(t, tx.RelatedIDs["orderId"])
	assert.NotNil(t, tx.PostContent)
	assert.True(t, tx.IsSealed())

	item, _ := srv.inventory.Get("item-1")
	assert.Equal(t, 10000-2, item.Quantity)
}

func TestCreateOrderViolations(t *testing.T) {
	srv, mem := newTestServer(t)

	rec, body := do(t, srv.Handler(), http.MethodPost, "/orders", `{"items":[]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	embeddedTx := body["_embedded"].(map[string]any)["transaction"].(map[string]any)
	assert.Equal(t, false, embeddedTx["success"])
	assert.EqualValues(t, http.StatusBadRequest, embeddedTx["status"])
	assert.NotEmpty(t, embeddedTx["messages"].(map[string]any)["errors"])

	txs := stored(t, srv, mem)
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Success)
	assert.IsType(t, []any{}, txs[0].Messages["errors"])
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	srv, mem := newTestServer(t)

	rec, body := do(t, srv.Handler(), http.MethodPost, "/orders",
		`{"items":[{"item_id":"item-5","quantity":1000000,"price":1}]}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, body["data"])
	assert.Contains(t, body, "_embedded")

	txs := stored(t, srv, mem)
	require.Len(t, txs, 1)
	assert.Equal(t, http.StatusConflict, txs[0].Status)

	item, _ := srv.inventory.Get("item-5")
	assert.Equal(t, 2000, item.Quantity)
}

func TestReadsAreNotTracked(t *testing.T) {
	srv, mem := newTestServer(t)
	_, created := do(t, srv.Handler(), http.MethodPost, "/orders", validOrder, nil)
	id := created["data"].(map[string]any)["id"].(string)

	rec, body := do(t, srv.Handler(), http.MethodGet, "/orders/"+id, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["id"])
	assert.NotContains(t, body, "items")

	_, body = do(t, srv.Handler(), http.MethodGet, "/orders/"+id+"?_embed=items", "", nil)
	assert.Len(t, body["items"], 1)

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body = do(t, srv.Handler(), http.MethodGet, "/inventory/item-2", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["available"])

	rec, _ = do(t, srv.Handler(), http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Len(t, stored(t, srv, mem), 1)
}

func TestCancelThroughMethodOverride(t *testing.T) {
	srv, mem := newTestServer(t)
	_, created := do(t, srv.Handler(), http.MethodPost, "/orders", validOrder, nil)
	id := created["data"].(map[string]any)["id"].(string)

	rec, body := do(t, srv.Handler(), http.MethodPost, "/orders/"+id, "",
		map[string]string{kernel.MethodOverrideHeader: http.MethodDelete})
	// routed as DELETE, recorded as POST
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OrderStatusCancelled, body["data"].(map[string]any)["status"])

	item, _ := srv.inventory.Get("item-1")
	assert.Equal(t, 10000, item.Quantity)

	txs := stored(t, srv, mem)
	require.Len(t, txs, 2)
	cancel := txs[1]
	assert.Equal(t, http.MethodPost, cancel.RequestMethod)
	assert.Equal(t, "list_orders", cancel.RelatedRoute)
	require.NotNil(t, cancel.RelatedIDs["orderId"])
	assert.Equal(t, id, *cancel.RelatedIDs["orderId"])
	assert.Equal(t, http.StatusOK, cancel.Status)
}

func TestUpdateUnknownOrder(t *testing.T) {
	srv, mem := newTestServer(t)

	rec, _ := do(t, srv.Handler(), http.MethodPut, "/orders/missing", `{"status":"completed"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	txs := stored(t, srv, mem)
	require.Len(t, txs, 1)
	assert.False(t, txs[0].Success)
	assert.Equal(t, http.StatusNotFound, txs[0].Status)
}

func TestInventoryKeepsViewStatus(t *testing.T) {
	srv, mem := newTestServer(t)

	// no writeStatusCodes on the inventory controller
	rec, body := do(t, srv.Handler(), http.MethodPost, "/inventory/reserve",
		`{"order_id":"o-1","items":[{"item_id":"item-9","quantity":1,"price":1}]}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, body, "_embedded")

	rec, _ = do(t, srv.Handler(), http.MethodPost, "/inventory/release",
		`{"order_id":"o-1","items":[{"item_id":"item-2","quantity":1,"price":1}]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	txs := stored(t, srv, mem)
	require.Len(t, txs, 2)
	assert.Equal(t, models.ModelItem, txs[0].Model)
	assert.Equal(t, "check_item", txs[0].RelatedRoute)
	assert.Contains(t, txs[0].RelatedIDs, "itemId")
	assert.Nil(t, txs[0].RelatedIDs["itemId"])
	assert.Equal(t, http.StatusCreated, txs[1].Status)
}

func TestPolicyFileMatchesBuiltIn(t *testing.T) {
	fromFile, err := newResolver("policy.yaml")
	require.NoError(t, err)
	builtIn, err := newResolver("")
	require.NoError(t, err)

	for _, c := range defaultPolicy() {
		for action := range c.Actions {
			tgt := policy.Target{Controller: c.Name, Action: action}
			want, err := builtIn.Resolve(tgt)
			require.NoError(t, err)
			got, err := fromFile.Resolve(tgt)
			require.NoError(t, err)
			assert.Equal(t, want, got, tgt.String())
		}
	}
}

func TestStorageStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, body := do(t, srv.Handler(), http.MethodGet, "/status/storage", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", body["breaker"].(map[string]any)["state"])
	assert.Equal(t, []any{}, body["dead_letters"])
	require.NoError(t, srv.Close(context.Background()))
}
