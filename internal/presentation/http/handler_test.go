package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	appOrder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	appPayment "github.com/Zhima-Mochi/minishop-saga/internal/application/payment"
	domainOrder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domainOutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/idempotency"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	obsinfra "github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedEvents struct {
	mu     sync.Mutex
	events []domainOutbox.Event
}

func (p *publishedEvents) Publish(_ context.Context, e domainOutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *publishedEvents) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type testServer struct {
	*httptest.Server
	ledger    *memory.InventoryLedger
	published *publishedEvents
	metrics   *prometrics.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	metrics, err := prometrics.New(prometheus.NewRegistry(), "", observability.Specs)
	require.NoError(t, err)
	tel := obsinfra.New(nil, nil, metrics)

	ledger := memory.NewInventoryLedger()
	require.NoError(t, ledger.Provision("SKU-123", 20))
	require.NoError(t, ledger.Provision("SKU-456", 15))
	require.NoError(t, ledger.Provision("SKU-789", 8))

	repo := memory.NewOrderRepository()
	payments := appPayment.NewAuthorizePaymentUseCase(appPayment.DefaultAccounts(), id.NewPrefixedGenerator("pay-"), tel)
	published := &publishedEvents{}
	placeOrder := appOrder.NewPlaceOrderUseCase(repo, id.NewUUIDGenerator(), ledger, payments, published, appOrder.SagaConfig{}, tel)

	h := NewHandler(Deps{
		PlaceOrder:  placeOrder,
		GetOrder:    appOrder.NewGetOrderUseCase(repo, tel),
		ListOrders:  appOrder.NewListOrdersUseCase(repo, tel),
		Inventory:   ledger,
		Payments:    payments,
		Idempotency: idempotency.NewCache(idempotency.NewMemoryStore(), time.Minute, tel),
	}, tel)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, ledger: ledger, published: published, metrics: metrics}
}

func (s *testServer) do(t *testing.T, method, path, body string, header map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	resp, raw := s.doRaw(t, method, path, body, header)
	var out map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (s *testServer) doRaw(t *testing.T, method, path, body string, header map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func orderBody(first, last, sku string, qty int, price string) string {
	b, _ := json.Marshal(map[string]any{
		"customer":        map[string]string{"firstName": first, "lastName": last},
		"items":           []map[string]any{{"productId": sku, "quantity": qty, "unitPrice": price}},
		"shippingAddress": map[string]string{"city": "Berlin"},
	})
	return string(b)
}

func (s *testServer) available(t *testing.T, sku string) int {
	lvl, err := s.ledger.Stock(context.Background(), sku)
	require.NoError(t, err)
	return lvl.Available
}

func TestCreateOrder_Created(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/orders", orderBody("Amed", "Diyarbakir", "SKU-123", 5, "10.00"), map[string]string{headerRequestID: "rid-1"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "rid-1", resp.Header.Get(headerRequestID))
	assert.Equal(t, "FULFILLMENT_REQUESTED", body["state"])
	assert.Equal(t, "50", body["totalAmount"])
	assert.NotEmpty(t, body["reservationId"])
	assert.Equal(t, 15, s.available(t, "SKU-123"))
	assert.Equal(t, 1, s.published.count())

	orderID := body["id"].(string)
	resp, got := s.do(t, http.MethodGet, "/orders/"+orderID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FULFILLMENT_REQUESTED", got["state"])
	assert.Len(t, got["history"], 4)

	resp, list := s.do(t, http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, list["orders"], 1)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		s.metrics.CounterVec(observability.MHTTPRequests).WithLabelValues("POST", "POST /orders", "201")))
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	s := newTestServer(t)
	body := orderBody("Amed", "Diyarbakir", "SKU-123", 5, "1")
	key := map[string]string{headerIdempotencyKey: "client-key-1"}

	first, firstBody := s.do(t, http.MethodPost, "/orders", body, key)
	second, secondBody := s.do(t, http.MethodPost, "/orders", body, key)

	assert.Equal(t, http.StatusCreated, first.StatusCode)
	assert.Equal(t, http.StatusCreated, second.StatusCode)
	assert.Empty(t, first.Header.Get(headerReplayed))
	assert.Equal(t, "true", second.Header.Get(headerReplayed))
	assert.Equal(t, firstBody["id"], secondBody["id"])
	assert.Equal(t, 15, s.available(t, "SKU-123"), "stock is reserved once")
	assert.Equal(t, 1, s.published.count())

	third, thirdBody := s.do(t, http.MethodPost, "/orders", body, map[string]string{headerIdempotencyKey: "client-key-2"})
	assert.Equal(t, http.StatusCreated, third.StatusCode)
	assert.NotEqual(t, firstBody["id"], thirdBody["id"])
	assert.Equal(t, 10, s.available(t, "SKU-123"))
}

func TestCreateOrder_ConcurrentDuplicatesExecuteOnce(t *testing.T) {
	s := newTestServer(t)
	body := orderBody("Amed", "Diyarbakir", "SKU-123", 1, "1")

	var wg sync.WaitGroup
	ids := make([]any, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, out := s.do(t, http.MethodPost, "/orders", body, map[string]string{headerIdempotencyKey: "same"})
			ids[i] = out["id"]
		}(i)
	}
	wg.Wait()

	for _, got := range ids {
		assert.Equal(t, ids[0], got)
	}
	assert.Equal(t, 19, s.available(t, "SKU-123"))
}

func TestCreateOrder_OutOfStockProblem(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/orders", orderBody("Amed", "Diyarbakir", "SKU-123", 25, "1"), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, contentTypeProblem, resp.Header.Get("Content-Type"))
	assert.Equal(t, "OUT_OF_STOCK", body["reason"])
	assert.NotEmpty(t, body["correlationId"])
	order := body["order"].(map[string]any)
	assert.Equal(t, "OUT_OF_STOCK", order["state"])
	assert.Equal(t, 20, s.available(t, "SKU-123"))
}

func TestCreateOrder_DeclinedProblem(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/orders", orderBody("Mock", "Mock", "SKU-456", 5, "1"), nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "PAYMENT_DECLINED", body["reason"])
	assert.Equal(t, "INSUFFICIENT_FUNDS", body["detail"])
	assert.Equal(t, 15, s.available(t, "SKU-456"))
	assert.Zero(t, s.published.count())
}

func TestCreateOrder_Validation(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/orders", `{"customer":`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, reasonValidation, body["reason"])

	resp, _ = s.do(t, http.MethodPost, "/orders", `{"bogus":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = s.do(t, http.MethodPost, "/orders", orderBody("Amed", "Diyarbakir", "SKU-123", 0, "1"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, reasonValidation, body["reason"])
}

func TestGetOrder_NotFound(t *testing.T) {
	s := newTestServer(t)
	resp, body := s.do(t, http.MethodGet, "/orders/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", body["reason"])
	assert.Equal(t, "/orders/missing", body["instance"])
}

func TestInventoryRoutes(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/inventory/reservations", `{"orderId":"o-1","items":[{"sku":"SKU-789","qty":3}]}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rid := body["reservationId"].(string)

	resp, body = s.do(t, http.MethodGet, "/inventory/stock/SKU-789", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), body["available"])
	assert.Equal(t, float64(8), body["provisioned"])

	resp, body = s.do(t, http.MethodGet, "/inventory/reservations/"+rid, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "open", body["status"])

	resp, body = s.do(t, http.MethodPost, "/inventory/reservations/"+rid+"/release", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	resp, body = s.do(t, http.MethodPost, "/inventory/reservations/"+rid+"/release", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, false, body["ok"])

	resp, _ = s.do(t, http.MethodGet, "/inventory/reservations/res-missing", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInventoryRoutes_OutOfStockCarriesQuantities(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(t, http.MethodPost, "/inventory/reservations", `{"orderId":"o-1","items":[{"sku":"SKU-456","qty":16}]}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "SKU-456", body["sku"])
	assert.Equal(t, float64(16), body["requested"])
	assert.Equal(t, float64(15), body["available"])

	resp, _ = s.do(t, http.MethodPost, "/inventory/reservations", `{"orderId":"o-1","items":[{"sku":"SKU-456","qty":0}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInventoryRoutes_ReleaseOrder(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 2; i++ {
		resp, _ := s.do(t, http.MethodPost, "/inventory/reservations", `{"orderId":"o-9","items":[{"sku":"SKU-789","qty":2}]}`, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp, body := s.do(t, http.MethodPost, "/inventory/orders/o-9/release", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["released"])

	resp, body = s.do(t, http.MethodGet, "/inventory/stock/SKU-789", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(8), body["available"])

	resp, body = s.do(t, http.MethodPost, "/inventory/orders/o-9/release", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["released"])
}

func TestOverflowingQuantitiesAreRejected(t *testing.T) {
	s := newTestServer(t)
	const half = "4611686018427387904"

	resp, _ := s.do(t, http.MethodPost, "/inventory/reservations",
		`{"orderId":"o-1","items":[{"sku":"SKU-123","qty":`+half+`},{"sku":"SKU-123","qty":`+half+`}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	order := `{"customer":{"firstName":"Amed","lastName":"Diyarbakir"},"items":[` +
		`{"productId":"SKU-123","quantity":` + half + `,"unitPrice":"0"},` +
		`{"productId":"SKU-123","quantity":` + half + `,"unitPrice":"0"}]}`
	resp, _ = s.do(t, http.MethodPost, "/orders", order, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/inventory/stock/SKU-123", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(20), body["available"])
	assert.Equal(t, float64(0), body["reserved"])
}

func TestPaymentRoute(t *testing.T) {
	s := newTestServer(t)
	body := `{"orderId":"o-1","customer":{"firstName":"Nobody","lastName":"Known"},"items":[{"productId":"SKU-123","quantity":1,"unitPrice":"1"}],"amount":"1"}`

	resp, out := s.do(t, http.MethodPost, "/payments/authorize", body, map[string]string{headerIdempotencyKey: "p-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DECLINED", out["status"])
	assert.Equal(t, "UNKNOWN_CUSTOMER", out["reason"])

	resp, _ = s.do(t, http.MethodPost, "/payments/authorize", body, map[string]string{headerIdempotencyKey: "p-1"})
	assert.Equal(t, "true", resp.Header.Get(headerReplayed))
}

func TestPaymentRoute_ReplayIsByteIdentical(t *testing.T) {
	s := newTestServer(t)
	body := `{"orderId":"o-2","customer":{"firstName":"Amed","lastName":"Diyarbakir"},"items":[{"productId":"SKU-123","quantity":1,"unitPrice":"1"}],"amount":"1"}`
	header := map[string]string{headerIdempotencyKey: "p-2"}

	first, firstRaw := s.doRaw(t, http.MethodPost, "/payments/authorize", body, header)
	require.Equal(t, http.StatusOK, first.StatusCode)
	assert.Empty(t, first.Header.Get(headerReplayed))

	second, secondRaw := s.doRaw(t, http.MethodPost, "/payments/authorize", body, header)
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get(headerReplayed))
	assert.Equal(t, first.Header.Get("Content-Type"), second.Header.Get("Content-Type"))
	assert.Equal(t, firstRaw, secondRaw)

	var out map[string]any
	require.NoError(t, json.Unmarshal(secondRaw, &out))
	assert.Equal(t, "AUTHORIZED", out["status"])
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))
}

func TestStatusForState_PaidWithPublishFailure(t *testing.T) {
	o, err := domainOrder.New("o-1", domainOrder.Customer{FirstName: "Amed", LastName: "Diyarbakir"},
		[]domainOrder.LineItem{{ProductID: "SKU-123", Quantity: 1}}, domainOrder.Address{})
	require.NoError(t, err)
	require.NoError(t, o.Reserved("res-1"))
	require.NoError(t, o.Paid("pay-1"))
	require.NoError(t, o.FulfillmentPublishFailed("broker down"))

	status, reason := statusForState(o)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, domainOrder.ReasonFulfillmentPublishFail, reason)

	require.NoError(t, o.FulfillmentRequested())
	status, _ = statusForState(o)
	assert.Equal(t, http.StatusCreated, status)
}
