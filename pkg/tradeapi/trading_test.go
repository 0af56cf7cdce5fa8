package tradeapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestOrderRequest_Validate(t *testing.T) {
	base := OrderRequest{Symbol: "AAPL", Side: SideBuy, Type: OrderTypeMarket, TimeInForce: TimeInForceDay, Qty: dec("1")}

	tests := []struct {
		name      string
		mutate    func(*OrderRequest)
		wantField string
	}{
		{name: "valid market", mutate: func(*OrderRequest) {}},
		{name: "missing symbol", mutate: func(r *OrderRequest) { r.Symbol = "" }, wantField: "symbol"},
		{name: "bad side", mutate: func(r *OrderRequest) { r.Side = "hold" }, wantField: "side"},
		{name: "qty and notional", mutate: func(r *OrderRequest) { r.Notional = dec("100") }, wantField: "qty"},
		{name: "neither qty nor notional", mutate: func(r *OrderRequest) { r.Qty = nil }, wantField: "qty"},
		{name: "notional only", mutate: func(r *OrderRequest) { r.Qty = nil; r.Notional = dec("100") }},
		{name: "missing time in force", mutate: func(r *OrderRequest) { r.TimeInForce = "" }, wantField: "time_in_force"},
		{name: "limit without price", mutate: func(r *OrderRequest) { r.Type = OrderTypeLimit }, wantField: "limit_price"},
		{name: "limit", mutate: func(r *OrderRequest) { r.Type = OrderTypeLimit; r.LimitPrice = dec("150") }},
		{name: "stop without price", mutate: func(r *OrderRequest) { r.Type = OrderTypeStop }, wantField: "stop_price"},
		{name: "stop limit missing stop", mutate: func(r *OrderRequest) { r.Type = OrderTypeStopLimit; r.LimitPrice = dec("1") }, wantField: "limit_price"},
		{name: "trailing both", mutate: func(r *OrderRequest) {
			r.Type = OrderTypeTrailingStop
			r.TrailPrice = dec("1")
			r.TrailPercent = dec("2")
		}, wantField: "trail_price"},
		{name: "trailing percent", mutate: func(r *OrderRequest) { r.Type = OrderTypeTrailingStop; r.TrailPercent = dec("2") }},
		{name: "unknown type", mutate: func(r *OrderRequest) { r.Type = "iceberg" }, wantField: "type"},
		{name: "bracket without legs", mutate: func(r *OrderRequest) { r.OrderClass = OrderClassBracket }, wantField: "order_class"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)

			err := req.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}
}

func TestClient_SubmitOrder(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/orders", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"ord-1","client_order_id":"` + received["client_order_id"].(string) + `",
			"created_at":"2024-01-02T14:30:00Z","symbol":"AAPL","qty":"10","filled_qty":"0","type":"limit",
			"side":"buy","time_in_force":"day","limit_price":"150.25","status":"accepted","order_class":""}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	order, err := client.SubmitOrder(context.Background(), OrderRequest{
		Symbol:      "aapl",
		Qty:         dec("10"),
		Side:        SideBuy,
		Type:        OrderTypeLimit,
		TimeInForce: TimeInForceDay,
		LimitPrice:  dec("150.25"),
	})

	require.NoError(t, err)
	assert.Equal(t, "AAPL", received["symbol"])
	assert.Equal(t, "10", received["qty"])
	assert.Equal(t, "150.25", received["limit_price"])
	assert.NotContains(t, received, "notional")

	_, err = uuid.Parse(received["client_order_id"].(string))
	assert.NoError(t, err)

	assert.Equal(t, "ord-1", order.ID)
	assert.True(t, order.LimitPrice.Equal(decimal.RequireFromString("150.25")))
	assert.True(t, order.Qty.Equal(decimal.NewFromInt(10)))
	assert.Nil(t, order.FilledAt)
}

func TestClient_SubmitOrder_KeepsClientOrderID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "my-id", req.ClientOrderID)
		_, _ = w.Write([]byte(`{"id":"ord-2","client_order_id":"my-id"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	order, err := client.SubmitOrder(context.Background(), OrderRequest{
		Symbol: "AAPL", Notional: dec("500"), Side: SideBuy, Type: OrderTypeMarket,
		TimeInForce: TimeInForceDay, ClientOrderID: "my-id",
	})

	require.NoError(t, err)
	assert.Equal(t, "my-id", order.ClientOrderID)
}

func TestClient_SubmitOrder_InvalidNoRequest(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.SubmitOrder(context.Background(), OrderRequest{Symbol: "AAPL", Side: SideBuy, Type: OrderTypeMarket})

	require.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestClient_GetAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/account", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"acc-1","account_number":"PA123","status":"ACTIVE","currency":"USD",
			"cash":"1000.50","buying_power":"2001","equity":"1500","portfolio_value":"1500","pattern_day_trader":false}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	account, err := client.GetAccount(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "PA123", account.AccountNumber)
	assert.Equal(t, "1000.5", account.Cash.String())
	assert.False(t, account.PatternDayTrader)
}

func TestClient_ListPositions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/positions", r.URL.Path)
		_, _ = w.Write([]byte(`[{"symbol":"AAPL","qty":"10","avg_entry_price":"150","side":"long","market_value":"1850","unrealized_pl":"350"}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	positions, err := client.ListPositions(context.Background())

	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, "350", positions[0].UnrealizedPL.String())
}

func TestClient_GetOrder_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":40410000,"message":"order not found"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetOrder(context.Background(), "missing")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, 40410000, apiErr.Code)
}

func TestClient_ListOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/orders", r.URL.Path)
		assert.Equal(t, "all", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[{"id":"a","symbol":"AAPL"},{"id":"b","symbol":"TSLA"}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	orders, err := client.ListOrders(context.Background(), ListOrdersRequest{Status: "all", Limit: 5})

	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestClient_CancelOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v2/orders/ord-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	require.NoError(t, client.CancelOrder(context.Background(), "ord-1"))
	assert.Error(t, client.CancelOrder(context.Background(), ""))
}
