package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
)

// InventoryClient talks to a remote inventory service.
type InventoryClient struct{ base }

var _ inventory.Ledger = (*InventoryClient)(nil)

func NewInventoryClient(baseURL string, client *http.Client) *InventoryClient {
	return &InventoryClient{base: newBase(baseURL, client)}
}

type reserveRequest struct {
	OrderID string           `json:"orderId"`
	Items   []inventory.Line `json:"items"`
}

type reserveResponse struct {
	ReservationID string `json:"reservationId"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type releaseOrderResponse struct {
	Released int `json:"released"`
}

func (c *InventoryClient) Reserve(ctx context.Context, orderID string, lines []inventory.Line) (string, error) {
	status, data, err := c.do(ctx, http.MethodPost, "/inventory/reservations",
		reserveRequest{OrderID: orderID, Items: lines}, nil, inventory.ErrUnavailable)
	if err != nil {
		return "", err
	}

	switch status {
	case http.StatusCreated, http.StatusOK:
		var out reserveResponse
		if err := json.Unmarshal(data, &out); err != nil || out.ReservationID == "" {
			return "", fmt.Errorf("%w: %w: reservation id missing", inventory.ErrUnavailable, errDecode)
		}
		return out.ReservationID, nil
	case http.StatusConflict:
		p := decodeProblem(data)
		return "", &inventory.OutOfStockError{SKU: p.SKU, Requested: p.Requested, Available: p.Available}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "", fmt.Errorf("%w: %w", inventory.ErrInvalidQuantity, unexpected(status, data))
	default:
		return "", fmt.Errorf("inventory: reserve: %w", unexpected(status, data))
	}
}

func (c *InventoryClient) Commit(ctx context.Context, reservationID string) (bool, error) {
	return c.resolve(ctx, reservationID, "commit")
}

func (c *InventoryClient) Release(ctx context.Context, reservationID string) (bool, error) {
	return c.resolve(ctx, reservationID, "release")
}

func (c *InventoryClient) ReleaseOrder(ctx context.Context, orderID string) (int, error) {
	path := "/inventory/orders/" + url.PathEscape(orderID) + "/release"
	status, data, err := c.do(ctx, http.MethodPost, path, nil, nil, inventory.ErrUnavailable)
	if err != nil {
		return 0, err
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("inventory: release order: %w", unexpected(status, data))
	}
	var out releaseOrderResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("%w: %w: %w", inventory.ErrUnavailable, errDecode, err)
	}
	return out.Released, nil
}

func (c *InventoryClient) resolve(ctx context.Context, reservationID, action string) (bool, error) {
	path := "/inventory/reservations/" + url.PathEscape(reservationID) + "/" + action
	status, data, err := c.do(ctx, http.MethodPost, path, nil, nil, inventory.ErrUnavailable)
	if err != nil {
		return false, err
	}

	switch status {
	case http.StatusOK:
		var out okResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return false, fmt.Errorf("%w: %w: %w", inventory.ErrUnavailable, errDecode, err)
		}
		return out.OK, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("inventory: %s: %w", action, unexpected(status, data))
	}
}

func (c *InventoryClient) Stock(ctx context.Context, sku string) (inventory.StockLevel, error) {
	status, data, err := c.do(ctx, http.MethodGet, "/inventory/stock/"+url.PathEscape(sku), nil, nil, inventory.ErrUnavailable)
	if err != nil {
		return inventory.StockLevel{}, err
	}
	if status != http.StatusOK {
		return inventory.StockLevel{}, fmt.Errorf("inventory: stock: %w", unexpected(status, data))
	}
	var out inventory.StockLevel
	if err := json.Unmarshal(data, &out); err != nil {
		return inventory.StockLevel{}, fmt.Errorf("%w: %w", errDecode, err)
	}
	return out, nil
}
