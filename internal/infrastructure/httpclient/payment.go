package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// PaymentClient calls a remote payment gateway. Declines come back as 200 with status DECLINED.
type PaymentClient struct{ base }

var _ payment.Gateway = (*PaymentClient)(nil)

func NewPaymentClient(baseURL string, client *http.Client) *PaymentClient {
	return &PaymentClient{base: newBase(baseURL, client)}
}

func (c *PaymentClient) Authorize(ctx context.Context, req payment.AuthorizeRequest) (*payment.Authorization, error) {
	var header http.Header
	if req.IdempotencyKey != "" {
		header = http.Header{HeaderIdempotencyKey: []string{req.IdempotencyKey}}
	}

	status, data, err := c.do(ctx, http.MethodPost, "/payments/authorize", req, header, payment.ErrUnavailable)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusCreated, http.StatusPaymentRequired:
		var out payment.Authorization
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("%w: %w: %w", payment.ErrUnavailable, errDecode, err)
		}
		if out.Status != payment.StatusAuthorized && out.Status != payment.StatusDeclined {
			return nil, fmt.Errorf("%w: %w: unknown status %q", payment.ErrUnavailable, errDecode, out.Status)
		}
		return &out, nil
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %w", payment.ErrInvalid, unexpected(status, data))
	default:
		return nil, fmt.Errorf("payment: authorize: %w", unexpected(status, data))
	}
}
