package payment

import (
	"context"
	"fmt"
	"sync"
	"testing"

	pay "github.com/Zhima-Mochi/minishop-saga/internal/domain/payment"
	obsinfra "github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/observability/zaplogger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("pay-%d", s.n)
}

func request(orderID, first, last string, amount string) pay.AuthorizeRequest {
	return pay.AuthorizeRequest{
		OrderID:  orderID,
		Customer: pay.Customer{FirstName: first, LastName: last},
		Items:    []pay.Item{{ProductID: "SKU-123", Quantity: 1, UnitPrice: decimal.RequireFromString(amount)}},
		Amount:   decimal.RequireFromString(amount),
	}
}

func TestAuthorize_DebitsBalance(t *testing.T) {
	uc := NewAuthorizePaymentUseCase(DefaultAccounts(), &seqIDs{}, nil)

	auth, err := uc.Authorize(context.Background(), request("o-1", "Amed", "Diyarbakir", "150"))
	require.NoError(t, err)
	assert.True(t, auth.Approved())
	assert.Equal(t, "pay-1", auth.PaymentID)

	balance, ok := uc.Balance("amed  DIYARBAKIR")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(50).Equal(balance), balance.String())

	auth, err = uc.Authorize(context.Background(), request("o-2", "Amed", "Diyarbakir", "60"))
	require.NoError(t, err)
	assert.Equal(t, pay.StatusDeclined, auth.Status)
	assert.Equal(t, pay.DeclineInsufficientFunds, auth.Reason)
	assert.Empty(t, auth.PaymentID)
}

func TestAuthorize_ExactBalanceIsEnough(t *testing.T) {
	uc := NewAuthorizePaymentUseCase(DefaultAccounts(), &seqIDs{}, nil)

	auth, err := uc.Authorize(context.Background(), request("o-1", "Mock", "Mock", "4.2"))
	require.NoError(t, err)
	assert.True(t, auth.Approved())

	auth, err = uc.Authorize(context.Background(), request("o-2", "Mock", "Mock", "0.01"))
	require.NoError(t, err)
	assert.Equal(t, pay.DeclineInsufficientFunds, auth.Reason)
}

func TestAuthorize_Declines(t *testing.T) {
	uc := NewAuthorizePaymentUseCase(DefaultAccounts(), &seqIDs{}, nil)

	auth, err := uc.Authorize(context.Background(), request("o-1", "Nobody", "Here", "1"))
	require.NoError(t, err)
	assert.Equal(t, pay.DeclineUnknownCustomer, auth.Reason)

	req := request("o-2", "Amed", "Diyarbakir", "10")
	req.Amount = decimal.NewFromInt(9)
	auth, err = uc.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, pay.DeclineAmountMismatch, auth.Reason)
}

func TestAuthorize_InvalidRequest(t *testing.T) {
	uc := NewAuthorizePaymentUseCase(DefaultAccounts(), &seqIDs{}, nil)

	_, err := uc.Authorize(context.Background(), pay.AuthorizeRequest{})
	assert.ErrorIs(t, err, pay.ErrInvalid)

	req := request("o-1", "Amed", "Diyarbakir", "1")
	req.Items[0].Quantity = 0
	_, err = uc.Authorize(context.Background(), req)
	assert.ErrorIs(t, err, pay.ErrInvalid)
}

func TestAuthorize_CancelledContext(t *testing.T) {
	uc := NewAuthorizePaymentUseCase(DefaultAccounts(), &seqIDs{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := uc.Authorize(ctx, request("o-1", "Amed", "Diyarbakir", "1"))
	assert.ErrorIs(t, err, context.Canceled)

	balance, _ := uc.Balance("amed diyarbakir")
	assert.True(t, decimal.NewFromInt(200).Equal(balance))
}

func TestAuthorize_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	uc := NewAuthorizePaymentUseCase(DefaultAccounts(), &seqIDs{}, nil)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			auth, err := uc.Authorize(context.Background(), request(fmt.Sprintf("o-%d", i), "Amed", "Diyarbakir", "10"))
			if assert.NoError(t, err) && auth.Approved() {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 20, approved)
	balance, _ := uc.Balance("amed diyarbakir")
	assert.True(t, balance.IsZero())
}

func TestAuthorize_LogsUseCaseDone(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	tel := obsinfra.New(nil, zaplogger.Wrap(zap.New(core)), nil)
	uc := NewAuthorizePaymentUseCase(DefaultAccounts(), &seqIDs{}, tel)

	_, err := uc.Authorize(context.Background(), request("o-1", "Amed", "Diyarbakir", "1"))
	require.NoError(t, err)

	entries := logs.FilterMessage("use_case_done").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "payment-service", fields["service"])
	assert.Equal(t, "payment.authorize", fields["use_case"])
	assert.Equal(t, "o-1", fields["order_id"])
	assert.Equal(t, "success", fields["outcome"])
	assert.Equal(t, "AUTHORIZED", fields["payment_status"])
}
