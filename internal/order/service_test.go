package order_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickbite/foodorder/internal/catalog"
	"github.com/quickbite/foodorder/internal/config"
	"github.com/quickbite/foodorder/internal/gateway"
	"github.com/quickbite/foodorder/internal/identity"
	"github.com/quickbite/foodorder/internal/order"
	"github.com/quickbite/foodorder/internal/ticket"
)

var (
	customer = identity.Principal{UserID: 1, Role: identity.RoleCustomer}
	stranger = identity.Principal{UserID: 2, Role: identity.RoleCustomer}
	admin    = identity.Principal{UserID: 99, Role: identity.RoleAdmin}
)

// menuStub resolves prices from a fixed map, mutable mid-test to prove the
// snapshot semantics.
type menuStub struct {
	mu     sync.Mutex
	prices map[int64]int64
}

func (m *menuStub) FoodPrice(_ context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	price, ok := m.prices[id]
	if !ok {
		return 0, catalog.ErrFoodNotFound
	}
	return price, nil
}

func (m *menuStub) setPrice(id, price int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[id] = price
}

// memRepo is an in-memory order.Repository with the same conditional-update
// semantics as the Postgres implementation, mutex-serialized so the
// concurrency property can be exercised for real.
type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	orders   map[int64]*order.Order
	payments map[int64]*order.Payment // keyed by payment id
	tickets  map[int64]*ticket.Ticket // keyed by order id
}

func newMemRepo() *memRepo {
	return &memRepo{
		orders:   make(map[int64]*order.Order),
		payments: make(map[int64]*order.Payment),
		tickets:  make(map[int64]*ticket.Ticket),
	}
}

func (r *memRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memRepo) CreateOrder(_ context.Context, o *order.Order, code string) (*ticket.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o.ID = r.id()
	for i := range o.Items {
		o.Items[i].ID = r.id()
		o.Items[i].OrderID = o.ID
	}
	cp := *o
	cp.Items = append([]order.Item(nil), o.Items...)
	r.orders[o.ID] = &cp

	t := &ticket.Ticket{ID: r.id(), OrderID: o.ID, Code: code}
	r.tickets[o.ID] = t
	cpT := *t
	return &cpT, nil
}

func (r *memRepo) GetOrder(_ context.Context, id int64) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	cp.Items = append([]order.Item(nil), o.Items...)
	return &cp, nil
}

func (r *memRepo) ListOrdersByUser(_ context.Context, userID int64) ([]order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []order.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, cp)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateOrderStatus(_ context.Context, orderID int64, st order.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = st
	return nil
}

func (r *memRepo) DeleteOrder(_ context.Context, orderID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[orderID]; !ok {
		return order.ErrNotFound
	}
	delete(r.orders, orderID)
	delete(r.tickets, orderID)
	for id, p := range r.payments {
		if p.OrderID == orderID {
			delete(r.payments, id)
		}
	}
	return nil
}

func (r *memRepo) PaymentByID(_ context.Context, id int64) (*order.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, order.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) PaymentByOrder(_ context.Context, orderID int64) (*order.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payments {
		if p.OrderID == orderID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, order.ErrPaymentNotFound
}

func (r *memRepo) ReplacePayment(_ context.Context, p *order.Payment, advanceTo order.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.payments {
		if existing.OrderID != p.OrderID {
			continue
		}
		if existing.Status == order.PaymentCompleted {
			return order.ErrPaymentCompleted
		}
		delete(r.payments, id)
	}

	p.ID = r.id()
	cp := *p
	r.payments[p.ID] = &cp

	if advanceTo != "" {
		if o, ok := r.orders[p.OrderID]; ok {
			o.Status = advanceTo
		}
	}
	return nil
}

func (r *memRepo) CompleteCashPayment(_ context.Context, paymentID int64) (*order.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[paymentID]
	if !ok || p.Method != order.MethodCash {
		return nil, order.ErrPaymentNotFound
	}
	if p.Status == order.PaymentCompleted {
		return nil, order.ErrPaymentCompleted
	}
	p.Status = order.PaymentCompleted
	cp := *p
	return &cp, nil
}

func (r *memRepo) ApplyGatewayOutcome(_ context.Context, orderID int64, txnRef string, success bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.payments {
		if p.OrderID != orderID || p.TxnRef != txnRef {
			continue
		}
		if p.Status != order.PaymentPending {
			return false, nil
		}
		if success {
			p.Status = order.PaymentCompleted
			if o, ok := r.orders[orderID]; ok {
				o.Status = order.StatusCompleted
			}
		} else {
			p.Status = order.PaymentCancelled
		}
		return true, nil
	}
	return false, order.ErrPaymentNotFound
}

func (r *memRepo) RedeemTicket(_ context.Context, code string) (*ticket.Ticket, order.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.tickets {
		if t.Code != code {
			continue
		}
		o := r.orders[t.OrderID]
		if t.IsUsed || o.Status == order.StatusScanned {
			return nil, o.Status, order.ErrTicketUsed
		}
		switch o.Status {
		case order.StatusCompleted:
		case order.StatusPending:
			return nil, o.Status, order.ErrOrderNotConfirmed
		case order.StatusCancelled:
			return nil, o.Status, order.ErrOrderCancelled
		default:
			return nil, o.Status, order.ErrOrderNotPaid
		}
		t.IsUsed = true
		o.Status = order.StatusScanned
		cp := *t
		return &cp, order.StatusScanned, nil
	}
	return nil, "", ticket.ErrNotFound
}

func (r *memRepo) TicketByOrder(_ context.Context, orderID int64) (*ticket.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tickets[orderID]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) InsertTicket(_ context.Context, orderID int64, code string) (*ticket.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tickets[orderID]; ok {
		cp := *existing
		return &cp, nil
	}
	t := &ticket.Ticket{ID: r.id(), OrderID: orderID, Code: code}
	r.tickets[orderID] = t
	cp := *t
	return &cp, nil
}

var gwCfg = config.GatewayConfig{
	MerchantCode: "QB0001",
	SecretKey:    "test-secret-key",
	PayURL:       "https://gw.example/pay",
	ReturnURL:    "https://api.example/payments/callback",
}

func newTestService(repo *memRepo, menu *menuStub) order.Service {
	return order.NewService(repo, menu, ticket.NewIssuer(repo), gateway.New(gwCfg))
}

func defaultMenu() *menuStub {
	return &menuStub{prices: map[int64]int64{1: 50000, 2: 35000}}
}

// signCallback computes the signature over the sorted non-empty params, the
// same way the gateway signs its return redirect.
func signCallback(params url.Values, secret string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == gateway.FieldSecureHash || k == gateway.FieldSecureHashType {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := params.Get(k)
		if v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(v))
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(b.String()))
	params.Set(gateway.FieldSecureHash, hex.EncodeToString(mac.Sum(nil)))
}

func TestService_CreateOrder(t *testing.T) {
	tests := []struct {
		name      string
		items     []order.NewItem
		wantTotal int64
		wantErrIs error
	}{
		{
			name:      "no_items",
			items:     nil,
			wantErrIs: order.ErrEmptyOrder,
		},
		{
			name:      "zero_quantity",
			items:     []order.NewItem{{FoodID: 1, Quantity: 0}},
			wantErrIs: order.ErrInvalidQuantity,
		},
		{
			name:      "negative_quantity",
			items:     []order.NewItem{{FoodID: 1, Quantity: -3}},
			wantErrIs: order.ErrInvalidQuantity,
		},
		{
			name:      "unknown_food",
			items:     []order.NewItem{{FoodID: 777, Quantity: 1}},
			wantErrIs: catalog.ErrFoodNotFound,
		},
		{
			name:      "single_item",
			items:     []order.NewItem{{FoodID: 1, Quantity: 2}},
			wantTotal: 100000,
		},
		{
			name:      "mixed_items",
			items:     []order.NewItem{{FoodID: 1, Quantity: 1}, {FoodID: 2, Quantity: 3}},
			wantTotal: 155000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(newMemRepo(), defaultMenu())

			o, tk, err := svc.CreateOrder(context.Background(), customer, tt.items)
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, o.TotalPrice)
			assert.Equal(t, order.StatusPending, o.Status)
			assert.Equal(t, customer.UserID, o.UserID)
			assert.NotEmpty(t, tk.Code)
			assert.Equal(t, o.ID, tk.OrderID)
		})
	}
}

func TestService_CreateOrder_PriceSnapshot(t *testing.T) {
	repo := newMemRepo()
	menu := defaultMenu()
	svc := newTestService(repo, menu)

	o, _, err := svc.CreateOrder(context.Background(), customer, []order.NewItem{{FoodID: 1, Quantity: 2}})
	require.NoError(t, err)
	require.Equal(t, int64(100000), o.TotalPrice)

	// A later catalog price change never touches the stored snapshot.
	menu.setPrice(1, 99999)

	got, err := svc.GetOrder(context.Background(), customer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100000), got.TotalPrice)
	require.Len(t, got.Items, 1)
	assert.Equal(t, int64(50000), got.Items[0].UnitPrice)
}

func TestService_RecordPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("cash_advances_pending_order", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 2}})
		require.NoError(t, err)

		result, err := svc.RecordPayment(ctx, customer, order.PaymentRequest{
			OrderID: o.ID, Method: order.MethodCash, Amount: o.TotalPrice,
		})
		require.NoError(t, err)
		assert.Equal(t, order.PaymentPending, result.Payment.Status)
		assert.Empty(t, result.PaymentURL)

		got, err := svc.GetOrder(ctx, customer, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusConfirmed, got.Status)
	})

	t.Run("online_returns_redirect_url", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
		require.NoError(t, err)

		result, err := svc.RecordPayment(ctx, customer, order.PaymentRequest{
			OrderID: o.ID, Method: order.MethodOnline, Amount: o.TotalPrice,
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(result.PaymentURL, gwCfg.PayURL+"?"))
		assert.NotEmpty(t, result.Payment.TxnRef)

		// Redirecting alone settles nothing.
		got, err := svc.GetOrder(ctx, customer, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPending, got.Status)
	})

	t.Run("completed_payment_conflicts_without_writes", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
		require.NoError(t, err)

		result, err := svc.RecordPayment(ctx, customer, order.PaymentRequest{
			OrderID: o.ID, Method: order.MethodCash, Amount: o.TotalPrice,
		})
		require.NoError(t, err)
		_, err = svc.ConfirmCashPayment(ctx, admin, result.Payment.ID)
		require.NoError(t, err)

		before, err := repo.PaymentByOrder(ctx, o.ID)
		require.NoError(t, err)

		_, err = svc.RecordPayment(ctx, customer, order.PaymentRequest{
			OrderID: o.ID, Method: order.MethodCash, Amount: o.TotalPrice,
		})
		assert.ErrorIs(t, err, order.ErrPaymentCompleted)

		after, err := repo.PaymentByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("stale_attempt_is_replaced", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
		require.NoError(t, err)

		first, err := svc.RecordPayment(ctx, customer, order.PaymentRequest{
			OrderID: o.ID, Method: order.MethodOnline, Amount: o.TotalPrice,
		})
		require.NoError(t, err)

		second, err := svc.RecordPayment(ctx, customer, order.PaymentRequest{
			OrderID: o.ID, Method: order.MethodOnline, Amount: o.TotalPrice,
		})
		require.NoError(t, err)
		assert.NotEqual(t, first.Payment.ID, second.Payment.ID)

		// Exactly one live payment row per order.
		p, err := repo.PaymentByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, second.Payment.ID, p.ID)
	})

	t.Run("rejections", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
		require.NoError(t, err)

		tests := []struct {
			name      string
			actor     identity.Principal
			req       order.PaymentRequest
			wantErrIs error
		}{
			{
				name:      "zero_amount",
				actor:     customer,
				req:       order.PaymentRequest{OrderID: o.ID, Method: order.MethodCash, Amount: 0},
				wantErrIs: order.ErrInvalidAmount,
			},
			{
				name:      "unknown_method",
				actor:     customer,
				req:       order.PaymentRequest{OrderID: o.ID, Method: "voucher", Amount: 1000},
				wantErrIs: order.ErrInvalidMethod,
			},
			{
				name:      "foreign_order",
				actor:     stranger,
				req:       order.PaymentRequest{OrderID: o.ID, Method: order.MethodCash, Amount: 1000},
				wantErrIs: order.ErrForbidden,
			},
			{
				name:      "unknown_order",
				actor:     customer,
				req:       order.PaymentRequest{OrderID: 12345, Method: order.MethodCash, Amount: 1000},
				wantErrIs: order.ErrNotFound,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.RecordPayment(ctx, tt.actor, tt.req)
				assert.ErrorIs(t, err, tt.wantErrIs)
			})
		}
	})
}

func TestService_ConfirmCashPayment(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := newTestService(repo, defaultMenu())

	o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 2}})
	require.NoError(t, err)
	result, err := svc.RecordPayment(ctx, customer, order.PaymentRequest{
		OrderID: o.ID, Method: order.MethodCash, Amount: o.TotalPrice,
	})
	require.NoError(t, err)

	_, err = svc.ConfirmCashPayment(ctx, customer, result.Payment.ID)
	assert.ErrorIs(t, err, order.ErrAdminOnly)

	_, err = svc.ConfirmCashPayment(ctx, admin, 9999)
	assert.ErrorIs(t, err, order.ErrPaymentNotFound)

	p, err := svc.ConfirmCashPayment(ctx, admin, result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentCompleted, p.Status)

	// Confirming the payment does not advance the order; that is a separate
	// admin action.
	got, err := svc.GetOrder(ctx, customer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.Status)

	_, err = svc.ConfirmCashPayment(ctx, admin, result.Payment.ID)
	assert.ErrorIs(t, err, order.ErrPaymentCompleted)
}

func TestService_ReconcileCallback(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (order.Service, *memRepo, *order.Order, string) {
		t.Helper()
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 2}})
		require.NoError(t, err)
		result, err := svc.RecordPayment(ctx, customer, order.PaymentRequest{
			OrderID: o.ID, Method: order.MethodOnline, Amount: o.TotalPrice,
		})
		require.NoError(t, err)
		return svc, repo, o, result.Payment.TxnRef
	}

	callbackParams := func(txnRef, code string) url.Values {
		params := url.Values{}
		params.Set(gateway.FieldTxnRef, txnRef)
		params.Set(gateway.FieldAmount, "10000000")
		params.Set(gateway.FieldResponseCode, code)
		signCallback(params, gwCfg.SecretKey)
		return params
	}

	t.Run("success_completes_payment_and_order", func(t *testing.T) {
		svc, repo, o, txnRef := setup(t)

		result, err := svc.ReconcileCallback(ctx, callbackParams(txnRef, gateway.ResponseCodeSuccess))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.True(t, result.Success)
		assert.Equal(t, o.ID, result.OrderID)

		p, err := repo.PaymentByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.PaymentCompleted, p.Status)

		got, err := repo.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCompleted, got.Status)
	})

	t.Run("failure_cancels_payment_only", func(t *testing.T) {
		svc, repo, o, txnRef := setup(t)

		result, err := svc.ReconcileCallback(ctx, callbackParams(txnRef, "24"))
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.False(t, result.Success)

		p, err := repo.PaymentByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.PaymentCancelled, p.Status)

		// The order stays re-payable.
		got, err := repo.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPending, got.Status)
	})

	t.Run("tampered_params_rejected_without_state_change", func(t *testing.T) {
		svc, repo, o, txnRef := setup(t)

		params := callbackParams(txnRef, gateway.ResponseCodeSuccess)
		params.Set(gateway.FieldAmount, "1") // altered post-signing

		_, err := svc.ReconcileCallback(ctx, params)
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)

		p, err := repo.PaymentByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.PaymentPending, p.Status)

		got, err := repo.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusPending, got.Status)
	})

	t.Run("missing_signature_rejected", func(t *testing.T) {
		svc, _, _, txnRef := setup(t)

		params := callbackParams(txnRef, gateway.ResponseCodeSuccess)
		params.Del(gateway.FieldSecureHash)

		_, err := svc.ReconcileCallback(ctx, params)
		assert.ErrorIs(t, err, gateway.ErrInvalidSignature)
	})

	t.Run("replayed_stale_callback_applies_nothing", func(t *testing.T) {
		svc, repo, o, txnRef := setup(t)

		_, err := svc.ReconcileCallback(ctx, callbackParams(txnRef, gateway.ResponseCodeSuccess))
		require.NoError(t, err)

		// A late failure callback for the same attempt must not overwrite
		// the settled payment.
		result, err := svc.ReconcileCallback(ctx, callbackParams(txnRef, "24"))
		require.NoError(t, err)
		assert.False(t, result.Applied)

		p, err := repo.PaymentByOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.PaymentCompleted, p.Status)

		got, err := repo.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCompleted, got.Status)
	})

	t.Run("unknown_payment", func(t *testing.T) {
		svc, _, _, _ := setup(t)

		_, err := svc.ReconcileCallback(ctx, callbackParams("424242-deadbeef", gateway.ResponseCodeSuccess))
		assert.ErrorIs(t, err, order.ErrPaymentNotFound)
	})
}

func TestService_CancelOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("pending_order_hard_deleted_with_dependents", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, tk, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
		require.NoError(t, err)
		_, err = svc.RecordPayment(ctx, customer, order.PaymentRequest{
			OrderID: o.ID, Method: order.MethodOnline, Amount: o.TotalPrice,
		})
		require.NoError(t, err)

		require.NoError(t, svc.CancelOrder(ctx, customer, o.ID))

		_, err = repo.GetOrder(ctx, o.ID)
		assert.ErrorIs(t, err, order.ErrNotFound)
		_, err = repo.PaymentByOrder(ctx, o.ID)
		assert.ErrorIs(t, err, order.ErrPaymentNotFound)
		_, err = repo.TicketByOrder(ctx, o.ID)
		assert.ErrorIs(t, err, ticket.ErrNotFound)
		_, _, err = repo.RedeemTicket(ctx, tk.Code)
		assert.ErrorIs(t, err, ticket.ErrNotFound)
	})

	t.Run("confirmed_order_soft_cancelled", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
		require.NoError(t, err)
		_, err = svc.RecordPayment(ctx, customer, order.PaymentRequest{
			OrderID: o.ID, Method: order.MethodCash, Amount: o.TotalPrice,
		})
		require.NoError(t, err)

		require.NoError(t, svc.CancelOrder(ctx, customer, o.ID))

		got, err := repo.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, got.Status)
	})

	t.Run("scanned_order_cannot_be_cancelled", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, tk, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
		require.NoError(t, err)
		require.NoError(t, repo.UpdateOrderStatus(ctx, o.ID, order.StatusCompleted))
		_, err = svc.RedeemTicket(ctx, admin, tk.Code)
		require.NoError(t, err)

		err = svc.CancelOrder(ctx, customer, o.ID)
		assert.ErrorIs(t, err, order.ErrCannotCancel)
	})

	t.Run("foreign_order_forbidden", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
		require.NoError(t, err)

		assert.ErrorIs(t, svc.CancelOrder(ctx, stranger, o.ID), order.ErrForbidden)
	})
}

func TestService_UpdateOrderStatus(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := newTestService(repo, defaultMenu())

	o, _, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.UpdateOrderStatus(ctx, customer, o.ID, order.StatusConfirmed), order.ErrAdminOnly)
	assert.ErrorIs(t, svc.UpdateOrderStatus(ctx, admin, o.ID, order.StatusScanned), order.ErrStatusNotAllowed)
	assert.ErrorIs(t, svc.UpdateOrderStatus(ctx, admin, 777, order.StatusConfirmed), order.ErrNotFound)

	require.NoError(t, svc.UpdateOrderStatus(ctx, admin, o.ID, order.StatusConfirmed))
	// Same status is a no-op, not an error.
	require.NoError(t, svc.UpdateOrderStatus(ctx, admin, o.ID, order.StatusConfirmed))
	require.NoError(t, svc.UpdateOrderStatus(ctx, admin, o.ID, order.StatusCompleted))

	assert.ErrorIs(t, svc.UpdateOrderStatus(ctx, admin, o.ID, order.StatusPending), order.ErrBadTransition)
}

func TestService_RedeemTicket(t *testing.T) {
	ctx := context.Background()

	newOrder := func(t *testing.T) (order.Service, *memRepo, *order.Order, string) {
		t.Helper()
		repo := newMemRepo()
		svc := newTestService(repo, defaultMenu())
		o, tk, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 2}})
		require.NoError(t, err)
		return svc, repo, o, tk.Code
	}

	t.Run("admin_only", func(t *testing.T) {
		svc, _, _, code := newOrder(t)
		_, err := svc.RedeemTicket(ctx, customer, code)
		assert.ErrorIs(t, err, order.ErrAdminOnly)
	})

	t.Run("unknown_code", func(t *testing.T) {
		svc, _, _, _ := newOrder(t)
		_, err := svc.RedeemTicket(ctx, admin, "no-such-code")
		assert.ErrorIs(t, err, ticket.ErrNotFound)
	})

	t.Run("status_specific_rejections", func(t *testing.T) {
		svc, repo, o, code := newOrder(t)

		_, err := svc.RedeemTicket(ctx, admin, code)
		assert.ErrorIs(t, err, order.ErrOrderNotConfirmed)

		require.NoError(t, repo.UpdateOrderStatus(ctx, o.ID, order.StatusConfirmed))
		_, err = svc.RedeemTicket(ctx, admin, code)
		assert.ErrorIs(t, err, order.ErrOrderNotPaid)

		require.NoError(t, repo.UpdateOrderStatus(ctx, o.ID, order.StatusCancelled))
		_, err = svc.RedeemTicket(ctx, admin, code)
		assert.ErrorIs(t, err, order.ErrOrderCancelled)
	})

	t.Run("completed_order_redeems_once", func(t *testing.T) {
		svc, repo, o, code := newOrder(t)
		require.NoError(t, repo.UpdateOrderStatus(ctx, o.ID, order.StatusCompleted))

		redemption, err := svc.RedeemTicket(ctx, admin, code)
		require.NoError(t, err)
		assert.Equal(t, o.ID, redemption.OrderID)

		got, err := repo.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusScanned, got.Status)

		// Second scan of the same code always fails.
		_, err = svc.RedeemTicket(ctx, admin, code)
		assert.ErrorIs(t, err, order.ErrTicketUsed)
	})
}

func TestService_RedeemTicket_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := newTestService(repo, defaultMenu())

	o, tk, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 1}})
	require.NoError(t, err)
	require.NoError(t, repo.UpdateOrderStatus(ctx, o.ID, order.StatusCompleted))

	const scanners = 32
	results := make(chan error, scanners)

	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < scanners; i++ {
		go func() {
			start.Wait()
			_, err := svc.RedeemTicket(ctx, admin, tk.Code)
			results <- err
		}()
	}
	start.Done()

	var successes, alreadyUsed int
	for i := 0; i < scanners; i++ {
		err := <-results
		switch {
		case err == nil:
			successes++
		case errors.Is(err, order.ErrTicketUsed):
			alreadyUsed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes, "exactly one scan may succeed")
	assert.Equal(t, scanners-1, alreadyUsed)
}

// TestService_CashFlow walks the full cash path: create, pay, confirm,
// advance, redeem.
func TestService_CashFlow(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := newTestService(repo, defaultMenu())

	o, tk, err := svc.CreateOrder(ctx, customer, []order.NewItem{{FoodID: 1, Quantity: 2}})
	require.NoError(t, err)
	require.Equal(t, int64(100000), o.TotalPrice)
	require.Equal(t, order.StatusPending, o.Status)
	require.NotEmpty(t, tk.Code)

	result, err := svc.RecordPayment(ctx, customer, order.PaymentRequest{
		OrderID: o.ID, Method: order.MethodCash, Amount: 100000,
	})
	require.NoError(t, err)
	require.Equal(t, order.PaymentPending, result.Payment.Status)

	p, err := svc.ConfirmCashPayment(ctx, admin, result.Payment.ID)
	require.NoError(t, err)
	require.Equal(t, order.PaymentCompleted, p.Status)

	// Not redeemable until the order itself reaches completed.
	_, err = svc.RedeemTicket(ctx, admin, tk.Code)
	require.ErrorIs(t, err, order.ErrOrderNotPaid)

	require.NoError(t, svc.UpdateOrderStatus(ctx, admin, o.ID, order.StatusCompleted))

	redemption, err := svc.RedeemTicket(ctx, admin, tk.Code)
	require.NoError(t, err)
	require.Equal(t, o.ID, redemption.OrderID)

	got, err := svc.GetOrder(ctx, customer, o.ID)
	require.NoError(t, err)
	require.Equal(t, order.StatusScanned, got.Status)

	_, err = svc.RedeemTicket(ctx, admin, tk.Code)
	require.ErrorIs(t, err, order.ErrTicketUsed)
}
