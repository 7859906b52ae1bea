package order

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/quickbite/foodorder/internal/catalog"
	"github.com/quickbite/foodorder/internal/gateway"
	"github.com/quickbite/foodorder/internal/identity"
	"github.com/quickbite/foodorder/internal/ticket"
)

var (
	ErrEmptyOrder       = errors.New("order must contain at least one item")
	ErrInvalidQuantity  = errors.New("item quantity must be greater than zero")
	ErrForbidden        = errors.New("order does not belong to caller")
	ErrAdminOnly        = errors.New("admin role required")
	ErrInvalidAmount    = errors.New("payment amount must be positive")
	ErrInvalidMethod    = errors.New("unknown payment method")
	ErrPaymentCompleted = errors.New("payment already completed")
	ErrOrderClosed      = errors.New("order is closed")
	ErrCannotCancel     = errors.New("order can no longer be cancelled")
	ErrStatusNotAllowed = errors.New("status cannot be set directly")
	ErrBadTransition    = errors.New("invalid order status transition")
	ErrGatewayDisabled  = errors.New("online payments are not configured")

	ErrTicketUsed        = errors.New("ticket already used")
	ErrOrderNotConfirmed = errors.New("order is not yet confirmed")
	ErrOrderNotPaid      = errors.New("order must be paid before pickup")
	ErrOrderCancelled    = errors.New("order was cancelled")
)

// redemptionError maps a non-completed order status to the rejection the
// staff scanner shows.
func redemptionError(st Status) error {
	switch st {
	case StatusPending:
		return ErrOrderNotConfirmed
	case StatusCancelled:
		return ErrOrderCancelled
	default:
		return ErrOrderNotPaid
	}
}

// Menu resolves current catalog prices at order time. Unknown or unavailable
// items surface as catalog.ErrFoodNotFound.
type Menu interface {
	FoodPrice(ctx context.Context, id int64) (int64, error)
}

// Gateway is the online payment adapter seam.
type Gateway interface {
	NewTxnRef(orderID int64) (string, error)
	BuildRedirect(req gateway.RedirectRequest) (string, error)
	VerifyCallback(params url.Values) error
}

type NewItem struct {
	FoodID   int64 `json:"food_id"`
	Quantity int   `json:"quantity"`
}

type PaymentRequest struct {
	OrderID  int64
	Method   PaymentMethod
	Amount   int64
	BankCode string
	ClientIP string
}

type PaymentResult struct {
	Payment    *Payment
	PaymentURL string // set for online payments only
}

type CallbackResult struct {
	OrderID int64
	Success bool
	// Applied is false when the callback was a replay of an already
	// reconciled payment and changed nothing.
	Applied bool
}

type Redemption struct {
	OrderID int64  `json:"order_id"`
	Code    string `json:"ticket_code"`
}

type Service interface {
	CreateOrder(ctx context.Context, actor identity.Principal, items []NewItem) (*Order, *ticket.Ticket, error)
	GetOrder(ctx context.Context, actor identity.Principal, id int64) (*Order, error)
	ListOrders(ctx context.Context, actor identity.Principal) ([]Order, error)
	CancelOrder(ctx context.Context, actor identity.Principal, orderID int64) error
	UpdateOrderStatus(ctx context.Context, actor identity.Principal, orderID int64, newStatus Status) error

	RecordPayment(ctx context.Context, actor identity.Principal, req PaymentRequest) (*PaymentResult, error)
	ConfirmCashPayment(ctx context.Context, actor identity.Principal, paymentID int64) (*Payment, error)
	ReconcileCallback(ctx context.Context, params url.Values) (*CallbackResult, error)

	RedeemTicket(ctx context.Context, actor identity.Principal, code string) (*Redemption, error)
}

type service struct {
	repo    Repository
	menu    Menu
	tickets *ticket.Issuer
	gw      Gateway
}

// NewService wires the lifecycle manager. gw may be nil when online payments
// are not configured.
func NewService(repo Repository, menu Menu, tickets *ticket.Issuer, gw Gateway) Service {
	return &service{repo: repo, menu: menu, tickets: tickets, gw: gw}
}

func (s *service) CreateOrder(ctx context.Context, actor identity.Principal, items []NewItem) (*Order, *ticket.Ticket, error) {
	if len(items) == 0 {
		return nil, nil, ErrEmptyOrder
	}

	o := &Order{
		UserID: actor.UserID,
		Status: StatusPending,
		Items:  make([]Item, 0, len(items)),
	}

	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, nil, fmt.Errorf("%w: food %d", ErrInvalidQuantity, it.FoodID)
		}

		price, err := s.menu.FoodPrice(ctx, it.FoodID)
		if err != nil {
			if errors.Is(err, catalog.ErrFoodNotFound) {
				return nil, nil, fmt.Errorf("%w: food %d", catalog.ErrFoodNotFound, it.FoodID)
			}
			log.Error().Err(err).Int64("food_id", it.FoodID).Msg("service: failed to resolve food price")
			return nil, nil, fmt.Errorf("service: failed to resolve food price: %w", err)
		}

		// Price is snapshotted here; later catalog changes never touch
		// existing orders.
		o.Items = append(o.Items, Item{FoodID: it.FoodID, Quantity: it.Quantity, UnitPrice: price})
		o.TotalPrice += price * int64(it.Quantity)
	}

	code, err := ticket.GenerateCode()
	if err != nil {
		return nil, nil, err
	}

	t, err := s.repo.CreateOrder(ctx, o, code)
	if err != nil {
		log.Error().Err(err).Int64("user_id", actor.UserID).Msg("service: failed to create order")
		return nil, nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().Int64("order_id", o.ID).Int64("user_id", actor.UserID).Int64("total_price", o.TotalPrice).Msg("service: order created")
	return o, t, nil
}

func (s *service) GetOrder(ctx context.Context, actor identity.Principal, id int64) (*Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, actor identity.Principal) ([]Order, error) {
	return s.repo.ListOrdersByUser(ctx, actor.UserID)
}

func (s *service) CancelOrder(ctx context.Context, actor identity.Principal, orderID int64) error {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.UserID != actor.UserID && !actor.IsAdmin() {
		return ErrForbidden
	}

	// A still-pending order leaves no financial trace worth keeping: the
	// whole row set (items, payment, ticket) is removed. Anything further
	// along gets a soft status flip so payment history survives.
	if o.Status == StatusPending {
		if err := s.repo.DeleteOrder(ctx, orderID); err != nil {
			log.Error().Err(err).Int64("order_id", orderID).Msg("service: failed to delete cancelled order")
			return fmt.Errorf("service: failed to delete order: %w", err)
		}
		log.Info().Int64("order_id", orderID).Int64("user_id", actor.UserID).Msg("service: pending order cancelled and removed")
		return nil
	}

	if !CanTransition(o.Status, StatusCancelled) {
		return fmt.Errorf("%w: status %s", ErrCannotCancel, o.Status)
	}

	if err := s.repo.UpdateOrderStatus(ctx, orderID, StatusCancelled); err != nil {
		return fmt.Errorf("service: failed to cancel order: %w", err)
	}

	log.Info().Int64("order_id", orderID).Int64("user_id", actor.UserID).Str("previous_status", o.Status.String()).Msg("service: order cancelled")
	return nil
}

func (s *service) UpdateOrderStatus(ctx context.Context, actor identity.Principal, orderID int64, newStatus Status) error {
	if !actor.IsAdmin() {
		return ErrAdminOnly
	}
	if !adminSettable[newStatus] {
		return fmt.Errorf("%w: %s", ErrStatusNotAllowed, newStatus)
	}

	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	if o.Status == newStatus {
		return nil
	}
	if !CanTransition(o.Status, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, o.Status, newStatus)
	}

	if err := s.repo.UpdateOrderStatus(ctx, orderID, newStatus); err != nil {
		return fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Int64("order_id", orderID).Int64("admin_id", actor.UserID).
		Str("old_status", o.Status.String()).Str("new_status", newStatus.String()).
		Msg("service: order status updated")
	return nil
}

func (s *service) RecordPayment(ctx context.Context, actor identity.Principal, req PaymentRequest) (*PaymentResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Method != MethodCash && req.Method != MethodOnline {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMethod, req.Method)
	}

	o, err := s.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actor.UserID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if o.Status == StatusCancelled || o.Status == StatusScanned {
		return nil, fmt.Errorf("%w: status %s", ErrOrderClosed, o.Status)
	}

	if existing, err := s.repo.PaymentByOrder(ctx, req.OrderID); err == nil {
		if existing.Status == PaymentCompleted {
			return nil, ErrPaymentCompleted
		}
		// Stale pending/failed/cancelled attempt: purged by ReplacePayment.
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return nil, fmt.Errorf("service: failed to check existing payment: %w", err)
	}

	p := &Payment{
		OrderID: req.OrderID,
		Method:  req.Method,
		Amount:  req.Amount,
		Status:  PaymentPending,
	}

	result := &PaymentResult{Payment: p}

	switch req.Method {
	case MethodCash:
		advanceTo := Status("")
		if o.Status == StatusPending {
			advanceTo = StatusConfirmed
		}
		if err := s.repo.ReplacePayment(ctx, p, advanceTo); err != nil {
			if errors.Is(err, ErrPaymentCompleted) {
				return nil, ErrPaymentCompleted
			}
			log.Error().Err(err).Int64("order_id", req.OrderID).Msg("service: failed to record cash payment")
			return nil, fmt.Errorf("service: failed to record cash payment: %w", err)
		}

	case MethodOnline:
		if s.gw == nil {
			return nil, ErrGatewayDisabled
		}

		txnRef, err := s.gw.NewTxnRef(o.ID)
		if err != nil {
			return nil, err
		}

		redirectURL, err := s.gw.BuildRedirect(gateway.RedirectRequest{
			TxnRef:    txnRef,
			Amount:    req.Amount,
			OrderInfo: fmt.Sprintf("Payment for order %d", o.ID),
			BankCode:  req.BankCode,
			ClientIP:  req.ClientIP,
		})
		if err != nil {
			log.Error().Err(err).Int64("order_id", o.ID).Msg("service: failed to build gateway redirect")
			return nil, fmt.Errorf("service: failed to build gateway redirect: %w", err)
		}

		p.TxnRef = txnRef
		if err := s.repo.ReplacePayment(ctx, p, ""); err != nil {
			if errors.Is(err, ErrPaymentCompleted) {
				return nil, ErrPaymentCompleted
			}
			log.Error().Err(err).Int64("order_id", req.OrderID).Msg("service: failed to record online payment")
			return nil, fmt.Errorf("service: failed to record online payment: %w", err)
		}
		result.PaymentURL = redirectURL
	}

	// Every order gets its ticket at creation; this covers rows predating
	// that rule and costs one lookup.
	if _, err := s.tickets.Issue(ctx, o.ID); err != nil {
		log.Error().Err(err).Int64("order_id", o.ID).Msg("service: failed to ensure ticket exists")
		return nil, err
	}

	log.Info().Int64("order_id", o.ID).Int64("payment_id", p.ID).
		Str("method", string(p.Method)).Int64("amount", p.Amount).
		Msg("service: payment recorded")
	return result, nil
}

func (s *service) ConfirmCashPayment(ctx context.Context, actor identity.Principal, paymentID int64) (*Payment, error) {
	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}

	p, err := s.repo.CompleteCashPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) || errors.Is(err, ErrPaymentCompleted) {
			return nil, err
		}
		log.Error().Err(err).Int64("payment_id", paymentID).Int64("admin_id", actor.UserID).Msg("service: failed to confirm cash payment")
		return nil, fmt.Errorf("service: failed to confirm cash payment: %w", err)
	}

	log.Info().Int64("payment_id", p.ID).Int64("order_id", p.OrderID).Int64("admin_id", actor.UserID).Msg("service: cash payment confirmed")
	return p, nil
}

func (s *service) ReconcileCallback(ctx context.Context, params url.Values) (*CallbackResult, error) {
	if s.gw == nil {
		return nil, ErrGatewayDisabled
	}

	// Fail closed before touching any state.
	if err := s.gw.VerifyCallback(params); err != nil {
		log.Warn().Err(err).Msg("service: rejected gateway callback")
		return nil, err
	}

	txnRef, success := gateway.Outcome(params)
	orderID, err := gateway.OrderIDFromTxnRef(txnRef)
	if err != nil {
		log.Warn().Err(err).Str("txn_ref", txnRef).Msg("service: gateway callback with malformed txn ref")
		return nil, err
	}

	applied, err := s.repo.ApplyGatewayOutcome(ctx, orderID, txnRef, success)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, err
		}
		log.Error().Err(err).Int64("order_id", orderID).Msg("service: failed to apply gateway outcome")
		return nil, fmt.Errorf("service: failed to apply gateway outcome: %w", err)
	}

	if !applied {
		log.Warn().Int64("order_id", orderID).Str("txn_ref", txnRef).Bool("success", success).
			Msg("service: gateway callback replayed against settled payment, ignored")
	} else {
		log.Info().Int64("order_id", orderID).Str("txn_ref", txnRef).Bool("success", success).
			Msg("service: gateway outcome reconciled")
	}

	return &CallbackResult{OrderID: orderID, Success: success, Applied: applied}, nil
}

func (s *service) RedeemTicket(ctx context.Context, actor identity.Principal, code string) (*Redemption, error) {
	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if code == "" {
		return nil, ticket.ErrNotFound
	}

	t, _, err := s.repo.RedeemTicket(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrNotFound),
			errors.Is(err, ErrTicketUsed),
			errors.Is(err, ErrOrderNotConfirmed),
			errors.Is(err, ErrOrderNotPaid),
			errors.Is(err, ErrOrderCancelled):
			log.Warn().Err(err).Int64("admin_id", actor.UserID).Msg("service: ticket redemption rejected")
			return nil, err
		}
		log.Error().Err(err).Int64("admin_id", actor.UserID).Msg("service: failed to redeem ticket")
		return nil, fmt.Errorf("service: failed to redeem ticket: %w", err)
	}

	log.Info().Int64("order_id", t.OrderID).Int64("ticket_id", t.ID).Int64("admin_id", actor.UserID).Msg("service: ticket redeemed")
	return &Redemption{OrderID: t.OrderID, Code: t.Code}, nil
}
