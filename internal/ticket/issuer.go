package ticket

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

var ErrNotFound = errors.New("ticket not found")

// Store is the persistence surface the issuer needs. InsertTicket must be
// a no-op returning the existing row when a ticket for the order already
// exists, so that issuing stays idempotent under concurrent attempts.
type Store interface {
	TicketByOrder(ctx context.Context, orderID int64) (*Ticket, error)
	InsertTicket(ctx context.Context, orderID int64, code string) (*Ticket, error)
}

// Issuer mints at most one redemption code per order.
type Issuer struct {
	store Store
}

func NewIssuer(store Store) *Issuer {
	return &Issuer{store: store}
}

// Issue returns the order's ticket, creating it on first call.
func (i *Issuer) Issue(ctx context.Context, orderID int64) (*Ticket, error) {
	existing, err := i.store.TicketByOrder(ctx, orderID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("ticket: failed to look up ticket for order %d: %w", orderID, err)
	}

	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}

	t, err := i.store.InsertTicket(ctx, orderID, code)
	if err != nil {
		log.Error().Err(err).Int64("order_id", orderID).Msg("ticket: failed to insert ticket")
		return nil, fmt.Errorf("ticket: failed to insert ticket for order %d: %w", orderID, err)
	}

	log.Info().Int64("order_id", orderID).Int64("ticket_id", t.ID).Msg("ticket: issued")
	return t, nil
}
