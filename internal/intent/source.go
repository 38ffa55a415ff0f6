package intent

import (
	"context"

	"github.com/clearhold/clearhold/internal/escrow"
)

// EscrowSource adapts the intent service to the escrow API, letting an
// escrow be minted straight from a pending intent.
type EscrowSource struct {
	service *Service
}

// NewEscrowSource wraps a service as an escrow intent source.
func NewEscrowSource(service *Service) *EscrowSource {
	return &EscrowSource{service: service}
}

func (s *EscrowSource) PendingIntent(ctx context.Context, orderID string) (*escrow.OrderIntent, error) {
	in, err := s.service.Pending(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &escrow.OrderIntent{
		OrderID:      in.OrderID,
		Payer:        in.Payer,
		Payee:        in.Payee,
		Asset:        in.Asset,
		Amount:       in.Amount,
		Metadata:     in.Metadata,
		ReleaseDelay: in.ReleaseDelay,
	}, nil
}

func (s *EscrowSource) MarkPaid(ctx context.Context, orderID, escrowID string) error {
	return s.service.MarkPaid(ctx, orderID, escrowID)
}
