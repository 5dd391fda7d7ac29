package purchase

import (
	"context"
	"strings"

	"github.com/fjod/studenthub/settlement-service/internal/domain"
)

func (s *Service) requireBuyer(ctx context.Context, actor, orderID string) error {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.BuyerRef != actor {
		return hiddenOrder(actor, orderID)
	}
	return nil
}

func (s *Service) Cancel(ctx context.Context, actor, orderID, reason string) (*domain.Order, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, (&domain.ValidationError{}).Add("reason", "required")
	}
	if err := s.requireBuyer(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.ledger.Cancel(ctx, orderID, actor, reason)
}

func (s *Service) UpdateShippingAddress(ctx context.Context, actor, orderID, address string) (*domain.Order, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, (&domain.ValidationError{}).Add("shipping_address", "required")
	}
	if err := s.requireBuyer(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.ledger.UpdateShippingAddress(ctx, orderID, address)
}

func (s *Service) ConfirmReceipt(ctx context.Context, actor, orderID string) (*domain.Order, error) {
	if err := s.requireBuyer(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.ledger.ConfirmReceipt(ctx, orderID)
}
