package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joakey/joakey/backend/internal/models"
	"github.com/joakey/joakey/backend/internal/store"
)

// PaymentWindow is how long a buyer has to pay after an order summary.
const PaymentWindow = 30 * time.Minute

// PaymentConfig is the transfer destination shown to buyers.
type PaymentConfig struct {
	VANumber    string
	AccountName string
}

// OrderService prices rank-boosting orders.
type OrderService struct {
	profiles store.ProfileStore
	payment  PaymentConfig
	now      func() time.Time
}

// NewOrderService creates a new OrderService instance.
func NewOrderService(profiles store.ProfileStore, payment PaymentConfig) *OrderService {
	return &OrderService{profiles: profiles, payment: payment, now: time.Now}
}

// Summarize prices buyerID's order against the jockey's listed services.
func (s *OrderService) Summarize(ctx context.Context, buyerID string, req models.OrderSummaryRequest) (*models.OrderSummary, error) {
	req.Game = strings.TrimSpace(req.Game)
	req.FromRank = strings.TrimSpace(req.FromRank)
	req.ToRank = strings.TrimSpace(req.ToRank)
	if req.JockeyID == "" || req.Game == "" || req.FromRank == "" || req.ToRank == "" {
		return nil, fmt.Errorf("%w: jockey_id, game, from_rank and to_rank are required", ErrInvalid)
	}
	if req.JockeyID == buyerID {
		return nil, fmt.Errorf("%w: cannot order from yourself", ErrInvalid)
	}

	jockey, err := s.profiles.GetProfile(ctx, req.JockeyID)
	if err != nil {
		return nil, err
	}
	if jockey.Role != models.RoleJockey {
		return nil, fmt.Errorf("%w: %s is not a jockey", ErrInvalid, jockey.Username)
	}

	var offer *models.JockeyService
	for i := range jockey.JockeyServices {
		svc := &jockey.JockeyServices[i]
		if strings.EqualFold(svc.Game, req.Game) &&
			strings.EqualFold(svc.FromRank, req.FromRank) &&
			strings.EqualFold(svc.ToRank, req.ToRank) {
			offer = svc
			break
		}
	}
	if offer == nil {
		return nil, fmt.Errorf("%w: jockey does not offer %s %s to %s", store.ErrNotFound, req.Game, req.FromRank, req.ToRank)
	}
	if offer.Price <= 0 {
		return nil, fmt.Errorf("%w: offer has no price", ErrInvalid)
	}

	name := jockey.Name
	if name == "" {
		name = jockey.Username
	}
	return &models.OrderSummary{
		JockeyID:    jockey.ID,
		JockeyName:  name,
		Game:        offer.Game,
		FromRank:    offer.FromRank,
		ToRank:      offer.ToRank,
		Price:       offer.Price,
		VANumber:    s.payment.VANumber,
		AccountName: s.payment.AccountName,
		PayBefore:   s.now().UTC().Add(PaymentWindow),
	}, nil
}
