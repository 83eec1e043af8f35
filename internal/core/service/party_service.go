package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rl1809/crop-exchange/internal/core/domain"
	"github.com/rl1809/crop-exchange/internal/port"
)

type RegisterPartyRequest struct {
	Name          string
	Role          domain.Role
	WalletAddress string
}

// PartyService is the minimal directory the role chain resolves against.
type PartyService struct {
	deps
}

func NewPartyService(db port.DatabaseRepository, opts ...Option) *PartyService {
	return &PartyService{deps: newDeps(db, nil, opts)}
}

func (s *PartyService) RegisterParty(ctx context.Context, req RegisterPartyRequest) (*domain.Party, error) {
	role := domain.Role(strings.ToUpper(string(req.Role)))
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidArgument, req.Role)
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}

	party := domain.Party{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Role:          role,
		WalletAddress: req.WalletAddress,
		CreatedAt:     s.now(),
	}
	if err := s.db.InsertParty(ctx, party); err != nil {
		return nil, fmt.Errorf("insert party: %w", err)
	}
	return &party, nil
}

func (s *PartyService) GetParty(ctx context.Context, partyID string) (*domain.Party, error) {
	return s.db.GetParty(ctx, partyID)
}
