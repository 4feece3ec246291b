package groups

import (
	"context"
	"log/slog"

	"github.com/msplit/msplit/internal/phase"
)

// Service serves the group list to signed-in devices.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs a group service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// List returns identityID's groups when the device's phase is Authenticated.
// The result is never nil.
func (s *Service) List(ctx context.Context, current phase.Phase, identityID string) ([]Group, error) {
	if current != phase.Authenticated {
		return nil, ErrNotAuthenticated
	}
	groups, err := s.repo.ListForMember(ctx, identityID)
	if err != nil {
		s.logger.Warn("list groups failed", "identity_id", identityID, "error", err)
		return nil, err
	}
	if groups == nil {
		groups = []Group{}
	}
	return groups, nil
}
