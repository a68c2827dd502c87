package service

import (
	"context"
	"fmt"

	"arbiter/internal/config"
	"arbiter/internal/domain"
	"arbiter/internal/models"

	"github.com/rs/zerolog"
)

type RoomService struct {
	repo   domain.RoomRepository
	logger *zerolog.Logger
}

func NewRoomService(repo domain.RoomRepository, logger *zerolog.Logger) *RoomService {
	return &RoomService{
		repo:   repo,
		logger: logger,
	}
}

func (s *RoomService) ListRooms(ctx context.Context) ([]*models.Room, error) {
	return s.repo.ListRooms(ctx)
}

func (s *RoomService) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	return s.repo.GetRoom(ctx, id)
}

// SyncRooms upserts the catalog. Rooms missing from the list are kept as they
// are, since existing bookings reference them.
func (s *RoomService) SyncRooms(ctx context.Context, rooms []models.Room) error {
	if err := config.ValidateRooms(rooms); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	for i := range rooms {
		if err := s.repo.UpsertRoom(ctx, &rooms[i]); err != nil {
			return fmt.Errorf("sync room %d: %w", rooms[i].ID, err)
		}
	}

	s.logger.Info().Int("count", len(rooms)).Msg("rooms synced")
	return nil
}
