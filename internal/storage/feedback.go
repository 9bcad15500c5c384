package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"meetup-bot/internal/models"
)

func (s *Store) SaveFeedback(ctx context.Context, f *models.Feedback) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if _, err := s.feedback.InsertOne(ctx, f); err != nil {
		return fmt.Errorf("save feedback of %d: %w", f.UserID, err)
	}
	return nil
}
