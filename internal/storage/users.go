package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"meetup-bot/internal/models"
)

// GetUser returns nil, nil when the user has not registered yet.
func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// SaveUser upserts a validated user record. created_at is written once and a
// previous cancellation is cleared.
func (s *Store) SaveUser(ctx context.Context, u *models.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	set := bson.M{
		"username":        u.Username,
		"full_name":       u.FullName,
		"target_city":     u.City,
		"graduate_type":   u.GraduateType,
		"graduation_year": u.GraduationYear,
		"class_letter":    u.ClassLetter,
		"payment_status":  u.PaymentStatus,
		"payment_amount":  u.PaymentAmount,
		"updated_at":      now,
	}
	_, err := s.users.UpdateOne(ctx,
		bson.M{"_id": u.ID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"created_at": now},
			"$unset":       bson.M{"canceled_at": ""},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save user %d: %w", u.ID, err)
	}
	u.UpdatedAt = now
	u.CanceledAt = nil
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	return nil
}

func (s *Store) SetUserPayment(ctx context.Context, userID int64, status models.PaymentStatus, amount int) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{
			"payment_status": status,
			"payment_amount": amount,
			"updated_at":     time.Now().UTC(),
		}},
	)
	if err != nil {
		return fmt.Errorf("set payment of user %d: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %d: %w", userID, models.ErrUserNotFound)
	}
	return nil
}

// CancelUser marks an active registration as canceled.
func (s *Store) CancelUser(ctx context.Context, userID int64, at time.Time) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": userID, "canceled_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"canceled_at": at, "updated_at": at}},
	)
	if err != nil {
		return fmt.Errorf("cancel user %d: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user %d: %w", userID, models.ErrUserNotFound)
	}
	return nil
}

// activeUsers matches registrations that were not canceled.
func activeUsers() bson.M {
	return bson.M{"canceled_at": bson.M{"$exists": false}}
}

// ListUsers returns active users ordered by city and registration time. With
// statuses given only users in one of them are returned.
func (s *Store) ListUsers(ctx context.Context, statuses ...models.PaymentStatus) ([]models.User, error) {
	filter := activeUsers()
	if len(statuses) > 0 {
		filter["payment_status"] = bson.M{"$in": statuses}
	}
	cur, err := s.users.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "target_city", Value: 1}, {Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	var out []models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}
