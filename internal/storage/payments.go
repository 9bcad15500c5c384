package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"meetup-bot/internal/models"
)

// CreatePayment inserts a new pending payment.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.StatusPending
	}
	if p.Status != models.StatusPending {
		return fmt.Errorf("new payment in status %s: %w", p.Status, models.ErrInvalidTransition)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if _, err := s.payments.InsertOne(ctx, p); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	return s.findPayment(ctx, bson.M{"_id": id})
}

// OpenPayment returns the latest pending or submitted payment of the user, or
// nil when there is none.
func (s *Store) OpenPayment(ctx context.Context, userID int64) (*models.Payment, error) {
	var p models.Payment
	err := s.payments.FindOne(ctx,
		bson.M{
			"user_id": userID,
			"status":  bson.M{"$in": models.OpenStatuses},
		},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open payment of %d: %w", userID, err)
	}
	return &p, nil
}

func (s *Store) FindPaymentByValidationMessage(ctx context.Context, chatID int64, messageID int) (*models.Payment, error) {
	return s.findPayment(ctx, bson.M{"validation_messages": bson.M{"$elemMatch": bson.M{
		"chat_id":    chatID,
		"message_id": messageID,
	}}})
}

func (s *Store) findPayment(ctx context.Context, filter bson.M) (*models.Payment, error) {
	var p models.Payment
	err := s.payments.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment: %w", err)
	}
	return &p, nil
}

// SubmitPayment attaches the proof and moves the payment pending→submitted.
func (s *Store) SubmitPayment(ctx context.Context, id string, sub models.Submission) (*models.Payment, error) {
	file := sub.File
	return s.transition(ctx, id, models.StatusPending, models.StatusSubmitted, bson.M{
		"file":               &file,
		"minimum_amount":     sub.Minimum,
		"recommended_amount": sub.Recommended,
		"submitted_at":       sub.At,
	})
}

// DecidePayment applies an admin decision to a submitted payment. A payment is
// decided at most once; later attempts get ErrInvalidTransition.
func (s *Store) DecidePayment(ctx context.Context, id string, d models.Decision) (*models.Payment, error) {
	if !models.StatusSubmitted.CanTransition(d.Status) {
		return nil, fmt.Errorf("decision %s: %w", d.Status, models.ErrInvalidTransition)
	}
	set := bson.M{
		"admin_id":      d.AdminID,
		"admin_comment": d.Comment,
		"decided_at":    d.At,
	}
	if d.Status == models.StatusValidated {
		set["paid_amount"] = d.Amount
	}
	return s.transition(ctx, id, models.StatusSubmitted, d.Status, set)
}

// AttachValidationMessages records where the proof was posted.
func (s *Store) AttachValidationMessages(ctx context.Context, id string, refs []models.MessageRef) error {
	res, err := s.payments.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"validation_messages": refs,
	}})
	if err != nil {
		return fmt.Errorf("attach validation messages: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrPaymentNotFound
	}
	return nil
}

// transition updates the payment only while it is still in status from, so
// two concurrent decisions cannot both succeed.
func (s *Store) transition(ctx context.Context, id string, from, to models.PaymentStatus, set bson.M) (*models.Payment, error) {
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, models.ErrInvalidTransition)
	}
	set["status"] = to

	var p models.Payment
	err := s.payments.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		cur, gerr := s.GetPayment(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		terr := cur.Status.CheckTransition(to)
		if terr == nil {
			terr = models.ErrInvalidTransition
		}
		return nil, fmt.Errorf("payment %s is %s: %w", id, cur.Status, terr)
	}
	if err != nil {
		return nil, fmt.Errorf("payment %s -> %s: %w", id, to, err)
	}
	return &p, nil
}
