package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"meetup-bot/internal/models"
)

type statsRow struct {
	ID struct {
		City   models.City          `bson:"city"`
		Status models.PaymentStatus `bson:"status"`
	} `bson:"_id"`
	Count  int `bson:"count"`
	Amount int `bson:"amount"`
}

// Stats counts active registrations per city and payment status.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: activeUsers()}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "city", Value: "$target_city"},
				{Key: "status", Value: "$payment_status"},
			}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "amount", Value: bson.D{{Key: "$sum", Value: "$payment_amount"}}},
		}}},
	}
	cur, err := s.users.Aggregate(ctx, pipeline)
	if err != nil {
		return models.Stats{}, fmt.Errorf("stats: %w", err)
	}
	var rows []statsRow
	if err := cur.All(ctx, &rows); err != nil {
		return models.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return foldStats(rows), nil
}

func foldStats(rows []statsRow) models.Stats {
	byCity := map[models.City]*models.CityStats{}
	for _, c := range models.Cities {
		byCity[c] = &models.CityStats{City: c, ByStatus: map[models.PaymentStatus]int{}}
	}

	var out models.Stats
	for _, r := range rows {
		cs, ok := byCity[r.ID.City]
		if !ok {
			continue
		}
		cs.Registered += r.Count
		cs.ByStatus[r.ID.Status] += r.Count
		if r.ID.Status == models.StatusValidated {
			cs.Collected += r.Amount
		}
	}
	for _, c := range models.Cities {
		cs := byCity[c]
		out.Cities = append(out.Cities, *cs)
		out.Registered += cs.Registered
		out.Collected += cs.Collected
	}
	return out
}
