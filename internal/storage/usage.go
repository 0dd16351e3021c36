package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tubequota/admin/internal/models"
)

type usageDoc struct {
	Email     string     `bson:"email"`
	UserID    string     `bson:"userId,omitempty"`
	Date      string     `bson:"date"`
	Count     int        `bson:"count"`
	LastReset *time.Time `bson:"lastReset,omitempty"`
	CreatedAt time.Time  `bson:"createdAt"`
	UpdatedAt time.Time  `bson:"updatedAt"`
}

func usageDocToModel(d usageDoc) models.UsageRecord {
	return models.UsageRecord{
		Email:     d.Email,
		Date:      d.Date,
		Count:     d.Count,
		LastReset: d.LastReset,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type UsageStore struct {
	col *mongo.Collection
}

func NewUsageStore(db *mongo.Database) *UsageStore {
	return &UsageStore{col: db.Collection(UsageCollection)}
}

func (s *UsageStore) GetCount(ctx context.Context, email, date string) (int, error) {
	var d usageDoc
	opts := options.FindOne().SetProjection(bson.M{"count": 1})
	if err := s.col.FindOne(ctx, bson.M{"email": email, "date": date}, opts).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return d.Count, nil
}

// Increment atomically adds one to the (email, date) counter, creating it on
// first use, and returns the new count.
func (s *UsageStore) Increment(ctx context.Context, email, date string, now time.Time) (int, error) {
	now = now.UTC()
	filter := bson.M{"email": email, "date": date}
	update := bson.M{
		"$inc": bson.M{"count": 1},
		"$set": bson.M{"updatedAt": now},
		"$setOnInsert": bson.M{
			"lastReset": now,
			"createdAt": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var d usageDoc
	err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if mongo.IsDuplicateKeyError(err) {
		// Two first-of-day upserts raced; the loser now matches the winner's doc.
		err = s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	}
	if err != nil {
		return 0, err
	}
	return d.Count, nil
}

func (s *UsageStore) SetCount(ctx context.Context, email, date string, count int, now time.Time) error {
	now = now.UTC()
	update := bson.M{
		"$set":         bson.M{"count": count, "lastReset": now, "updatedAt": now},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	_, err := s.col.UpdateOne(ctx, bson.M{"email": email, "date": date}, update, options.Update().SetUpsert(true))
	return err
}

func (s *UsageStore) counts(ctx context.Context, q bson.M) (map[string]int, error) {
	cur, err := s.col.Find(ctx, q, options.Find().SetProjection(bson.M{"email": 1, "count": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make(map[string]int)
	for cur.Next(ctx) {
		var d usageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out[d.Email] += d.Count
	}
	return out, cur.Err()
}

func (s *UsageStore) CountsFor(ctx context.Context, emails []string, date string) (map[string]int, error) {
	if len(emails) == 0 {
		return map[string]int{}, nil
	}
	return s.counts(ctx, bson.M{"date": date, "email": bson.M{"$in": emails}})
}

func (s *UsageStore) CountsOn(ctx context.Context, date string) (map[string]int, error) {
	return s.counts(ctx, bson.M{"date": date, "email": bson.M{"$type": "string"}})
}

func (s *UsageStore) History(ctx context.Context, email string, limit int) ([]models.UsageRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, bson.M{"email": email}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]models.UsageRecord, 0)
	for cur.Next(ctx) {
		var d usageDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, usageDocToModel(d))
	}
	return out, cur.Err()
}

func (s *UsageStore) DailyTotals(ctx context.Context, from, to string) ([]models.DailyStat, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"date": bson.M{"$gte": from, "$lte": to}}}},
		{{Key: "$group", Value: bson.M{
			"_id":           "$date",
			"totalSearches": bson.M{"$sum": "$count"},
			"uniqueUsers":   bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$gt": bson.A{"$count", 0}}, 1, 0}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id", Value: 1}}}},
	}

	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		Date          string `bson:"_id"`
		TotalSearches int    `bson:"totalSearches"`
		UniqueUsers   int    `bson:"uniqueUsers"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]models.DailyStat, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.DailyStat{Date: r.Date, TotalSearches: r.TotalSearches, UniqueUsers: r.UniqueUsers})
	}
	return out, nil
}

// TopUsers ranks users by summed usage over [from, to] and joins name and
// limit from the users collection.
func (s *UsageStore) TopUsers(ctx context.Context, from, to string, n int) ([]models.TopUser, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"date":  bson.M{"$gte": from, "$lte": to},
			"count": bson.M{"$gt": 0},
			"email": bson.M{"$type": "string"},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":        "$email",
			"totalUsage": bson.M{"$sum": "$count"},
			"days":       bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "totalUsage", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: n}},
		{{Key: "$lookup", Value: bson.M{
			"from":         UsersCollection,
			"localField":   "_id",
			"foreignField": "email",
			"as":           "user",
		}}},
		{{Key: "$project", Value: bson.M{
			"totalUsage": 1,
			"days":       1,
			"name":       bson.M{"$arrayElemAt": bson.A{"$user.name", 0}},
			"dailyLimit": bson.M{"$arrayElemAt": bson.A{"$user.dailyLimit", 0}},
		}}},
	}

	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		Email      string `bson:"_id"`
		TotalUsage int    `bson:"totalUsage"`
		Days       int    `bson:"days"`
		Name       string `bson:"name"`
		DailyLimit *int   `bson:"dailyLimit"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]models.TopUser, 0, len(rows))
	for _, r := range rows {
		t := models.TopUser{Email: r.Email, Name: r.Name, TotalUsage: r.TotalUsage, Days: r.Days}
		if r.DailyLimit != nil {
			t.DailyLimit = *r.DailyLimit
		}
		out = append(out, t)
	}
	return out, nil
}
