package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tubequota/admin/internal/models"
)

type auditDoc struct {
	// UUID string; entries from older deployments carry ObjectIDs.
	ID          interface{}            `bson:"_id"`
	Email       string                 `bson:"email"`
	Action      string                 `bson:"action"`
	TargetEmail string                 `bson:"targetEmail,omitempty"`
	Changes     map[string]interface{} `bson:"changes,omitempty"`
	Timestamp   time.Time              `bson:"timestamp"`
	Status      string                 `bson:"status"`
}

type AuditStore struct {
	col *mongo.Collection
}

func NewAuditStore(db *mongo.Database) *AuditStore {
	return &AuditStore{col: db.Collection(AuditCollection)}
}

func (s *AuditStore) Insert(ctx context.Context, entry models.AuditLogEntry) error {
	_, err := s.col.InsertOne(ctx, auditDoc{
		ID:          entry.ID,
		Email:       entry.Email,
		Action:      entry.Action,
		TargetEmail: entry.TargetEmail,
		Changes:     entry.Changes,
		Timestamp:   entry.Timestamp,
		Status:      entry.Status,
	})
	return err
}

func (s *AuditStore) Find(ctx context.Context, filter models.AuditFilter, limit int) ([]models.AuditLogEntry, error) {
	q := bson.M{}
	if filter.TargetEmail != "" {
		q["targetEmail"] = filter.TargetEmail
	}
	if filter.Action != "" {
		q["action"] = filter.Action
	}
	if filter.From != nil || filter.To != nil {
		ts := bson.M{}
		if filter.From != nil {
			ts["$gte"] = *filter.From
		}
		if filter.To != nil {
			ts["$lte"] = *filter.To
		}
		q["timestamp"] = ts
	}

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]models.AuditLogEntry, 0)
	for cur.Next(ctx) {
		var raw auditDoc
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		out = append(out, models.AuditLogEntry{
			ID:          idString(raw.ID),
			Email:       raw.Email,
			Action:      raw.Action,
			TargetEmail: raw.TargetEmail,
			Changes:     raw.Changes,
			Timestamp:   raw.Timestamp,
			Status:      statusOrDefault(raw.Status),
		})
	}
	return out, cur.Err()
}

func idString(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	case nil:
		return ""
	}
	return fmt.Sprint(id)
}

func statusOrDefault(status string) string {
	if status == "" {
		return models.AuditSuccess
	}
	return status
}
