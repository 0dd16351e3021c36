package storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tubequota/admin/internal/services"
)

const (
	UsersCollection        = "users"
	UsageCollection        = "api_usage"
	AuditCollection        = "audit_logs"
	LegacyLimitsCollection = "user_limits"

	legacyUsageIndex = "userId_1_date_1"
)

var (
	_ services.UserStore  = (*UserStore)(nil)
	_ services.UsageStore = (*UsageStore)(nil)
	_ services.AuditStore = (*AuditStore)(nil)
)

// Mongo owns the client lifecycle. Construct once at startup, Close at
// shutdown.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

func Connect(ctx context.Context, mongoURI, dbName string, forceTLS12 bool) (*Mongo, error) {
	opts := options.Client().ApplyURI(mongoURI)
	if forceTLS12 {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS12,
		})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return &Mongo{client: client, db: client.Database(dbName)}, nil
}

func (m *Mongo) DB() *mongo.Database { return m.db }

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes the stores rely on. Existing indexes are
// left alone; the first error per collection is returned joined.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	var errs []error

	_, err := db.Collection(UsersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "isActive", Value: 1}, {Key: "isBanned", Value: 1}, {Key: "lastActive", Value: -1}}},
	})
	errs = append(errs, err)

	_, err = db.Collection(UsageCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"email": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "date", Value: 1}}},
	})
	errs = append(errs, err)
	if err == nil {
		_, err = relaxLegacyUsageIndex(ctx, db)
		errs = append(errs, err)
	}

	_, err = db.Collection(AuditCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "targetEmail", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "action", Value: 1}, {Key: "timestamp", Value: -1}}},
	})
	errs = append(errs, err)

	return errors.Join(errs...)
}

// relaxLegacyUsageIndex rebuilds the old unique sparse (userId, date) index
// as a partial index over string userIds. Records keyed by email alone carry
// no userId, and the sparse form still indexes them as (null, date), so the
// second user of a day would hit a duplicate key. Reports whether the index
// was rebuilt.
func relaxLegacyUsageIndex(ctx context.Context, db *mongo.Database) (bool, error) {
	indexes := db.Collection(UsageCollection).Indexes()
	cur, err := indexes.List(ctx)
	if err != nil {
		if isNamespaceNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("list usage indexes: %w", err)
	}
	var specs []bson.M
	if err := cur.All(ctx, &specs); err != nil {
		return false, fmt.Errorf("list usage indexes: %w", err)
	}

	for _, spec := range specs {
		if name, _ := spec["name"].(string); name != legacyUsageIndex {
			continue
		}
		if _, ok := spec["partialFilterExpression"]; ok {
			return false, nil
		}
		if _, err := indexes.DropOne(ctx, legacyUsageIndex); err != nil {
			return false, fmt.Errorf("drop %s: %w", legacyUsageIndex, err)
		}
		_, err := indexes.CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().
				SetName(legacyUsageIndex).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"userId": bson.M{"$type": "string"}}),
		})
		if err != nil {
			return false, fmt.Errorf("rebuild %s: %w", legacyUsageIndex, err)
		}
		return true, nil
	}
	return false, nil
}

func isNamespaceNotFound(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == 26
}
