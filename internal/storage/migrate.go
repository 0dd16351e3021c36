package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// legacyLimitDoc is a record of the retired user_limits collection.
type legacyLimitDoc struct {
	Email          string `bson:"email"`
	UserID         string `bson:"userId"`
	DailyLimit     int    `bson:"dailyLimit"`
	RemainingLimit int    `bson:"remainingLimit"`
	IsDeactivated  bool   `bson:"isDeactivated"`
}

type MigrationReport struct {
	Legacy       int    `json:"legacy"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Backfilled   int64  `json:"backfilled"`
	UsageLinked  int64  `json:"usageLinked"`
	IndexRelaxed bool   `json:"indexRelaxed"`
	BackupPath   string `json:"backupPath,omitempty"`
	Dropped      bool   `json:"dropped"`
}

// Migrator folds user_limits into users and backfills quota defaults.
type Migrator struct {
	db           *mongo.Database
	backup       *JSONBackup
	defaultLimit int
	log          zerolog.Logger
}

func NewMigrator(db *mongo.Database, backup *JSONBackup, defaultLimit int, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, backup: backup, defaultLimit: defaultLimit, log: log.With().Str("component", "migrate").Logger()}
}

// Run is idempotent. The legacy collection is only dropped when drop is set
// and a backup was written (or there was nothing to back up).
func (m *Migrator) Run(ctx context.Context, drop bool) (*MigrationReport, error) {
	report := &MigrationReport{}

	relaxed, err := relaxLegacyUsageIndex(ctx, m.db)
	if err != nil {
		return nil, err
	}
	report.IndexRelaxed = relaxed
	if relaxed {
		m.log.Info().Str("index", legacyUsageIndex).Msg("legacy usage index rebuilt as partial")
	}

	legacyCol := m.db.Collection(LegacyLimitsCollection)
	users := m.db.Collection(UsersCollection)

	var raw []bson.M
	cur, err := legacyCol.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", LegacyLimitsCollection, err)
	}
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("read %s: %w", LegacyLimitsCollection, err)
	}
	report.Legacy = len(raw)

	if len(raw) > 0 && m.backup != nil {
		path, err := m.backup.Save(LegacyLimitsCollection, raw, time.Now())
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", LegacyLimitsCollection, err)
		}
		report.BackupPath = path
		m.log.Info().Str("path", path).Int("docs", len(raw)).Msg("legacy limits backed up")
	}

	for _, doc := range raw {
		var limit legacyLimitDoc
		b, err := bson.Marshal(doc)
		if err == nil {
			err = bson.Unmarshal(b, &limit)
		}
		if err != nil {
			m.log.Warn().Err(err).Interface("id", doc["_id"]).Msg("undecodable legacy limit, skipped")
			report.Skipped++
			continue
		}

		match := bson.A{}
		if limit.Email != "" {
			match = append(match, bson.M{"email": limit.Email})
		}
		if limit.UserID != "" {
			match = append(match, bson.M{"userId": limit.UserID})
		}
		if len(match) == 0 {
			report.Skipped++
			continue
		}

		daily := limit.DailyLimit
		if daily == 0 {
			daily = m.defaultLimit
		}
		rem := limit.RemainingLimit
		if rem == 0 {
			rem = daily
		}

		res, err := users.UpdateOne(ctx, bson.M{"$or": match}, bson.M{"$set": bson.M{
			"dailyLimit":     daily,
			"remainingLimit": rem,
			"isActive":       !limit.IsDeactivated,
			"updatedAt":      time.Now().UTC(),
		}})
		if err != nil {
			return nil, fmt.Errorf("migrate %s: %w", limit.Email, err)
		}
		if res.MatchedCount == 0 {
			m.log.Warn().Str("email", limit.Email).Str("userId", limit.UserID).Msg("no matching user, skipped")
			report.Skipped++
			continue
		}
		report.Updated++
	}

	backfilled, err := m.backfillDefaults(ctx, users)
	if err != nil {
		return nil, err
	}
	report.Backfilled = backfilled

	linked, err := m.linkUsageEmails(ctx, users)
	if err != nil {
		return nil, err
	}
	report.UsageLinked = linked

	if drop && (report.Legacy == 0 || report.BackupPath != "") {
		if err := legacyCol.Drop(ctx); err != nil {
			return nil, fmt.Errorf("drop %s: %w", LegacyLimitsCollection, err)
		}
		report.Dropped = true
	} else if drop {
		m.log.Warn().Msg("no backup written, legacy collection kept")
	}
	return report, nil
}

func (m *Migrator) backfillDefaults(ctx context.Context, users *mongo.Collection) (int64, error) {
	defaults := []struct {
		field string
		value interface{}
	}{
		{"dailyLimit", m.defaultLimit},
		{"isActive", true},
		{"isBanned", false},
	}

	var total int64
	for _, d := range defaults {
		res, err := users.UpdateMany(ctx,
			bson.M{d.field: bson.M{"$exists": false}},
			bson.M{"$set": bson.M{d.field: d.value}},
		)
		if err != nil {
			return total, fmt.Errorf("backfill %s: %w", d.field, err)
		}
		total += res.ModifiedCount
	}
	return total, nil
}

// linkUsageEmails fills email on usage records that were keyed by userId only.
func (m *Migrator) linkUsageEmails(ctx context.Context, users *mongo.Collection) (int64, error) {
	usage := m.db.Collection(UsageCollection)
	orphan := bson.M{"email": bson.M{"$exists": false}, "userId": bson.M{"$type": "string"}}

	ids, err := usage.Distinct(ctx, "userId", orphan)
	if err != nil {
		return 0, fmt.Errorf("distinct usage userIds: %w", err)
	}

	var linked int64
	for _, id := range ids {
		userID, ok := id.(string)
		if !ok {
			continue
		}
		var u struct {
			Email string `bson:"email"`
		}
		err := users.FindOne(ctx, bson.M{"userId": userID}, options.FindOne().SetProjection(bson.M{"email": 1})).Decode(&u)
		if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && u.Email == "") {
			continue
		}
		if err != nil {
			return linked, fmt.Errorf("lookup user %s: %w", userID, err)
		}
		res, err := usage.UpdateMany(ctx,
			bson.M{"userId": userID, "email": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"email": u.Email}},
		)
		if err != nil {
			// A record for the same (email, date) already exists.
			if mongo.IsDuplicateKeyError(err) {
				m.log.Warn().Str("userId", userID).Msg("usage already linked for some days")
				continue
			}
			return linked, fmt.Errorf("link usage %s: %w", userID, err)
		}
		linked += res.ModifiedCount
	}
	return linked, nil
}
