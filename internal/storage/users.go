package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tubequota/admin/internal/models"
	"github.com/tubequota/admin/internal/services"
)

// userDoc mirrors the users collection. Documents created before quotas
// existed lack dailyLimit and isActive, hence the pointers.
type userDoc struct {
	Email          string     `bson:"email"`
	UserID         string     `bson:"userId,omitempty"`
	Name           string     `bson:"name,omitempty"`
	Image          string     `bson:"image,omitempty"`
	Provider       string     `bson:"provider,omitempty"`
	DailyLimit     *int       `bson:"dailyLimit,omitempty"`
	RemainingLimit *int       `bson:"remainingLimit,omitempty"`
	IsActive       *bool      `bson:"isActive,omitempty"`
	IsBanned       bool       `bson:"isBanned"`
	BannedAt       *time.Time `bson:"bannedAt,omitempty"`
	BannedReason   string     `bson:"bannedReason,omitempty"`
	LastActive     *time.Time `bson:"lastActive,omitempty"`
	LastLogin      *time.Time `bson:"lastLogin,omitempty"`
	CreatedAt      time.Time  `bson:"createdAt"`
	UpdatedAt      time.Time  `bson:"updatedAt"`
}

type UserStore struct {
	col          *mongo.Collection
	defaultLimit int
}

func NewUserStore(db *mongo.Database, defaultLimit int) *UserStore {
	return &UserStore{col: db.Collection(UsersCollection), defaultLimit: defaultLimit}
}

func (s *UserStore) docToModel(d userDoc) models.User {
	u := models.User{
		Email:        d.Email,
		UserID:       d.UserID,
		Name:         d.Name,
		Image:        d.Image,
		Provider:     d.Provider,
		DailyLimit:   s.defaultLimit,
		IsActive:     true,
		IsBanned:     d.IsBanned,
		BannedAt:     d.BannedAt,
		BannedReason: d.BannedReason,
		LastActive:   d.LastActive,
		LastLogin:    d.LastLogin,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	if d.DailyLimit != nil {
		u.DailyLimit = *d.DailyLimit
	}
	if d.RemainingLimit != nil {
		u.RemainingLimit = *d.RemainingLimit
	}
	if d.IsActive != nil {
		u.IsActive = *d.IsActive
	}
	return u
}

func (s *UserStore) GetUser(ctx context.Context, email string) (*models.User, error) {
	var d userDoc
	if err := s.col.FindOne(ctx, bson.M{"email": email}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, services.ErrUserNotFound
		}
		return nil, err
	}
	u := s.docToModel(d)
	return &u, nil
}

func userFilter(filter models.UserFilter) bson.M {
	q := bson.M{}
	if filter.Query != "" {
		re := containsIgnoreCase(filter.Query)
		q["$or"] = []bson.M{
			{"email": re},
			{"name": re},
		}
	}
	switch filter.Status {
	case models.StatusActive:
		q["isActive"] = bson.M{"$ne": false}
		q["isBanned"] = bson.M{"$ne": true}
	case models.StatusInactive:
		q["isActive"] = false
		q["isBanned"] = bson.M{"$ne": true}
	case models.StatusBanned:
		q["isBanned"] = true
	}
	return q
}

func containsIgnoreCase(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

func (s *UserStore) ListUsers(ctx context.Context, filter models.UserFilter, page models.Page) (models.UserPage, error) {
	q := userFilter(filter)

	total, err := s.col.CountDocuments(ctx, q)
	if err != nil {
		return models.UserPage{}, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "email", Value: 1}}).
		SetSkip(page.Skip()).
		SetLimit(int64(page.Size))
	users, err := s.find(ctx, q, opts)
	if err != nil {
		return models.UserPage{}, err
	}
	return models.UserPage{Users: users, Total: total}, nil
}

func (s *UserStore) ListByScope(ctx context.Context, scope models.Scope) ([]models.User, error) {
	q := bson.M{}
	switch scope {
	case models.ScopeActive:
		q["isActive"] = bson.M{"$ne": false}
	case models.ScopeInactive:
		q["isActive"] = false
	}
	opts := options.Find().
		SetProjection(bson.M{"email": 1, "dailyLimit": 1, "isActive": 1}).
		SetSort(bson.D{{Key: "email", Value: 1}})
	return s.find(ctx, q, opts)
}

func (s *UserStore) find(ctx context.Context, q bson.M, opts *options.FindOptions) ([]models.User, error) {
	cur, err := s.col.Find(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := make([]models.User, 0)
	for cur.Next(ctx) {
		var d userDoc
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, s.docToModel(d))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func updateDoc(upd models.UserUpdate, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if upd.DailyLimit != nil {
		set["dailyLimit"] = *upd.DailyLimit
	}
	if upd.RemainingLimit != nil {
		set["remainingLimit"] = *upd.RemainingLimit
	}
	if upd.IsActive != nil {
		set["isActive"] = *upd.IsActive
	}
	if upd.IsBanned != nil {
		set["isBanned"] = *upd.IsBanned
	}
	if upd.BannedAt != nil {
		set["bannedAt"] = *upd.BannedAt
	}
	if upd.BannedReason != nil {
		set["bannedReason"] = *upd.BannedReason
	}
	if upd.LastActive != nil {
		set["lastActive"] = *upd.LastActive
	}

	out := bson.M{"$set": set}
	if upd.ClearBan {
		out["$unset"] = bson.M{"bannedAt": "", "bannedReason": ""}
	}
	return out
}

func (s *UserStore) UpdateUser(ctx context.Context, email string, upd models.UserUpdate) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var d userDoc
	err := s.col.FindOneAndUpdate(ctx, bson.M{"email": email}, updateDoc(upd, time.Now().UTC()), opts).Decode(&d)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, services.ErrUserNotFound
		}
		return nil, err
	}
	u := s.docToModel(d)
	return &u, nil
}

// BulkUpdateLimits sends every update in a single unordered BulkWrite so one
// bad document does not stop the rest.
func (s *UserStore) BulkUpdateLimits(ctx context.Context, updates []models.LimitUpdate) ([]error, error) {
	failures := make([]error, len(updates))
	if len(updates) == 0 {
		return failures, nil
	}

	now := time.Now().UTC()
	writes := make([]mongo.WriteModel, 0, len(updates))
	for _, upd := range updates {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"email": upd.Email}).
			SetUpdate(bson.M{"$set": bson.M{
				"dailyLimit":     upd.DailyLimit,
				"remainingLimit": upd.RemainingLimit,
				"updatedAt":      now,
			}}))
	}

	res, err := s.col.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
			return nil, err
		}
		for _, we := range bwe.WriteErrors {
			if we.Index >= 0 && we.Index < len(failures) {
				failures[we.Index] = errors.New(we.Message)
			}
		}
	}

	written := 0
	for _, f := range failures {
		if f == nil {
			written++
		}
	}
	// A user deleted since the scope was listed matches nothing.
	if res != nil && res.MatchedCount < int64(written) {
		if err := s.markMissing(ctx, updates, failures); err != nil {
			return nil, err
		}
	}
	return failures, nil
}

func (s *UserStore) markMissing(ctx context.Context, updates []models.LimitUpdate, failures []error) error {
	emails := make([]string, 0, len(updates))
	for i, upd := range updates {
		if failures[i] == nil {
			emails = append(emails, upd.Email)
		}
	}
	cur, err := s.col.Find(ctx, bson.M{"email": bson.M{"$in": emails}}, options.Find().SetProjection(bson.M{"email": 1}))
	if err != nil {
		return fmt.Errorf("verify bulk targets: %w", err)
	}
	var found []struct {
		Email string `bson:"email"`
	}
	if err := cur.All(ctx, &found); err != nil {
		return fmt.Errorf("verify bulk targets: %w", err)
	}
	exists := make(map[string]bool, len(found))
	for _, f := range found {
		exists[f.Email] = true
	}
	for i, upd := range updates {
		if failures[i] == nil && !exists[upd.Email] {
			failures[i] = services.ErrUserNotFound
		}
	}
	return nil
}

func (s *UserStore) CountUsers(ctx context.Context, onlineSince time.Time) (models.UserCounts, error) {
	notBanned := bson.M{"$ne": bson.A{"$isBanned", true}}
	active := bson.M{"$and": bson.A{notBanned, bson.M{"$ne": bson.A{"$isActive", false}}}}
	online := bson.M{"$and": bson.A{active, bson.M{"$gte": bson.A{"$lastActive", onlineSince}}}}

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":    nil,
			"total":  bson.M{"$sum": 1},
			"banned": bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$isBanned", true}}, 1, 0}}},
			"active": bson.M{"$sum": bson.M{"$cond": bson.A{active, 1, 0}}},
			"online": bson.M{"$sum": bson.M{"$cond": bson.A{online, 1, 0}}},
		}}},
	}

	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return models.UserCounts{}, err
	}
	defer cur.Close(ctx)

	var rows []struct {
		Total  int64 `bson:"total"`
		Banned int64 `bson:"banned"`
		Active int64 `bson:"active"`
		Online int64 `bson:"online"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return models.UserCounts{}, err
	}
	if len(rows) == 0 {
		return models.UserCounts{}, nil
	}
	r := rows[0]
	return models.UserCounts{
		Total:    r.Total,
		Active:   r.Active,
		Inactive: r.Total - r.Active - r.Banned,
		Banned:   r.Banned,
		Online:   r.Online,
	}, nil
}

func (s *UserStore) ListLimits(ctx context.Context) ([]models.QuotaSnapshot, error) {
	users, err := s.find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"email": 1, "dailyLimit": 1}))
	if err != nil {
		return nil, err
	}
	out := make([]models.QuotaSnapshot, 0, len(users))
	for _, u := range users {
		out = append(out, models.QuotaSnapshot{Email: u.Email, DailyLimit: u.DailyLimit})
	}
	return out, nil
}
