// Package mongostore persists call sessions in MongoDB. Documents are owned
// by the booking service; only lifecycle fields are written here.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	sessionsCollName    = "sessions"
	usersCollName       = "users"
	astrologersCollName = "astrologers"

	idField           = "_id"
	statusField       = "status"
	sessionTypeField  = "session_type"
	userIDField       = "user_id"
	astrologerIDField = "astrologer_id"
	initiatedByField  = "initiated_by"
	createdAtField    = "created_at"
	updatedAtField    = "updated_at"
	startedAtField    = "started_at"
	endedAtField      = "ended_at"
	endReasonField    = "end_reason"
	pushTokenField    = "fcm_token"
)

type Store struct {
	client      *mongo.Client
	sessions    *mongo.Collection
	users       *mongo.Collection
	astrologers *mongo.Collection
	opTimeout   time.Duration
}

// Open connects a pooled client and verifies the primary is reachable.
func Open(ctx context.Context, uri, database string, opTimeout time.Duration) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetTimeout(opTimeout))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(database)
	log.Info().Str("module", "store.mongo").Str("database", database).Msg("connected")
	return &Store{
		client:      client,
		sessions:    db.Collection(sessionsCollName),
		users:       db.Collection(usersCollName),
		astrologers: db.Collection(astrologersCollName),
		opTimeout:   opTimeout,
	}, nil
}

func (s *Store) op(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

type sessionDoc struct {
	ID           bson.RawValue `bson:"_id"`
	Status       string        `bson:"status"`
	SessionType  string        `bson:"session_type"`
	UserID       bson.RawValue `bson:"user_id"`
	AstrologerID bson.RawValue `bson:"astrologer_id"`
	InitiatedBy  string        `bson:"initiated_by,omitempty"`
	CreatedAt    time.Time     `bson:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at"`
	StartedAt    *time.Time    `bson:"started_at,omitempty"`
	EndedAt      *time.Time    `bson:"ended_at,omitempty"`
	EndReason    string        `bson:"end_reason,omitempty"`
}

func (d *sessionDoc) toDomain() *domain.Session {
	return &domain.Session{
		ID:           domain.SessionID(rawID(d.ID)),
		Status:       domain.Status(d.Status),
		Type:         domain.SessionType(d.SessionType),
		UserID:       domain.UserID(rawID(d.UserID)),
		AstrologerID: domain.UserID(rawID(d.AstrologerID)),
		InitiatedBy:  domain.UserID(d.InitiatedBy),
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		StartedAt:    d.StartedAt,
		EndedAt:      d.EndedAt,
		EndReason:    d.EndReason,
	}
}

// rawID renders ObjectID and string ids the same way clients see them.
func rawID(v bson.RawValue) string {
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	if s, ok := v.StringValueOK(); ok {
		return s
	}
	return ""
}

// idFilter matches either an ObjectID or a plain string _id.
func idFilter(id string) bson.D {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.D{{Key: idField, Value: bson.D{{Key: "$in", Value: bson.A{oid, id}}}}}
	}
	return bson.D{{Key: idField, Value: id}}
}

func (s *Store) FindSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	var doc sessionDoc
	err := s.sessions.FindOne(ctx, idFilter(string(id))).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	return doc.toDomain(), nil
}

// transitionFilter is the id filter plus the optimistic status guard.
func transitionFilter(id domain.SessionID, tr domain.Transition) bson.D {
	filter := idFilter(string(id))
	if len(tr.From) > 0 {
		from := make(bson.A, 0, len(tr.From))
		for _, st := range tr.From {
			from = append(from, string(st))
		}
		filter = append(filter, bson.E{Key: statusField, Value: bson.D{{Key: "$in", Value: from}}})
	}
	return filter
}

func transitionUpdate(tr domain.Transition) bson.D {
	set := bson.D{
		{Key: statusField, Value: string(tr.To)},
		{Key: updatedAtField, Value: tr.At},
	}
	if tr.StartedAt != nil {
		set = append(set, bson.E{Key: startedAtField, Value: *tr.StartedAt})
	}
	if tr.EndedAt != nil {
		set = append(set, bson.E{Key: endedAtField, Value: *tr.EndedAt})
	}
	if tr.EndReason != "" {
		set = append(set, bson.E{Key: endReasonField, Value: tr.EndReason})
	}
	if tr.InitiatedBy != "" {
		set = append(set, bson.E{Key: initiatedByField, Value: string(tr.InitiatedBy)})
	}
	return bson.D{{Key: "$set", Value: set}}
}

func (s *Store) ApplyTransition(ctx context.Context, id domain.SessionID, tr domain.Transition) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	res, err := s.sessions.UpdateOne(ctx, transitionFilter(id, tr), transitionUpdate(tr))
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	n, err := s.sessions.CountDocuments(ctx, idFilter(string(id)), options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("count session %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrSessionNotFound
	}
	return fmt.Errorf("%w: %s lost the status guard", domain.ErrInvalidTransition, tr.Trigger)
}

func (s *Store) PushToken(ctx context.Context, id domain.UserID, role domain.Role) (string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	coll := s.users
	if role == domain.RoleAstrologer {
		coll = s.astrologers
	}
	var doc struct {
		Token string `bson:"fcm_token"`
	}
	opts := options.FindOne().SetProjection(bson.D{{Key: pushTokenField, Value: 1}})
	err := coll.FindOne(ctx, idFilter(string(id)), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) || (err == nil && doc.Token == "") {
		return "", domain.ErrNoPushToken
	}
	if err != nil {
		return "", fmt.Errorf("push token %s: %w", id, err)
	}
	return doc.Token, nil
}

func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongo disconnect: %w", err)
	}
	log.Info().Str("module", "store.mongo").Msg("disconnected")
	return nil
}
