package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
	applogger "SignalRelay/pkg/logger"

	"github.com/jonboulle/clockwork"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoCounterKey = "signals"

// MongoSignalStore implements SignalStore on a MongoDB collection. Numeric ids come from
// a counters collection incremented atomically.
type MongoSignalStore struct {
	client   *mongo.Client
	coll     *mongo.Collection
	counters *mongo.Collection
	l        *applogger.Logger
	clock    clockwork.Clock
}

// ConnectMongo dials uri and verifies the connection with a primary ping.
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

func NewMongoSignalStore(client *mongo.Client, database, collection string, l *applogger.Logger) *MongoSignalStore {
	if collection == "" {
		collection = "signals"
	}
	if l == nil {
		l = applogger.NewNop()
	}
	db := client.Database(database)
	return &MongoSignalStore{
		client:   client,
		coll:     db.Collection(collection),
		counters: db.Collection("counters"),
		l:        l,
		clock:    clockwork.NewRealClock(),
	}
}

var _ domrepo.SignalStore = (*MongoSignalStore)(nil)

// Init creates the query indexes.
func (s *MongoSignalStore) Init(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "session", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create signal indexes: %w", err)
	}
	s.l.Info("mongo signal store ready", applogger.String("collection", s.coll.Name()))
	return nil
}

func (s *MongoSignalStore) nextID(ctx context.Context) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": mongoCounterKey},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func (s *MongoSignalStore) Save(ctx context.Context, in *models.Signal) (*models.Signal, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil signal", models.ErrStorage)
	}
	rec := in.Clone()
	rec.ApplyDefaults()
	if rec.ID == 0 {
		id, err := s.nextID(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: allocate id: %v", models.ErrStorage, err)
		}
		rec.ID = id
	}
	stampMongoTimes(rec, s.clock.Now())

	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		s.l.Error("mongo save signal error", applogger.Int64("id", rec.ID), applogger.Error(err))
		return nil, fmt.Errorf("%w: save signal: %v", models.ErrStorage, err)
	}
	return rec, nil
}

// mongo keeps millisecond precision; the returned record must equal what a later read decodes
func mongoTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func stampMongoTimes(rec *models.Signal, now time.Time) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.CreatedAt = mongoTime(rec.CreatedAt)
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	rec.UpdatedAt = mongoTime(rec.UpdatedAt)
}

func (s *MongoSignalStore) Query(ctx context.Context, f models.SignalFilter) ([]*models.Signal, error) {
	f = f.Normalize()

	filter := bson.M{}
	if f.Type != "" {
		filter["type"] = f.Type
	}
	if f.Session != "" {
		filter["session"] = f.Session
	}
	if f.Symbol != "" {
		filter["symbol"] = f.Symbol
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(f.Limit))
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: query signals: %v", models.ErrStorage, err)
	}
	defer cursor.Close(ctx)

	out := make([]*models.Signal, 0, f.Limit)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%w: decode signals: %v", models.ErrStorage, err)
	}
	return out, nil
}

func (s *MongoSignalStore) Delete(ctx context.Context, id int64) (int64, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return 0, fmt.Errorf("%w: delete signal: %v", models.ErrStorage, err)
	}
	return res.DeletedCount, nil
}

func (s *MongoSignalStore) UpdateStatus(ctx context.Context, id int64, status models.Status, at time.Time) (*models.Signal, error) {
	var out models.Signal
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "updatedAt": mongoTime(at)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("signal %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: update status: %v", models.ErrStorage, err)
	}
	return &out, nil
}

func (s *MongoSignalStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoSignalStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
