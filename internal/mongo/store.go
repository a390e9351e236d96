package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/edge/internal/kv"
	"github.com/appetiteclub/edge/internal/ticketlog"
	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	_ kv.Store         = (*Store)(nil)
	_ ticketlog.Mirror = (*Store)(nil)
)

// Store keeps the key/value documents and the ticket log in MongoDB, for
// sites that run a local mongod instead of the embedded SQLite file.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	kv     *mongo.Collection
	log    *mongo.Collection
	logger aqm.Logger
	config *aqm.Config
}

func NewStore(config *aqm.Config, logger aqm.Logger) *Store {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &Store{
		logger: logger,
		config: config,
	}
}

func (s *Store) Start(ctx context.Context) error {
	mongoURL, dbName := "", ""
	if s.config != nil {
		mongoURL, _ = s.config.GetString("db.mongo.url")
		dbName, _ = s.config.GetString("db.mongo.name")
	}
	if mongoURL == "" {
		mongoURL = "mongodb://localhost:27017"
	}
	if dbName == "" {
		dbName = "appetite_edge"
	}

	clientOptions := options.Client().ApplyURI(mongoURL).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	s.client = client
	s.db = client.Database(dbName)
	s.kv = s.db.Collection("kv")
	s.log = s.db.Collection("ticket_log")

	tableIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "area", Value: 1}, {Key: "table", Value: 1}, {Key: "created_at", Value: -1}},
	}
	if _, err := s.log.Indexes().CreateOne(ctx, tableIndex); err != nil {
		return fmt.Errorf("cannot create ticket_log table index: %w", err)
	}

	s.logger.Infof("Connected to MongoDB: %s, database: %s", mongoURL, dbName)
	return nil
}

func (s *Store) Stop(ctx context.Context) error {
	if s.client != nil {
		if err := s.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		s.logger.Info("Disconnected from MongoDB")
	}
	return nil
}

type kvDocument struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (s *Store) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	var doc kvDocument
	err := s.kv.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cannot read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(doc.Value), dest); err != nil {
		return false, fmt.Errorf("cannot decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) UpsertJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cannot encode %s: %w", key, err)
	}
	doc := kvDocument{Key: key, Value: string(raw), UpdatedAt: time.Now()}
	_, err = s.kv.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cannot write %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.kv.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("cannot delete %s: %w", key, err)
	}
	return nil
}

type logDocument struct {
	ID             string    `bson:"_id"`
	Kind           string    `bson:"kind"`
	Area           string    `bson:"area"`
	Table          string    `bson:"table"`
	IdempotencyKey string    `bson:"idempotency_key,omitempty"`
	Payload        string    `bson:"payload,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func toLogDocument(e ticketlog.Entry) logDocument {
	return logDocument{
		ID:             e.ID,
		Kind:           string(e.Kind),
		Area:           e.Area,
		Table:          e.Table,
		IdempotencyKey: e.IdempotencyKey,
		Payload:        string(e.Payload),
		CreatedAt:      e.CreatedAt,
	}
}

func (d logDocument) entry() ticketlog.Entry {
	e := ticketlog.Entry{
		ID:             d.ID,
		Kind:           ticketlog.Kind(d.Kind),
		Area:           d.Area,
		Table:          d.Table,
		IdempotencyKey: d.IdempotencyKey,
		CreatedAt:      d.CreatedAt,
	}
	if d.Payload != "" {
		e.Payload = json.RawMessage(d.Payload)
	}
	return e
}

func (s *Store) Append(ctx context.Context, e ticketlog.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, err := s.log.InsertOne(ctx, toLogDocument(e)); err != nil {
		return fmt.Errorf("cannot append ticket log: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, f ticketlog.Filter) ([]ticketlog.Entry, error) {
	limit := int64(f.Limit)
	if limit <= 0 {
		limit = 100
	}
	filter := bson.M{}
	if f.Area != "" && f.Table != "" {
		filter["area"] = f.Area
		filter["table"] = f.Table
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cursor, err := s.log.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot list ticket log: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []logDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cannot decode ticket log: %w", err)
	}
	out := make([]ticketlog.Entry, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.entry())
	}
	return out, nil
}
