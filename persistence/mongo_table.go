package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// mongoRecord is the document layout of one table row.
type mongoRecord struct {
	Key       string    `bson:"_id"`
	Value     []byte    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoTable stores every record as a document in one collection named
// after the table.
type MongoTable struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoTable connects to MongoDB and returns a table backed by it
func NewMongoTable(ctx context.Context, config TableConfig, logger *zap.Logger) (*MongoTable, error) {
	uri := config.Mongo.URI
	if uri == "" {
		uri = config.Endpoint
	}
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	opts := options.Client().ApplyURI(uri).SetTimeout(config.timeout())
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.timeout())
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := config.Mongo.Database
	if database == "" {
		database = "agentmem"
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	t := &MongoTable{
		client:     client,
		collection: client.Database(database).Collection(config.tableName()),
		logger:     logger.With(zap.String("component", "table_mongo")),
	}
	t.logger.Info("mongo table initialized",
		zap.String("database", database),
		zap.String("collection", config.tableName()),
	)
	return t, nil
}

// Close disconnects the client
func (t *MongoTable) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.client.Disconnect(ctx)
}

// Ping checks if the table is healthy
func (t *MongoTable) Ping(ctx context.Context) error {
	return t.client.Ping(ctx, nil)
}

// Get returns the value stored under key
func (t *MongoTable) Get(ctx context.Context, key string) ([]byte, error) {
	var rec mongoRecord
	err := t.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// Put creates or replaces key
func (t *MongoTable) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}
	_, err := t.collection.ReplaceOne(ctx,
		bson.M{"_id": key},
		mongoRecord{Key: key, Value: value, UpdatedAt: time.Now().UTC()},
		options.Replace().SetUpsert(true),
	)
	return err
}

// Delete removes key
func (t *MongoTable) Delete(ctx context.Context, key string) (bool, error) {
	res, err := t.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

// Scan returns records whose _id starts with prefix, ordered by key.
// The cursor is the last key of the previous page.
func (t *MongoTable) Scan(ctx context.Context, prefix, cursor string, limit int) ([]Record, string, error) {
	limit = normalizeLimit(limit)

	// fetch one extra row to learn whether another page exists
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit + 1))

	cur, err := t.collection.Find(ctx, scanFilter(prefix, cursor), opts)
	if err != nil {
		return nil, "", err
	}
	defer cur.Close(ctx)

	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, "", err
	}
	out, next := scanPage(docs, limit)
	return out, next, nil
}

// scanFilter matches ids starting with prefix and, past the first page,
// strictly after cursor.
func scanFilter(prefix, cursor string) bson.M {
	idFilter := bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	if cursor != "" {
		idFilter["$gt"] = cursor
	}
	return bson.M{"_id": idFilter}
}

// scanPage cuts docs (limit+1 at most) to one page; next is empty on the
// last page.
func scanPage(docs []mongoRecord, limit int) ([]Record, string) {
	next := ""
	if len(docs) > limit {
		docs = docs[:limit]
		next = docs[len(docs)-1].Key
	}

	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, Record{Key: d.Key, Value: d.Value})
	}
	return out, next
}

// BatchWrite applies deletes then puts as one ordered bulk write.
// MongoDB does not make the bulk atomic without a session; ordering
// guarantees a failure stops the remaining writes.
func (t *MongoTable) BatchWrite(ctx context.Context, puts []Record, deletes []string) error {
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	models := make([]mongo.WriteModel, 0, len(puts)+len(deletes))
	for _, k := range deletes {
		models = append(models, mongo.NewDeleteOneModel().SetFilter(bson.M{"_id": k}))
	}
	for _, r := range puts {
		if r.Key == "" {
			return ErrInvalidInput
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": r.Key}).
			SetReplacement(mongoRecord{Key: r.Key, Value: r.Value, UpdatedAt: now}).
			SetUpsert(true))
	}

	_, err := t.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return err
}

// Ensure MongoTable implements Table
var _ Table = (*MongoTable)(nil)
