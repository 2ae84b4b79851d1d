package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func TestNewMongoTable_InvalidURI(t *testing.T) {
	cfg := DefaultTableConfig()
	cfg.Backend = BackendMongo
	cfg.Mongo.URI = "http://localhost:27017"

	table, err := NewMongoTable(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, table)
	assert.Contains(t, err.Error(), "failed to connect to MongoDB")
}

func TestNewMongoTable_Unreachable(t *testing.T) {
	cfg := DefaultTableConfig()
	cfg.Backend = BackendMongo
	cfg.Mongo.URI = "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=200"
	cfg.Timeout = 300 * time.Millisecond

	table, err := NewMongoTable(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Nil(t, table)
	assert.Contains(t, err.Error(), "failed to ping MongoDB")
}

func TestScanFilter(t *testing.T) {
	filter := scanFilter("conv:a.b", "")
	id, ok := filter["_id"].(bson.M)
	require.True(t, ok)
	assert.NotContains(t, id, "$gt")

	pattern, ok := id["$regex"].(string)
	require.True(t, ok)
	re := regexp.MustCompile(pattern)
	assert.True(t, re.MatchString("conv:a.b1"))
	assert.False(t, re.MatchString("conv:aXb1"), "prefix is matched literally")
	assert.False(t, re.MatchString("x-conv:a.b1"), "prefix is anchored")

	filter = scanFilter("item:", "item:k2")
	id = filter["_id"].(bson.M)
	assert.Equal(t, "item:k2", id["$gt"])
}

func TestScanPage(t *testing.T) {
	docs := []mongoRecord{
		{Key: "k1", Value: []byte("1")},
		{Key: "k2", Value: []byte("2")},
		{Key: "k3", Value: []byte("3")},
	}

	tests := []struct {
		name     string
		limit    int
		wantKeys []string
		wantNext string
	}{
		{"more pages", 2, []string{"k1", "k2"}, "k2"},
		{"exact fit", 3, []string{"k1", "k2", "k3"}, ""},
		{"under limit", 10, []string{"k1", "k2", "k3"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, next := scanPage(docs, tt.limit)
			keys := make([]string, len(records))
			for i, r := range records {
				keys[i] = r.Key
			}
			assert.Equal(t, tt.wantKeys, keys)
			assert.Equal(t, tt.wantNext, next)
			assert.Equal(t, []byte("1"), records[0].Value)
		})
	}

	records, next := scanPage(nil, 5)
	assert.Empty(t, records)
	assert.Empty(t, next)
}
