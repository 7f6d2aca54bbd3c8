package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is an in-memory table keyed by PK.
type fakeDynamo struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	err     error
	lastPut *dynamodb.PutItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func pkOf(key map[string]types.AttributeValue) string {
	return key["PK"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &dynamodb.GetItemOutput{Item: f.items[pkOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.lastPut = in
	f.items[pkOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, pkOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestNewDynamoStoreValidation(t *testing.T) {
	_, err := NewDynamoStore(nil, "sessions", time.Hour)
	assert.Error(t, err)

	_, err = NewDynamoStore(newFakeDynamo(), "  ", time.Hour)
	assert.Error(t, err)
}

func TestDynamoStore(t *testing.T) {
	s, err := NewDynamoStore(newFakeDynamo(), "sessions", time.Hour)
	require.NoError(t, err)

	exerciseBackend(t, s)
}

func TestDynamoStoreItemShape(t *testing.T) {
	db := newFakeDynamo()
	s, err := NewDynamoStore(db, "sessions", time.Hour)
	require.NoError(t, err)
	s.now = func() time.Time { return base }

	require.NoError(t, s.Save(context.Background(), sample("u1", base)))

	require.NotNil(t, db.lastPut)
	assert.Equal(t, "sessions", *db.lastPut.TableName)
	item := db.lastPut.Item
	assert.Equal(t, "SESSION#u1", item["PK"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "size", item["step"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, strconv.FormatInt(base.Add(time.Hour).Unix(), 10), item["expiresAt"].(*types.AttributeValueMemberN).Value)
	assert.Contains(t, item["payload"].(*types.AttributeValueMemberS).Value, `"user_id":"u1"`)
}

func TestDynamoStoreIgnoresExpiredItems(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	s, err := NewDynamoStore(db, "sessions", time.Hour)
	require.NoError(t, err)

	now := base
	s.now = func() time.Time { return now }
	require.NoError(t, s.Save(ctx, sample("u1", base)))

	now = base.Add(time.Hour)
	got, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDynamoStoreWrapsErrors(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	db.err = errors.New("throttled")
	s, err := NewDynamoStore(db, "sessions", time.Hour)
	require.NoError(t, err)

	_, err = s.Load(ctx, "u1")
	assert.ErrorContains(t, err, "store: dynamodb get: throttled")
	assert.ErrorContains(t, s.Save(ctx, sample("u1", base)), "store: dynamodb put")
	assert.ErrorContains(t, s.Delete(ctx, "u1"), "store: dynamodb delete")
}

func TestDynamoStoreMissingPayload(t *testing.T) {
	db := newFakeDynamo()
	db.items["SESSION#u1"] = map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "SESSION#u1"},
	}
	s, err := NewDynamoStore(db, "sessions", 0)
	require.NoError(t, err)

	_, err = s.Load(context.Background(), "u1")
	assert.ErrorContains(t, err, "no payload")
}
