package kv

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo records requests and serves canned batch responses.
type fakeDynamo struct {
	items       map[Key]map[string]types.AttributeValue
	unprocessed map[Key]bool
	lastWrite   *dynamodb.BatchWriteItemInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[Key]map[string]types.AttributeValue{}, unprocessed: map[Key]bool{}}
}

func keyOf(av map[string]types.AttributeValue) Key {
	return Key{
		PK: av[AttrPK].(*types.AttributeValueMemberS).Value,
		SK: av[AttrSK].(*types.AttributeValueMemberS).Value,
	}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) BatchGetItem(_ context.Context, in *dynamodb.BatchGetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	out := &dynamodb.BatchGetItemOutput{
		Responses:       map[string][]map[string]types.AttributeValue{},
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}
	for table, ka := range in.RequestItems {
		var pending []map[string]types.AttributeValue
		for _, k := range ka.Keys {
			key := keyOf(k)
			if f.unprocessed[key] {
				pending = append(pending, k)
				continue
			}
			if item, ok := f.items[key]; ok {
				out.Responses[table] = append(out.Responses[table], item)
			}
		}
		if len(pending) > 0 {
			out.UnprocessedKeys[table] = types.KeysAndAttributes{Keys: pending}
		}
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.lastWrite = in
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, writes := range in.RequestItems {
		for _, w := range writes {
			key := keyOf(w.PutRequest.Item)
			if f.unprocessed[key] {
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], w)
				continue
			}
			f.items[key] = w.PutRequest.Item
		}
	}
	return out, nil
}

func TestDynamoStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewDynamoStore(newFakeDynamo(), "cache")
	key := Key{PK: "SOURCE_LOCATION#s3://b/k", SK: "model"}

	require.NoError(t, s.PutItem(ctx, Item{Key: key, Attrs: map[string]string{"id": "s3://b/k", "timestamp": "ts"}}))

	item, err := s.GetItem(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, key, item.Key)
	assert.Equal(t, map[string]string{"id": "s3://b/k", "timestamp": "ts"}, item.Attrs)

	require.NoError(t, s.DeleteItem(ctx, key))
	_, err = s.GetItem(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoStore_BatchGetReportsUnprocessed(t *testing.T) {
	// Given: one stored key and one key the backend throttles
	ctx := context.Background()
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "cache")
	stored := Key{PK: "SOURCE_LOCATION#a", SK: "m"}
	throttled := Key{PK: "SOURCE_LOCATION#b", SK: "m"}
	require.NoError(t, s.PutItem(ctx, Item{Key: stored, Attrs: map[string]string{"timestamp": "x"}}))
	fake.unprocessed[throttled] = true

	// When: both are requested
	found, unprocessed, err := s.BatchGetItems(ctx, []Key{stored, throttled})

	// Then: each lands in its bucket
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stored, found[0].Key)
	assert.Equal(t, []Key{throttled}, unprocessed)
}

func TestDynamoStore_BatchWriteReportsUnprocessed(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	s := NewDynamoStore(fake, "cache")
	ok := Item{Key: Key{PK: "p1", SK: "m"}, Attrs: map[string]string{"id": "1"}}
	throttled := Item{Key: Key{PK: "p2", SK: "m"}, Attrs: map[string]string{"id": "2"}}
	fake.unprocessed[throttled.Key] = true

	unprocessed, err := s.BatchWriteItems(ctx, []Item{ok, throttled})

	require.NoError(t, err)
	require.Len(t, unprocessed, 1)
	assert.Equal(t, throttled.Key, unprocessed[0].Key)
	assert.Equal(t, "2", unprocessed[0].Attrs["id"])
	assert.Len(t, fake.lastWrite.RequestItems["cache"], 2)
}

func TestDynamoStore_BatchLimits(t *testing.T) {
	s := NewDynamoStore(newFakeDynamo(), "cache")

	_, _, err := s.BatchGetItems(context.Background(), make([]Key, MaxBatchGetItems+1))
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	_, err = s.BatchWriteItems(context.Background(), make([]Item, MaxBatchWriteItems+1))
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}
