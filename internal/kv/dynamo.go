package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Attribute names of the partition and sort keys.
const (
	AttrPK = "PK"
	AttrSK = "SK"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore implements Store on a DynamoDB table keyed by PK and SK.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore wraps client for table.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// NewDynamoStoreFromConfig builds a client from an AWS config.
// A non-empty endpoint points the client at a local emulator.
func NewDynamoStoreFromConfig(cfg aws.Config, table, endpoint string) *DynamoStore {
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoStore(client, table)
}

// GetItem returns ErrNotFound when no record exists.
func (s *DynamoStore) GetItem(ctx context.Context, key Key) (Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       marshalKey(key),
	})
	if err != nil {
		return Item{}, fmt.Errorf("dynamodb get item: %w", err)
	}
	if len(out.Item) == 0 {
		return Item{}, ErrNotFound
	}
	return unmarshalItem(out.Item)
}

// PutItem writes the record, replacing any existing one.
func (s *DynamoStore) PutItem(ctx context.Context, item Item) error {
	av, err := marshalItem(item)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("dynamodb put item: %w", err)
	}
	return nil
}

// DeleteItem removes the record.
func (s *DynamoStore) DeleteItem(ctx context.Context, key Key) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       marshalKey(key),
	}); err != nil {
		return fmt.Errorf("dynamodb delete item: %w", err)
	}
	return nil
}

// BatchGetItems issues one BatchGetItem request.
func (s *DynamoStore) BatchGetItems(ctx context.Context, keys []Key) ([]Item, []Key, error) {
	if len(keys) > MaxBatchGetItems {
		return nil, nil, ErrBatchTooLarge
	}
	if len(keys) == 0 {
		return nil, nil, nil
	}

	req := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		req = append(req, marshalKey(k))
	}
	out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{
			s.table: {Keys: req},
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dynamodb batch get: %w", err)
	}

	found := make([]Item, 0, len(out.Responses[s.table]))
	for _, av := range out.Responses[s.table] {
		item, err := unmarshalItem(av)
		if err != nil {
			return nil, nil, err
		}
		found = append(found, item)
	}

	var unprocessed []Key
	if ka, ok := out.UnprocessedKeys[s.table]; ok {
		for _, av := range ka.Keys {
			item, err := unmarshalItem(av)
			if err != nil {
				return nil, nil, err
			}
			unprocessed = append(unprocessed, item.Key)
		}
	}
	return found, unprocessed, nil
}

// BatchWriteItems issues one BatchWriteItem request of put requests.
func (s *DynamoStore) BatchWriteItems(ctx context.Context, items []Item) ([]Item, error) {
	if len(items) > MaxBatchWriteItems {
		return nil, ErrBatchTooLarge
	}
	if len(items) == 0 {
		return nil, nil
	}

	writes := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		av, err := marshalItem(item)
		if err != nil {
			return nil, err
		}
		writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}
	out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.table: writes},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb batch write: %w", err)
	}

	var unprocessed []Item
	for _, w := range out.UnprocessedItems[s.table] {
		if w.PutRequest == nil {
			continue
		}
		item, err := unmarshalItem(w.PutRequest.Item)
		if err != nil {
			return nil, err
		}
		unprocessed = append(unprocessed, item)
	}
	return unprocessed, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *DynamoStore) Close() error { return nil }

func marshalKey(k Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: k.PK},
		AttrSK: &types.AttributeValueMemberS{Value: k.SK},
	}
}

func marshalItem(item Item) (map[string]types.AttributeValue, error) {
	record := make(map[string]string, len(item.Attrs)+2)
	for k, v := range item.Attrs {
		record[k] = v
	}
	record[AttrPK] = item.Key.PK
	record[AttrSK] = item.Key.SK

	av, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return av, nil
}

func unmarshalItem(av map[string]types.AttributeValue) (Item, error) {
	var record map[string]any
	if err := attributevalue.UnmarshalMap(av, &record); err != nil {
		return Item{}, fmt.Errorf("unmarshal item: %w", err)
	}
	pk, _ := record[AttrPK].(string)
	sk, _ := record[AttrSK].(string)
	if pk == "" || sk == "" {
		return Item{}, errors.New("item missing PK or SK")
	}

	item := Item{Key: Key{PK: pk, SK: sk}, Attrs: make(map[string]string, len(record))}
	for k, v := range record {
		if k == AttrPK || k == AttrSK {
			continue
		}
		if s, ok := v.(string); ok {
			item.Attrs[k] = s
		} else {
			item.Attrs[k] = fmt.Sprint(v)
		}
	}
	return item, nil
}
