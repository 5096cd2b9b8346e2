// Package dynamodb provides a kv.Store backed by a DynamoDB table.
//
// The table needs a string partition key named "pk"; values are stored in
// the binary attribute "v". Items are bounded at 400 KB by DynamoDB, so the
// backend suits metadata and small documents.
package dynamodb

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/arxis/aviladb/kv"
)

const (
	attrKey   = "pk"
	attrValue = "v"
)

// Client is the subset of the DynamoDB API the store uses.
// *dynamodb.Client satisfies it.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store implements kv.Store on one DynamoDB table.
type Store struct {
	client Client
	table  string
	prefix string
}

// NewStore creates a store on table. rootPrefix is prepended to all keys.
func NewStore(client Client, table, rootPrefix string) *Store {
	return &Store{client: client, table: table, prefix: rootPrefix}
}

func (s *Store) key(k string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s.prefix + k}
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			attrKey:   s.key(key),
			attrValue: &types.AttributeValueMemberB{Value: value},
		},
	})
	return err
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{attrKey: s.key(key)},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, kv.ErrNotFound
	}
	v, ok := out.Item[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("dynamodb: item %q has no binary %q attribute", key, attrValue)
	}
	return v.Value, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       map[string]types.AttributeValue{attrKey: s.key(key)},
	})
	return err
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	p := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                aws.String(s.table),
		ProjectionExpression:     aws.String("#k"),
		FilterExpression:         aws.String("begins_with(#k, :p)"),
		ExpressionAttributeNames: map[string]string{"#k": attrKey},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: s.prefix + prefix},
		},
		ConsistentRead: aws.Bool(true),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			k, ok := item[attrKey].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			keys = append(keys, k.Value[len(s.prefix):])
		}
	}
	sort.Strings(keys)
	return keys, nil
}

var _ kv.Store = (*Store)(nil)
