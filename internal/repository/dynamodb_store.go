package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sirupsen/logrus"
)

// DynamoDBAPI is the subset of *dynamodb.Client the store calls.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type sessionItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Value     string `dynamodbav:"Value"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
}

// DynamoDBStore keeps every session key as one item under PK=SESSION#<namespace>.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
	namespace string
	ttl       time.Duration
	logger    *logrus.Logger
}

func NewDynamoDBStore(client DynamoDBAPI, tableName, namespace string, ttl time.Duration, logger *logrus.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client:    client,
		tableName: tableName,
		namespace: namespace,
		ttl:       ttl,
		logger:    logger,
	}
}

func (s *DynamoDBStore) pk() string {
	return "SESSION#" + s.namespace
}

func (s *DynamoDBStore) key(sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: s.pk()},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (s *DynamoDBStore) Get(ctx context.Context, key string) (string, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}

	if result.Item == nil {
		return "", ErrNotFound
	}

	var item sessionItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return "", fmt.Errorf("failed to unmarshal session item: %w", err)
	}

	// DynamoDB TTL deletion is lazy.
	if item.TTL > 0 && time.Now().Unix() > item.TTL {
		return "", ErrNotFound
	}

	return item.Value, nil
}

func (s *DynamoDBStore) Set(ctx context.Context, key, value string) error {
	now := time.Now()
	item := sessionItem{
		PK:        s.pk(),
		SK:        key,
		Value:     value,
		UpdatedAt: now.Format(time.RFC3339),
	}
	if s.ttl > 0 {
		item.TTL = now.Add(s.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal session item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Error("Failed to store session key in DynamoDB")
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key:       s.key(key),
		})
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}
