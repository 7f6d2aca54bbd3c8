package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lojasmm/shipbot/internal/session"
)

const pkPrefixSession = "SESSION#"

// dynamodbAPI is the subset of the DynamoDB client DynamoStore needs.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps one item per session in a DynamoDB table with partition
// key PK. The expiresAt attribute is meant for the table's TTL setting;
// items past it are ignored even before DynamoDB removes them.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoStore(api dynamodbAPI, tableName string, ttl time.Duration) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("store: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("store: dynamodb table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

// NewDynamoClient builds a client from the default AWS credential chain.
func NewDynamoClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: loading aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

func sessionPK(userID string) string {
	return pkPrefixSession + userID
}

func (s *DynamoStore) key(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(userID)},
	}
}

func (s *DynamoStore) Load(ctx context.Context, userID string) (*session.Session, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("store: dynamodb get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}

	if exp, ok := out.Item["expiresAt"].(*types.AttributeValueMemberN); ok {
		ts, err := strconv.ParseInt(exp.Value, 10, 64)
		if err == nil && ts > 0 && s.now().Unix() >= ts {
			return nil, nil
		}
	}

	payload, ok := out.Item["payload"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("store: dynamodb item for %s has no payload", userID)
	}
	var sess session.Session
	if err := json.Unmarshal([]byte(payload.Value), &sess); err != nil {
		return nil, fmt.Errorf("store: decoding session: %w", err)
	}
	return &sess, nil
}

func (s *DynamoStore) Save(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("store: encoding session: %w", err)
	}

	item := s.key(sess.UserID)
	item["payload"] = &types.AttributeValueMemberS{Value: string(data)}
	item["step"] = &types.AttributeValueMemberS{Value: sess.Step}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: sess.UpdatedAt.UTC().Format(time.RFC3339Nano)}
	if s.ttl > 0 {
		item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10)}
	}

	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("store: dynamodb put: %w", err)
	}
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(userID),
	}); err != nil {
		return fmt.Errorf("store: dynamodb delete: %w", err)
	}
	return nil
}
