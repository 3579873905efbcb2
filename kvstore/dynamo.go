package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/goliatone/go-claimbot/core"
)

const (
	attrKey       = "PK"
	attrValue     = "value"
	attrCounter   = "counter"
	attrExpiresAt = "expires_at"
)

// dynamodbAPI is the subset of *dynamodb.Client used by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps every key in one table keyed by PK. Expiry is stored in
// epoch seconds under expires_at, which is also the table's TTL attribute.
// DynamoDB deletes expired items lazily, so every read filters on it.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	Now       func() time.Time
}

func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("kvstore: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("kvstore: table name must not be empty")
	}
	return &DynamoStore{
		api:       api,
		tableName: tableName,
		Now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *DynamoStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := s.getLive(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if item == nil {
		return nil, false, nil
	}
	if value, ok := item[attrValue].(*types.AttributeValueMemberB); ok {
		return append([]byte(nil), value.Value...), true, nil
	}
	if counter, ok := item[attrCounter].(*types.AttributeValueMemberN); ok {
		return []byte(counter.Value), true, nil
	}
	return nil, true, nil
}

func (s *DynamoStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      s.valueItem(key, value, ttl),
	})
	if err != nil {
		return fmt.Errorf("kvstore: set %q: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                s.valueItem(key, value, ttl),
		ConditionExpression: aws.String("attribute_not_exists(#pk) OR #exp <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#pk":  attrKey,
			"#exp": attrExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": epochAttr(s.now()),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("kvstore: set if absent %q: %w", key, err)
	}
	return true, nil
}

func (s *DynamoStore) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       keyAttr(key),
	})
	if err != nil {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	return nil
}

// Incr adds one to the counter at key. A counter whose expiry has passed but
// which DynamoDB has not yet removed is restarted at 1.
func (s *DynamoStore) Incr(ctx context.Context, key string) (int64, error) {
	out, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 keyAttr(key),
		UpdateExpression:    aws.String("ADD #counter :one"),
		ConditionExpression: aws.String("attribute_not_exists(#exp) OR #exp > :now"),
		ExpressionAttributeNames: map[string]string{
			"#counter": attrCounter,
			"#exp":     attrExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": epochAttr(s.now()),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("kvstore: incr %q: %w", key, err)
		}
		if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item: map[string]types.AttributeValue{
				attrKey:     &types.AttributeValueMemberS{Value: key},
				attrCounter: &types.AttributeValueMemberN{Value: "1"},
			},
		}); err != nil {
			return 0, fmt.Errorf("kvstore: incr restart %q: %w", key, err)
		}
		return 1, nil
	}
	if out == nil {
		return 0, fmt.Errorf("kvstore: incr %q: empty response", key)
	}
	return int64Attr(out.Attributes, attrCounter)
}

func (s *DynamoStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 keyAttr(key),
		UpdateExpression:    aws.String("SET #exp = :exp"),
		ConditionExpression: aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk":  attrKey,
			"#exp": attrExpiresAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":exp": epochAttr(s.now().Add(ttl)),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil
		}
		return fmt.Errorf("kvstore: expire %q: %w", key, err)
	}
	return nil
}

func (s *DynamoStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	item, err := s.getLive(ctx, key)
	if err != nil {
		return 0, err
	}
	if item == nil {
		return -1, nil
	}
	if _, ok := item[attrExpiresAt]; !ok {
		return -1, nil
	}
	expiresAt, err := int64Attr(item, attrExpiresAt)
	if err != nil {
		return 0, err
	}
	return time.Unix(expiresAt, 0).Sub(s.now()), nil
}

func (s *DynamoStore) getLive(ctx context.Context, key string) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            keyAttr(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, nil
	}
	if _, ok := out.Item[attrExpiresAt]; ok {
		expiresAt, err := int64Attr(out.Item, attrExpiresAt)
		if err != nil {
			return nil, err
		}
		if expiresAt <= s.now().Unix() {
			return nil, nil
		}
	}
	return out.Item, nil
}

func (s *DynamoStore) valueItem(key string, value []byte, ttl time.Duration) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrKey:   &types.AttributeValueMemberS{Value: key},
		attrValue: &types.AttributeValueMemberB{Value: append([]byte(nil), value...)},
	}
	if ttl > 0 {
		item[attrExpiresAt] = epochAttr(s.now().Add(ttl))
	}
	return item
}

func (s *DynamoStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrKey: &types.AttributeValueMemberS{Value: key},
	}
}

// epochAttr rounds up so an entry never expires before its ttl.
func epochAttr(at time.Time) *types.AttributeValueMemberN {
	seconds := at.Unix()
	if at.Nanosecond() > 0 {
		seconds++
	}
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(seconds, 10)}
}

func int64Attr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("kvstore: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("kvstore: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kvstore: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func isConditionFailed(err error) bool {
	var conditionFailed *types.ConditionalCheckFailedException
	return errors.As(err, &conditionFailed)
}

var _ core.KeyValueStore = (*DynamoStore)(nil)
