package ddb

import (
	"context"
	"kickoff/internal/types"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CounterStore implements ports.CounterStore with atomic ADD updates.
type CounterStore struct {
	table string
	cli   *dynamodb.Client
}

type counterItem struct {
	Count int64 `dynamodbav:"count"`
}

func NewCounterStore(table string, cli *dynamodb.Client) *CounterStore {
	createTableIfNotExists(cli, table)
	return &CounterStore{table: table, cli: cli}
}

func (s *CounterStore) Acquire(ctx context.Context, scope string, ratePerWindow int, window time.Duration) (bool, error) {
	if ratePerWindow <= 0 {
		return false, nil
	}
	// Window bucketing by integer minutes only.
	epochMin := time.Now().Unix() / 60
	ttl := time.Now().Add(window + 2*time.Minute).Unix() // grace to ensure cleanup

	// Atomic: ADD count 1, set ttl if absent, condition count < capacity
	_, err := s.cli.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.table,
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkRate(scope)},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skRateWin(epochMin)},
		},
		UpdateExpression: awsString(
			"SET #ttl = if_not_exists(#ttl, :ttl) " +
				"ADD #count :one",
		),
		ExpressionAttributeNames: map[string]string{
			"#count": "count",
			"#ttl":   expiresAttr,
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":one": &ddbTypes.AttributeValueMemberN{Value: "1"},
			":ttl": &ddbTypes.AttributeValueMemberN{Value: itoa(ttl)},
			":cap": &ddbTypes.AttributeValueMemberN{Value: itoa(int64(ratePerWindow))},
		},
		ConditionExpression: awsString("attribute_not_exists(#count) OR #count < :cap"),
	})
	if err != nil {
		var cc *ddbTypes.ConditionalCheckFailedException
		if errorAs(err, &cc) {
			return false, nil // limited
		}
		return false, types.Err(types.ErrDataStoreAccess, err, "acquire %s", scope)
	}
	return true, nil
}

func (s *CounterStore) Incr(ctx context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	out, err := s.cli.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.table,
		Key:       counterKey(key),
		UpdateExpression: awsString(
			"SET #ttl = if_not_exists(#ttl, :ttl) " +
				"ADD #count :n",
		),
		ExpressionAttributeNames: map[string]string{
			"#count": "count",
			"#ttl":   expiresAttr,
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":n":   &ddbTypes.AttributeValueMemberN{Value: itoa(n)},
			":ttl": &ddbTypes.AttributeValueMemberN{Value: itoa(time.Now().Add(ttl).Unix())},
		},
		ReturnValues: ddbTypes.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, types.Err(types.ErrDataStoreAccess, err, "incr %s", key)
	}
	var it counterItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &it); err != nil {
		return 0, err
	}
	return it.Count, nil
}

func (s *CounterStore) Count(ctx context.Context, key string) (int64, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		ConsistentRead: awsBool(true),
		Key:            counterKey(key),
	})
	if err != nil {
		return 0, types.Err(types.ErrDataStoreAccess, err, "count %s", key)
	}
	if out.Item == nil {
		return 0, nil
	}
	var it counterItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return 0, err
	}
	return it.Count, nil
}

func counterKey(key string) map[string]ddbTypes.AttributeValue {
	return map[string]ddbTypes.AttributeValue{
		"PK": &ddbTypes.AttributeValueMemberS{Value: pkCount(key)},
		"SK": &ddbTypes.AttributeValueMemberS{Value: skValue()},
	}
}

func itoa(i int64) string { return strconv.FormatInt(i, 10) }
