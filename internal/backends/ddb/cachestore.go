package ddb

import (
	"context"
	"kickoff/internal/types"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

// maxBatchWrite is the BatchWriteItem request limit.
const maxBatchWrite = 25

// CacheStore implements ports.CacheBackend with one item per cache key.
type CacheStore struct {
	table string
	cli   *dynamodb.Client
}

type cacheItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.CacheEntry
	ExpiresAt int64 `dynamodbav:"expires_at"`
}

func NewCacheStore(table string, cli *dynamodb.Client) *CacheStore {
	// Creates the table only if it doesn't exist.
	createTableIfNotExists(cli, table)
	return &CacheStore{table: table, cli: cli}
}

func (s *CacheStore) Load(ctx context.Context, key string) (*types.CacheEntry, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.table,
		Key:       cacheKey(key),
	})
	if err != nil {
		return nil, types.Err(types.ErrDataStoreAccess, err, "get %s", key)
	}
	if out.Item == nil {
		return nil, nil
	}
	var it cacheItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, err
	}
	return &it.CacheEntry, nil
}

func (s *CacheStore) Put(ctx context.Context, entry types.CacheEntry) error {
	item := cacheItem{
		PK:         pkCache(entry.Key),
		SK:         skEntry(),
		CacheEntry: entry,
		// keep the row one hour past logical expiry, native TTL reaps it afterwards
		ExpiresAt: time.UnixMilli(entry.ExpiresAt()).Add(time.Hour).Unix(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.table,
		Item:      av,
	})
	if err != nil {
		return types.Err(types.ErrDataStoreAccess, err, "put %s", entry.Key)
	}
	return nil
}

// Scan walks every cache item in the table. Counter rows share the table and are filtered out.
func (s *CacheStore) Scan(ctx context.Context) ([]types.CacheEntry, error) {
	p := dynamodb.NewScanPaginator(s.cli, &dynamodb.ScanInput{
		TableName:        &s.table,
		FilterExpression: awsString("begins_with(PK, :p)"),
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":p": &ddbTypes.AttributeValueMemberS{Value: SCache + "#"},
		},
	})
	var entries []types.CacheEntry
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, types.Err(types.ErrDataStoreAccess, err, "scan %s", s.table)
		}
		for _, raw := range page.Items {
			var it cacheItem
			if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
				log.WithError(err).Warn("skipping undecodable cache item")
				continue
			}
			if it.Key == "" {
				it.Key = strings.TrimPrefix(it.PK, SCache+"#")
			}
			entries = append(entries, it.CacheEntry)
		}
	}
	return entries, nil
}

func (s *CacheStore) DeleteBatch(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += maxBatchWrite {
		end := min(start+maxBatchWrite, len(keys))
		reqs := make([]ddbTypes.WriteRequest, 0, end-start)
		for _, k := range keys[start:end] {
			reqs = append(reqs, ddbTypes.WriteRequest{
				DeleteRequest: &ddbTypes.DeleteRequest{Key: cacheKey(k)},
			})
		}
		pending := map[string][]ddbTypes.WriteRequest{s.table: reqs}
		// unprocessed items are retried a bounded number of times
		for attempt := 0; attempt < 3 && len(pending[s.table]) > 0; attempt++ {
			out, err := s.cli.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return types.Err(types.ErrDataStoreAccess, err, "batch delete")
			}
			pending = out.UnprocessedItems
		}
		if n := len(pending[s.table]); n > 0 {
			log.WithField("unprocessed", n).Warn("cache batch delete left items behind")
		}
	}
	return nil
}

func cacheKey(key string) map[string]ddbTypes.AttributeValue {
	return map[string]ddbTypes.AttributeValue{
		"PK": &ddbTypes.AttributeValueMemberS{Value: pkCache(key)},
		"SK": &ddbTypes.AttributeValueMemberS{Value: skEntry()},
	}
}
