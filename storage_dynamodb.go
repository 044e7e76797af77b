package fastls

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoBackend.
type DynamoAPI interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

const (
	// dynamoMarkerKey marks a database as existing even when it has no keys.
	// Real keys cannot contain ':', so it never collides with user data.
	dynamoMarkerKey = ":db"

	dynamoBatchSize  = 25
	dynamoMaxRetries = 5
	dynamoMaxBackoff = time.Second
)

type dynamoItem struct {
	DB    string `dynamodbav:"db"`
	Key   string `dynamodbav:"key"`
	Value []byte `dynamodbav:"value"`
}

// DynamoBackend stores every database in one DynamoDB table with partition
// key "db" and sort key "key" (both strings), one item per flat-map entry.
type DynamoBackend struct {
	client DynamoAPI
	table  string

	// backoff spaces out resends of unprocessed batch items
	backoff retry.BackoffDelayer
}

func NewDynamoBackend(client DynamoAPI, table string) *DynamoBackend {
	if table == "" {
		table = "fastls"
	}
	return &DynamoBackend{
		client:  client,
		table:   table,
		backoff: retry.NewExponentialJitterBackoff(dynamoMaxBackoff),
	}
}

func (b *DynamoBackend) Table() string {
	return b.table
}

func (b *DynamoBackend) queryItems(ctx context.Context, name string, keysOnly bool) ([]dynamoItem, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(b.table),
		KeyConditionExpression: aws.String("#db = :db"),
		ExpressionAttributeNames: map[string]string{
			"#db": "db",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":db": &types.AttributeValueMemberS{Value: name},
		},
	}
	if keysOnly {
		input.ProjectionExpression = aws.String("#db, #key")
		input.ExpressionAttributeNames["#key"] = "key"
	}

	var items []dynamoItem
	paginator := dynamodb.NewQueryPaginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var batch []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		items = append(items, batch...)
	}
	return items, nil
}

func (b *DynamoBackend) Load(ctx context.Context, name string) (FlatMap, bool, error) {
	items, err := b.queryItems(ctx, name, false)
	if err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	m := make(FlatMap, len(items))
	for _, item := range items {
		if item.Key == dynamoMarkerKey {
			continue
		}
		m[item.Key] = item.Value
	}
	return m, true, nil
}

// Save puts every entry and deletes items for keys that are no longer present.
// Writes are batched; a failure midway leaves a partially updated database.
func (b *DynamoBackend) Save(ctx context.Context, name string, m FlatMap) error {
	existing, err := b.queryItems(ctx, name, true)
	if err != nil {
		return err
	}

	var reqs []types.WriteRequest
	for _, item := range existing {
		if _, keep := m[item.Key]; !keep && item.Key != dynamoMarkerKey {
			reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: dynamoKey(name, item.Key)}})
		}
	}
	keys := append(sortedKeys(m), dynamoMarkerKey)
	for _, k := range keys {
		av, err := attributevalue.MarshalMap(dynamoItem{DB: name, Key: k, Value: m[k]})
		if err != nil {
			return err
		}
		reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}
	return b.batchWrite(ctx, reqs)
}

func (b *DynamoBackend) DropDatabase(ctx context.Context, name string) error {
	existing, err := b.queryItems(ctx, name, true)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return ErrDatabaseNotFound
	}
	reqs := make([]types.WriteRequest, 0, len(existing))
	for _, item := range existing {
		reqs = append(reqs, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: dynamoKey(name, item.Key)}})
	}
	return b.batchWrite(ctx, reqs)
}

func (b *DynamoBackend) ListDatabaseNames(ctx context.Context) ([]string, error) {
	input := &dynamodb.ScanInput{
		TableName:            aws.String(b.table),
		FilterExpression:     aws.String("#key = :marker"),
		ProjectionExpression: aws.String("#db"),
		ExpressionAttributeNames: map[string]string{
			"#db":  "db",
			"#key": "key",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":marker": &types.AttributeValueMemberS{Value: dynamoMarkerKey},
		},
	}

	var names []string
	paginator := dynamodb.NewScanPaginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		var batch []dynamoItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		for _, item := range batch {
			names = append(names, item.DB)
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (b *DynamoBackend) batchWrite(ctx context.Context, reqs []types.WriteRequest) error {
	for chunk := range slices.Chunk(reqs, dynamoBatchSize) {
		pending := map[string][]types.WriteRequest{b.table: chunk}
		for attempt := 0; len(pending[b.table]) > 0; attempt++ {
			if attempt >= dynamoMaxRetries {
				return fmt.Errorf("dynamodb: %d items still unprocessed after %d attempts", len(pending[b.table]), attempt)
			}
			if attempt > 0 {
				if err := b.wait(ctx, attempt); err != nil {
					return err
				}
			}
			out, err := b.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return err
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

// wait sleeps before a resend, returning early with ctx's error.
func (b *DynamoBackend) wait(ctx context.Context, attempt int) error {
	delay, err := b.backoff.BackoffDelay(attempt, nil)
	if err != nil {
		return err
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Suspends is true: every call is a network round trip.
func (b *DynamoBackend) Suspends() bool { return true }

func (b *DynamoBackend) Close() error { return nil }

func dynamoKey(db, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"db":  &types.AttributeValueMemberS{Value: db},
		"key": &types.AttributeValueMemberS{Value: key},
	}
}
