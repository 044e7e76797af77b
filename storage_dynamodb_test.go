package fastls

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo keeps items in memory, keyed by (db, key), and understands just
// the requests DynamoBackend sends.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]map[string]types.AttributeValue

	batchCalls   int
	maxBatch     int
	unprocessedN int  // leave this many requests unprocessed on the next batch call
	stuck        bool // leave every request unprocessed
	failWrites   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]map[string]types.AttributeValue)}
}

func (f *fakeDynamo) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := in.ExpressionAttributeValues[":db"].(*types.AttributeValueMemberS).Value
	part := f.items[db]
	out := &dynamodb.QueryOutput{}
	for _, k := range slices.Sorted(maps.Keys(part)) {
		out.Items = append(out.Items, copyItem(part[k]))
	}
	return out, nil
}

func (f *fakeDynamo) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	marker := in.ExpressionAttributeValues[":marker"].(*types.AttributeValueMemberS).Value
	out := &dynamodb.ScanOutput{}
	for _, db := range slices.Sorted(maps.Keys(f.items)) {
		if item, ok := f.items[db][marker]; ok {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	return out, nil
}

func (f *fakeDynamo) BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites != nil {
		return nil, f.failWrites
	}
	f.batchCalls++
	out := &dynamodb.BatchWriteItemOutput{}
	for table, reqs := range in.RequestItems {
		f.maxBatch = max(f.maxBatch, len(reqs))
		if f.stuck {
			out.UnprocessedItems = map[string][]types.WriteRequest{table: reqs}
			continue
		}
		if f.unprocessedN > 0 {
			n := min(f.unprocessedN, len(reqs))
			out.UnprocessedItems = map[string][]types.WriteRequest{table: reqs[len(reqs)-n:]}
			reqs = reqs[:len(reqs)-n]
			f.unprocessedN = 0
		}
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				item := copyItem(r.PutRequest.Item)
				db, key := itemKey(item)
				if f.items[db] == nil {
					f.items[db] = make(map[string]map[string]types.AttributeValue)
				}
				f.items[db][key] = item
			case r.DeleteRequest != nil:
				db, key := itemKey(r.DeleteRequest.Key)
				delete(f.items[db], key)
				if len(f.items[db]) == 0 {
					delete(f.items, db)
				}
			}
		}
	}
	return out, nil
}

func itemKey(item map[string]types.AttributeValue) (string, string) {
	return item["db"].(*types.AttributeValueMemberS).Value, item["key"].(*types.AttributeValueMemberS).Value
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		if b, ok := v.(*types.AttributeValueMemberB); ok {
			v = &types.AttributeValueMemberB{Value: slices.Clone(b.Value)}
		}
		out[k] = v
	}
	return out
}

func TestDynamoBackend_Batches(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "items")
	assert.Equal(t, "items", b.Table())

	m := make(FlatMap)
	for i := range 60 {
		m[fmt.Sprintf("k%02d", i)] = []byte{byte(i)}
	}
	delays := recordBackoff(b)
	fake.unprocessedN = 3
	require.NoError(t, b.Save(ctx, "big", m))
	assert.Equal(t, dynamoBatchSize, fake.maxBatch)
	// 61 puts in 3 chunks, plus one retry for the unprocessed tail
	assert.Equal(t, 4, fake.batchCalls)
	assert.Equal(t, []int{1}, *delays)

	got, found, err := b.Load(ctx, "big")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, m, got)
}

// recordBackoff makes b resend without sleeping and collects the attempts it
// waited before.
func recordBackoff(b *DynamoBackend) *[]int {
	var attempts []int
	b.backoff = retry.BackoffDelayerFunc(func(attempt int, _ error) (time.Duration, error) {
		attempts = append(attempts, attempt)
		return 0, nil
	})
	return &attempts
}

func TestDynamoBackend_UnprocessedBackoff(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "")
	delays := recordBackoff(b)

	fake.stuck = true
	err := b.Save(ctx, "d", FlatMap{"a": []byte{1}})
	assert.ErrorContains(t, err, "still unprocessed after 5 attempts")
	assert.Equal(t, dynamoMaxRetries, fake.batchCalls)
	assert.Equal(t, []int{1, 2, 3, 4}, *delays)

	// a cancelled context stops the wait instead of resending
	ctx, cancel := context.WithCancel(ctx)
	b.backoff = retry.BackoffDelayerFunc(func(int, error) (time.Duration, error) {
		cancel()
		return time.Hour, nil
	})
	fake.batchCalls = 0
	err = b.Save(ctx, "d", FlatMap{"a": []byte{1}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, fake.batchCalls)
}

func TestDynamoBackend_Errors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "")
	assert.Equal(t, "fastls", b.Table())

	errThrottled := errors.New("throttled")
	fake.failWrites = errThrottled
	err := b.Save(ctx, "x", FlatMap{"a": []byte{1}})
	assert.ErrorIs(t, err, errThrottled)

	db, err := Open(ctx, NewDynamoBackend(fake, ""), "x", Options{})
	assert.Nil(t, db)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, errThrottled)
}

func TestDynamoBackend_Marker(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	b := NewDynamoBackend(fake, "")

	require.NoError(t, b.Save(ctx, "d", FlatMap{"a": []byte{1}}))
	assert.Len(t, fake.items["d"], 2)
	assert.Contains(t, fake.items["d"], dynamoMarkerKey)

	require.NoError(t, b.Save(ctx, "d", FlatMap{}))
	assert.Len(t, fake.items["d"], 1)
}
