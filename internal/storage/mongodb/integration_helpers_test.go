package mongodb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

const defaultLocalIntegrationURI = "mongodb://localhost:27017"

func openMongoStoreForIntegrationTest(t *testing.T) *Store {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("SHOP_MONGO_TEST_URI"))
	if uri == "" {
		uri = defaultLocalIntegrationURI
	}
	database := fmt.Sprintf("shop_test_%d", time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	store, err := Connect(ctx, uri, database)
	cancel()
	if err != nil {
		t.Skipf("mongodb is not available for integration tests: %s: %v", uri, err)
		return nil
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Database().Drop(ctx)
		_ = store.Close(ctx)
	})

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return store
}
