package mongo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/corequeue/internal/common"
	tcommon "github.com/bobmcallan/corequeue/tests/common"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// testDB starts the shared MongoDB container and returns a *mongo.Database
// using a unique database name per test to ensure isolation.
func testDB(t *testing.T) *mongo.Database {
	t.Helper()

	mc := tcommon.StartMongoDB(t)
	ctx := context.Background()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mc.URI()))
	if err != nil {
		t.Fatalf("connect to MongoDB: %v", err)
	}

	sanitized := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dbName := fmt.Sprintf("t_%s_%d", sanitized, time.Now().UnixNano()%100000)

	t.Cleanup(func() {
		client.Database(dbName).Drop(context.Background())
		client.Disconnect(context.Background())
	})

	return client.Database(dbName)
}

// testLogger returns a silent logger for tests.
func testLogger() *common.Logger {
	return common.NewSilentLogger()
}
