// Package common holds shared test helpers for the worker's integration
// suites.
package common

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

var (
	mongoOnce      sync.Once
	mongoContainer *MongoDBContainer
	mongoError     error
)

// MongoDBContainer wraps a shared testcontainers MongoDB instance.
type MongoDBContainer struct {
	container *mongodb.MongoDBContainer
	uri       string
}

// StartMongoDB starts a shared MongoDB container for the test run. Uses
// sync.Once so only one container is created per process; each caller
// should still pick its own database name to keep tests isolated.
func StartMongoDB(t *testing.T) *MongoDBContainer {
	t.Helper()

	mongoOnce.Do(func() {
		ctx := context.Background()

		container, err := mongodb.Run(ctx, "mongo:7")
		if err != nil {
			mongoError = fmt.Errorf("start MongoDB container: %w", err)
			return
		}

		uri, err := container.ConnectionString(ctx)
		if err != nil {
			container.Terminate(ctx)
			mongoError = fmt.Errorf("get MongoDB connection string: %w", err)
			return
		}

		mongoContainer = &MongoDBContainer{container: container, uri: uri}
	})

	if mongoError != nil {
		t.Fatalf("MongoDB container failed: %v", mongoError)
	}

	return mongoContainer
}

// URI returns the MongoDB connection string.
func (c *MongoDBContainer) URI() string {
	return c.uri
}

// Cleanup terminates the container. Call from TestMain if needed.
func (c *MongoDBContainer) Cleanup() {
	if c != nil && c.container != nil {
		c.container.Terminate(context.Background())
	}
}
