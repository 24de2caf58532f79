// Package mongo implements the queue, lock, and journal stores against a
// MongoDB-style document store via the official mongo-driver client.
package mongo

import (
	"context"

	"github.com/bobmcallan/corequeue/internal/common"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Connect dials the configured MongoDB deployment and returns a ready
// *mongo.Database. The caller is responsible for disconnecting the returned
// client via Client().Disconnect when done.
func Connect(ctx context.Context, cfg *common.MongoConfig) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.GetConnectTimeout())
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	return client.Database(cfg.Database), nil
}
