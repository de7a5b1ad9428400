package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const connectBudget = 30 * time.Second

func ConnectMongo(ctx context.Context, uri, dbName string, logger *zap.SugaredLogger) (*mongo.Database, *mongo.Client, error) {
	var client *mongo.Client

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		c, err := mongo.Connect(attemptCtx, options.Client().ApplyURI(uri))
		if err != nil {
			logger.Warnf("MongoDB connection failed: %v", err)
			return err
		}
		if err := c.Ping(attemptCtx, nil); err != nil {
			logger.Warnf("MongoDB ping failed: %v", err)
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = connectBudget
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, nil, err
	}

	logger.Info("MongoDB connected successfully")
	return client.Database(dbName), client, nil
}
