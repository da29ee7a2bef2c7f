package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kombuciao-api/models"
)

// Client is the process-wide MongoDB connection.
var Client *mongo.Client

var (
	StoreCollection  *mongo.Collection
	ReportCollection *mongo.Collection
)

// InitDB connects, pings, binds the collections and makes sure the indexes
// the queries depend on exist.
func InitDB(ctx context.Context, uri, dbName string, log logrus.FieldLogger) error {
	if uri == "" {
		return errors.New("mongodb uri is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	start := time.Now()
	log.WithFields(logrus.Fields{"uri": redactURI(uri), "db": dbName}).Info("connecting to MongoDB")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("mongo ping: %w", err)
	}

	Client = client
	database := client.Database(dbName)
	StoreCollection = database.Collection(models.StoresCollection)
	ReportCollection = database.Collection(models.ReportsCollection)

	if err := EnsureIndexes(ctx, database); err != nil {
		return err
	}

	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("connected to MongoDB")
	return nil
}

// DisconnectDB closes the connection opened by InitDB.
func DisconnectDB(log logrus.FieldLogger) {
	if Client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Client.Disconnect(ctx); err != nil {
		log.WithError(err).Warn("failed to disconnect MongoDB")
		return
	}
	Client, StoreCollection, ReportCollection = nil, nil, nil
	log.Info("disconnected from MongoDB")
}

// Indexes lists the indexes each collection needs. $geoNear requires the
// 2dsphere index on stores.location.
func Indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		models.StoresCollection: {
			{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
			{
				Keys:    bson.D{{Key: "osmId", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
		},
		models.ReportsCollection: {
			{Keys: bson.D{{Key: "store", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
			{Keys: bson.D{{Key: "votes.voterId", Value: 1}}},
		},
	}
}

func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	var errs []string
	for name, idx := range Indexes() {
		if _, err := database.Collection(name).Indexes().CreateMany(ctx, idx); err != nil {
			errs = append(errs, name+": "+err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("create indexes: %s", strings.Join(errs, "; "))
	}
	return nil
}

func redactURI(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = url.UserPassword("****", "****")
	return u.String()
}
