package helper

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"skin-sync/pkg/mongodb"
)

type Stores struct {
	Client     *mongo.Client
	DB         *mongo.Database
	Records    *mongo.Collection // 固定集合：skins
	SyncStates *mongo.Collection // 固定集合：syncstates
}

func MustMongo(ctx context.Context, cfg mongodb.MongoConfig) *Stores {
	cli, err := mongo.Connect(ctx, cfg.ClientOptions())
	if err != nil {
		panic(err)
	}
	if err = cli.Ping(ctx, nil); err != nil {
		panic(err)
	}

	dbname := cfg.DBName
	if dbname == "" {
		dbname = "skin_sync"
	}
	db := cli.Database(dbname)
	s := &Stores{
		Client:     cli,
		DB:         db,
		Records:    db.Collection("skins"),
		SyncStates: db.Collection("syncstates"),
	}
	if err := ensureIndexes(ctx, s); err != nil {
		panic(err)
	}
	return s
}

func ensureIndexes(ctx context.Context, s *Stores) error {
	// skins: hashedKey 唯一，时间字段用于区间查询和排序
	if _, err := s.Records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "hashedKey", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "testTime", Value: 1}}},
		{Keys: bson.D{{Key: "crtTime", Value: 1}}},
		{Keys: bson.D{{Key: "scrapedAt", Value: -1}}},
		{Keys: bson.D{{Key: "id", Value: 1}}},
	}); err != nil {
		return err
	}
	// syncstates: key 唯一
	_, err := s.SyncStates.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
	})
	return err
}

// Close 断开连接
func (s *Stores) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}
