package repository

import (
	"context"
	"errors"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"skin-sync/internal/skin_sync/model"
)

// MongoRecords 记录集合，hashedKey 唯一索引
type MongoRecords struct {
	Coll *mongo.Collection
}

func NewMongoRecords(coll *mongo.Collection) *MongoRecords {
	return &MongoRecords{Coll: coll}
}

// Upsert 先按 (hashedKey, contentHash) 命中则只刷新 scrapedAt，记为 unchanged；
// 否则按 hashedKey upsert 全字段，由 UpsertedCount 区分新增 / 更新。
func (m *MongoRecords) Upsert(ctx context.Context, rec *model.Record) (UpsertResult, error) {
	res, err := m.Coll.UpdateOne(ctx,
		bson.M{"hashedKey": rec.HashedKey, "contentHash": rec.ContentHash},
		bson.M{"$set": bson.M{"scrapedAt": rec.ScrapedAt}},
	)
	if err != nil {
		return UpsertResult{}, err
	}
	if res.MatchedCount > 0 {
		return UpsertResult{}, nil
	}

	res, err = m.Coll.UpdateOne(ctx,
		bson.M{"hashedKey": rec.HashedKey},
		bson.M{"$set": rec},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{Inserted: res.UpsertedCount > 0, Modified: res.ModifiedCount > 0}, nil
}

func filterBSON(f RecordFilter) bson.M {
	filter := bson.M{}
	if f.Search != "" {
		re := primitiveRegex(f.Search)
		filter["$or"] = bson.A{
			bson.M{"id": re},
			bson.M{"customerInfo": re},
			bson.M{"account": re},
			bson.M{"deviceNumber": re},
		}
	}
	if f.Range != nil {
		filter[f.timeField()] = bson.M{"$gte": f.Range.Start, "$lte": upperBound(f.Range.End)}
	}
	if len(f.IDs) > 0 {
		cond := bson.A{bson.M{"id": bson.M{"$in": f.IDs}}, bson.M{"hashedKey": bson.M{"$in": f.IDs}}}
		if _, ok := filter["$or"]; ok {
			filter["$and"] = bson.A{bson.M{"$or": filter["$or"]}, bson.M{"$or": cond}}
			delete(filter, "$or")
		} else {
			filter["$or"] = cond
		}
	}
	return filter
}

func primitiveRegex(q string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}
}

func (m *MongoRecords) Find(ctx context.Context, f RecordFilter, s Sort, skip, limit int64) ([]model.Record, error) {
	opts := options.Find().SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if s.Field != "" {
		dir := 1
		if s.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: s.Field, Value: dir}})
	}
	cur, err := m.Coll.Find(ctx, filterBSON(f), opts)
	if err != nil {
		return nil, err
	}
	out := []model.Record{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MongoRecords) Count(ctx context.Context, f RecordFilter) (int64, error) {
	return m.Coll.CountDocuments(ctx, filterBSON(f))
}

func (m *MongoRecords) Aggregate(ctx context.Context, f RecordFilter, field string, limit int) ([]GroupCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filterBSON(f)}},
		{{Key: "$group", Value: bson.M{"_id": "$" + field, "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	if limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit}})
	}
	cur, err := m.Coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID    any   `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}
	out := make([]GroupCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, GroupCount{Value: model.Stringify(r.ID), Count: r.Count})
	}
	return out, nil
}

func (m *MongoRecords) Extreme(ctx context.Context, f RecordFilter, field string, desc bool) (*model.Record, error) {
	filter := filterBSON(f)
	// 忽略空值
	if existing, ok := filter[field].(bson.M); ok {
		existing["$gt"] = ""
	} else {
		filter[field] = bson.M{"$gt": ""}
	}
	dir := 1
	if desc {
		dir = -1
	}
	var rec model.Record
	err := m.Coll.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: field, Value: dir}})).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (m *MongoRecords) Delete(ctx context.Context, ids []string) (int64, error) {
	res, err := m.Coll.DeleteMany(ctx, filterBSON(RecordFilter{IDs: ids}))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// MongoSyncStates 同步状态集合，key 唯一索引
type MongoSyncStates struct {
	Coll *mongo.Collection
}

func NewMongoSyncStates(coll *mongo.Collection) *MongoSyncStates {
	return &MongoSyncStates{Coll: coll}
}

func (m *MongoSyncStates) Save(ctx context.Context, st *model.SyncState) error {
	_, err := m.Coll.ReplaceOne(ctx, bson.M{"key": st.Key}, st, options.Replace().SetUpsert(true))
	return err
}

func (m *MongoSyncStates) Get(ctx context.Context, key string) (*model.SyncState, error) {
	var st model.SyncState
	err := m.Coll.FindOne(ctx, bson.M{"key": key}).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *MongoSyncStates) Latest(ctx context.Context) (*model.SyncState, error) {
	var st model.SyncState
	err := m.Coll.FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "updatedAt", Value: -1}})).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (m *MongoSyncStates) LastSuccess(ctx context.Context) (*model.SyncState, error) {
	var st model.SyncState
	err := m.Coll.FindOne(ctx, bson.M{"status": model.SyncSuccess},
		options.FindOne().SetSort(bson.D{{Key: "lastSuccessAt", Value: -1}})).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}
