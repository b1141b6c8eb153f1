package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoDatabase maps each logical collection onto a Mongo collection of the same name.
type MongoDatabase struct {
	client *mongo.Client
	db     *mongo.Database
}

func OpenMongo(ctx context.Context, uri, database string) (*MongoDatabase, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetTimeout(10 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	m := &MongoDatabase{client: client, db: client.Database(database)}
	if err := m.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

// EnsureIndexes creates the shared unique indexes. It is idempotent.
func (m *MongoDatabase) EnsureIndexes(ctx context.Context) error {
	for _, index := range UniqueIndexes {
		keys := bson.D{}
		for _, field := range index.Fields {
			keys = append(keys, bson.E{Key: field, Value: 1})
		}
		model := mongo.IndexModel{Keys: keys, Options: options.Index().SetUnique(true)}
		if _, err := m.db.Collection(index.Collection).Indexes().CreateOne(ctx, model); err != nil {
			return classifyMongo("create index on "+index.Collection, err)
		}
	}
	return nil
}

func (m *MongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: m.db.Collection(name), name: name}
}

func (m *MongoDatabase) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return classifyMongo("ping mongo", err)
	}
	return nil
}

func (m *MongoDatabase) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoCollection struct {
	coll *mongo.Collection
	name string
}

func mongoFilter(filter Filter) bson.D {
	parts := make(bson.A, 0, len(filter))
	for _, cond := range filter {
		switch cond.op {
		case opIRegex:
			pattern, _ := cond.Value.(string)
			parts = append(parts, bson.D{{Key: cond.Field, Value: bson.Regex{Pattern: pattern, Options: "i"}}})
		default:
			parts = append(parts, bson.D{{Key: cond.Field, Value: cond.Value}})
		}
	}
	switch len(parts) {
	case 0:
		return bson.D{}
	case 1:
		return parts[0].(bson.D)
	}
	return bson.D{{Key: "$and", Value: parts}}
}

func mongoSort(opts FindOptions) bson.D {
	if opts.SortField == "" {
		return nil
	}
	direction := 1
	if opts.SortDesc {
		direction = -1
	}
	return bson.D{{Key: opts.SortField, Value: direction}}
}

func decodeMongo(raw bson.Raw) (Doc, error) {
	relaxed, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("encode bson document: %w", err)
	}
	doc := Doc{}
	if err := json.Unmarshal(relaxed, &doc); err != nil {
		return nil, fmt.Errorf("decode bson document: %w", err)
	}
	return doc, nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter Filter, opts ...FindOption) (Doc, error) {
	raw, err := c.coll.FindOne(ctx, mongoFilter(filter), findOneOptions(buildFindOptions(opts))).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyMongo("find "+c.name, err)
	}
	return decodeMongo(raw)
}

func findOneOptions(opts FindOptions) *options.FindOneOptionsBuilder {
	builder := options.FindOne()
	if sort := mongoSort(opts); sort != nil {
		builder.SetSort(sort)
	}
	return builder
}

func (c *mongoCollection) Find(ctx context.Context, filter Filter, opts ...FindOption) ([]Doc, error) {
	findOpts := buildFindOptions(opts)
	builder := options.Find()
	if sort := mongoSort(findOpts); sort != nil {
		builder.SetSort(sort)
	}
	if findOpts.Limit > 0 {
		builder.SetLimit(int64(findOpts.Limit))
	}
	cur, err := c.coll.Find(ctx, mongoFilter(filter), builder)
	if err != nil {
		return nil, classifyMongo("find "+c.name, err)
	}
	defer cur.Close(ctx)

	var out []Doc
	for cur.Next(ctx) {
		doc, err := decodeMongo(cur.Current)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, classifyMongo("iterate "+c.name, err)
	}
	return out, nil
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc Doc) (string, error) {
	stored, err := canonicalDoc(doc)
	if err != nil {
		return "", err
	}
	if stored.ID() == "" {
		stored["_id"] = newDocumentID()
	}
	if _, err := c.coll.InsertOne(ctx, map[string]any(stored)); err != nil {
		return "", classifyMongo("insert "+c.name, err)
	}
	return stored.ID(), nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter Filter, set Doc) (int64, error) {
	patch, err := canonicalDoc(set)
	if err != nil {
		return 0, err
	}
	delete(patch, "_id")
	res, err := c.coll.UpdateOne(ctx, mongoFilter(filter), bson.M{"$set": map[string]any(patch)})
	if err != nil {
		return 0, classifyMongo("update "+c.name, err)
	}
	return res.MatchedCount, nil
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	res, err := c.coll.DeleteOne(ctx, mongoFilter(filter))
	if err != nil {
		return 0, classifyMongo("delete "+c.name, err)
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, mongoFilter(filter))
	if err != nil {
		return 0, classifyMongo("delete "+c.name, err)
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	count, err := c.coll.CountDocuments(ctx, mongoFilter(filter))
	if err != nil {
		return 0, classifyMongo("count "+c.name, err)
	}
	return count, nil
}

func classifyMongo(op string, err error) error {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	case mongo.IsTimeout(err),
		mongo.IsNetworkError(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
