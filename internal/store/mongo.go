package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	entitiesCollection = "entities"
	countersCollection = "counters"
	entityCounterID    = "entity_ids"
)

type mongoDoc struct {
	ID         string `bson:"_id"`
	Kind       string `bson:"kind"`
	KeyID      int64  `bson:"key_id"`
	Name       string `bson:"name"`
	ParentKind string `bson:"parent_kind"`
	ParentID   int64  `bson:"parent_id"`
	ParentName string `bson:"parent_name"`
	Data       bson.D `bson:"data"`
}

type mongoRead struct {
	KeyID      int64    `bson:"key_id"`
	Name       string   `bson:"name"`
	ParentKind string   `bson:"parent_kind"`
	ParentID   int64    `bson:"parent_id"`
	ParentName string   `bson:"parent_name"`
	Data       bson.Raw `bson:"data"`
}

// Mongo stores entities in one collection. Transactions need a replica set.
type Mongo struct {
	mongoDB
	client *mongo.Client
}

func NewMongo(client *mongo.Client, database string) *Mongo {
	db := client.Database(database)
	return &Mongo{
		mongoDB: mongoDB{
			entities: db.Collection(entitiesCollection),
			counters: db.Collection(countersCollection),
		},
		client: client,
	}
}

// EnsureIndexes creates the lookup and ancestor indexes.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.entities.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "key_id", Value: 1}, {Key: "name", Value: 1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "parent_kind", Value: 1}, {Key: "parent_id", Value: 1}, {Key: "parent_name", Value: 1}}},
		{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "data.status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (m *Mongo) RunInTransaction(ctx context.Context, fn TxFunc) error {
	sess, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, &m.mongoDB)
	})
	return err
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoDB struct {
	entities *mongo.Collection
	counters *mongo.Collection
}

func docID(k *Key) string {
	return k.Kind + "/" + strconv.FormatInt(k.ID, 10) + "/" + k.Name
}

func (d *mongoDB) Get(ctx context.Context, key *Key) (*Entity, error) {
	if key.Incomplete() {
		return nil, ErrIncompleteKey
	}
	var doc mongoRead
	err := d.entities.FindOne(ctx, bson.M{"_id": docID(key)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoSuchEntity
		}
		return nil, fmt.Errorf("get entity %s: %w", key, err)
	}
	return doc.entity(key.Kind)
}

func (d *mongoDB) Put(ctx context.Context, key *Key, data []byte) error {
	doc, err := newMongoDoc(key, data)
	if err != nil {
		return fmt.Errorf("put entity %s: %w", key, err)
	}
	_, err = d.entities.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put entity %s: %w", key, err)
	}
	return nil
}

func (d *mongoDB) Insert(ctx context.Context, key *Key, data []byte) error {
	doc, err := newMongoDoc(key, data)
	if err != nil {
		return fmt.Errorf("insert entity %s: %w", key, err)
	}
	if _, err := d.entities.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEntityExists
		}
		return fmt.Errorf("insert entity %s: %w", key, err)
	}
	return nil
}

func newMongoDoc(key *Key, data []byte) (*mongoDoc, error) {
	if key.Incomplete() {
		return nil, ErrIncompleteKey
	}
	var body bson.D
	if err := bson.UnmarshalExtJSON(data, false, &body); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	pKind, pID, pName := parentCols(key)
	return &mongoDoc{
		ID:         docID(key),
		Kind:       key.Kind,
		KeyID:      key.ID,
		Name:       key.Name,
		ParentKind: pKind,
		ParentID:   pID,
		ParentName: pName,
		Data:       body,
	}, nil
}

func (d *mongoDB) Delete(ctx context.Context, key *Key) error {
	if key.Incomplete() {
		return ErrIncompleteKey
	}
	if _, err := d.entities.DeleteOne(ctx, bson.M{"_id": docID(key)}); err != nil {
		return fmt.Errorf("delete entity %s: %w", key, err)
	}
	return nil
}

func (d *mongoDB) AllocateID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := d.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": entityCounterID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("allocate id: %w", err)
	}
	return counter.Seq, nil
}

func mongoFilter(q Query) bson.M {
	filter := bson.M{"kind": q.Kind}
	if q.Ancestor != nil {
		filter["parent_kind"] = q.Ancestor.Kind
		filter["parent_id"] = q.Ancestor.ID
		filter["parent_name"] = q.Ancestor.Name
	}
	for _, f := range q.Filters {
		filter["data."+f.Field] = f.Value
	}
	return filter
}

func (d *mongoDB) Run(ctx context.Context, q Query) (Page, error) {
	if err := validateQuery(q); err != nil {
		return Page{}, err
	}
	opts := options.Find().SetSort(bson.D{{Key: "key_id", Value: 1}, {Key: "name", Value: 1}})
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit + 1))
	}

	cur, err := d.entities.Find(ctx, mongoFilter(q), opts)
	if err != nil {
		return Page{}, fmt.Errorf("query %s: %w", q.Kind, err)
	}
	var docs []mongoRead
	if err := cur.All(ctx, &docs); err != nil {
		return Page{}, fmt.Errorf("query %s: %w", q.Kind, err)
	}

	var page Page
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
		page.More = true
	}
	for _, doc := range docs {
		e, err := doc.entity(q.Kind)
		if err != nil {
			return Page{}, err
		}
		page.Entities = append(page.Entities, *e)
	}
	return page, nil
}

func (d *mongoDB) Count(ctx context.Context, q Query) (int, error) {
	if err := validateQuery(q); err != nil {
		return 0, err
	}
	n, err := d.entities.CountDocuments(ctx, mongoFilter(q))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", q.Kind, err)
	}
	return int(n), nil
}

func (r mongoRead) entity(kind string) (*Entity, error) {
	data, err := bson.MarshalExtJSON(r.Data, false, false)
	if err != nil {
		return nil, fmt.Errorf("encode document %s/%d: %w", kind, r.KeyID, err)
	}
	k := &Key{Kind: kind, ID: r.KeyID, Name: r.Name}
	if r.ParentKind != "" {
		k.Parent = &Key{Kind: r.ParentKind, ID: r.ParentID, Name: r.ParentName}
	}
	return &Entity{Key: k, Data: data}, nil
}
