package store

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/money-on-chain/stable-indexer/internal/logger"
)

var log = logger.NewModuleLogger("store")

type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// Dial connects to the Mongo deployment named by uri/dbName (config.mongo
// in spec.md section 6) and verifies connectivity with a ping.
func Dial(ctx context.Context, uri, dbName string) (Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to mongo")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, errors.Wrap(err, "pinging mongo")
	}
	return &mongoStore{client: client, db: client.Database(dbName)}, nil
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func toBSONFilter(key map[string]interface{}) bson.M {
	f := bson.M{}
	for k, v := range key {
		f[k] = v
	}
	return f
}

func (s *mongoStore) Upsert(ctx context.Context, collection string, key map[string]interface{}, doc interface{}, insertOnlyFields ...string) error {
	col := s.db.Collection(collection)
	update, err := upsertUpdateDoc(doc, insertOnlyFields)
	if err != nil {
		return errors.Wrapf(err, "building upsert document for %s", collection)
	}
	opts := options.Update().SetUpsert(true)
	_, err = col.UpdateOne(ctx, toBSONFilter(key), update, opts)
	if err != nil {
		return errors.Wrapf(err, "upsert into %s", collection)
	}
	return nil
}

// upsertUpdateDoc splits doc into a $set document and, when
// insertOnlyFields is non-empty, a $setOnInsert document carrying those
// fields' values — so a re-upsert of an existing record never overwrites
// them (Store.Upsert's insertOnlyFields contract).
func upsertUpdateDoc(doc interface{}, insertOnlyFields []string) (bson.M, error) {
	if len(insertOnlyFields) == 0 {
		return bson.M{"$set": doc}, nil
	}
	full, err := toBSONDoc(doc)
	if err != nil {
		return nil, err
	}
	setOnInsert := bson.M{}
	for _, f := range insertOnlyFields {
		if v, ok := full[f]; ok {
			setOnInsert[f] = v
			delete(full, f)
		}
	}
	return bson.M{"$set": full, "$setOnInsert": setOnInsert}, nil
}

func toBSONDoc(v interface{}) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *mongoStore) UpsertIfAbsent(ctx context.Context, collection string, key map[string]interface{}, doc interface{}) (bool, error) {
	col := s.db.Collection(collection)
	update := bson.M{"$setOnInsert": doc}
	opts := options.Update().SetUpsert(true)
	res, err := col.UpdateOne(ctx, toBSONFilter(key), update, opts)
	if err != nil {
		return false, errors.Wrapf(err, "upsert-if-absent into %s", collection)
	}
	return res.UpsertedCount > 0, nil
}

func (s *mongoStore) FindOne(ctx context.Context, collection string, key map[string]interface{}, out interface{}) (bool, error) {
	col := s.db.Collection(collection)
	err := col.FindOne(ctx, toBSONFilter(key)).Decode(out)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "find_one in %s", collection)
	}
	return true, nil
}

func (s *mongoStore) FindMany(ctx context.Context, collection string, filter map[string]interface{}, sort []Sort, limit int64, out interface{}) error {
	col := s.db.Collection(collection)
	opts := options.Find()
	if len(sort) > 0 {
		sortDoc := bson.D{}
		for _, s := range sort {
			dir := 1
			if s.Desc {
				dir = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: s.Field, Value: dir})
		}
		opts.SetSort(sortDoc)
	}
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := col.Find(ctx, toBSONFilter(filter), opts)
	if err != nil {
		return errors.Wrapf(err, "find_many in %s", collection)
	}
	defer cur.Close(ctx)
	return cur.All(ctx, out)
}

func (s *mongoStore) UpdateOne(ctx context.Context, collection string, key map[string]interface{}, patch map[string]interface{}) error {
	col := s.db.Collection(collection)
	_, err := col.UpdateOne(ctx, toBSONFilter(key), bson.M{"$set": patch})
	if err != nil {
		return errors.Wrapf(err, "update_one in %s", collection)
	}
	return nil
}

func (s *mongoStore) CreateIndex(ctx context.Context, spec IndexSpec) error {
	col := s.db.Collection(spec.Collection)
	keys := bson.D{}
	for _, f := range spec.Fields {
		dir := 1
		if f.Desc {
			dir = -1
		}
		keys = append(keys, bson.E{Key: f.Field, Value: dir})
	}
	model := mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(spec.Unique),
	}
	_, err := col.Indexes().CreateOne(ctx, model)
	if err != nil {
		return errors.Wrapf(err, "creating index on %s", spec.Collection)
	}
	log.Info("index ensured", "collection", spec.Collection, "fields", spec.Fields, "unique", spec.Unique)
	return nil
}

// EnsureIndexes creates the required indexes named in spec.md section 6:
// operations.operId (desc, non-unique) and operations.createdAt (desc,
// non-unique). CreateIndex is itself idempotent (Mongo no-ops on an
// existing equivalent index), matching spec.md's create_index contract.
func EnsureIndexes(ctx context.Context, s Store) error {
	specs := []IndexSpec{
		{Collection: "operations", Fields: []Sort{{Field: "operId", Desc: true}}, Unique: false},
		{Collection: "operations", Fields: []Sort{{Field: "createdAt", Desc: true}}, Unique: false},
	}
	for _, spec := range specs {
		if err := s.CreateIndex(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}
