package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// MemStore is an in-memory Store used by tests in place of a live Mongo
// deployment, the same role the teacher's "dummy" service stubs
// (ranger/dummy.go, node/sc/dummy.go) play for integration-style tests.
type MemStore struct {
	mu          sync.Mutex
	collections map[string]map[string]bson.M
	indexes     []IndexSpec
}

func NewMemStore() *MemStore {
	return &MemStore{collections: make(map[string]map[string]bson.M)}
}

func docKey(key map[string]interface{}) string {
	return fmt.Sprintf("%v", key)
}

func toDoc(v interface{}) (bson.M, error) {
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

func (m *MemStore) collection(name string) map[string]bson.M {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]bson.M)
		m.collections[name] = c
	}
	return c
}

func (m *MemStore) Upsert(ctx context.Context, collection string, key map[string]interface{}, doc interface{}, insertOnlyFields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	patch, err := toDoc(doc)
	if err != nil {
		return err
	}
	col := m.collection(collection)
	k := docKey(key)
	existing, existed := col[k]
	if !existed {
		existing = bson.M{}
		for kk, vv := range key {
			existing[kk] = vv
		}
	}
	insertOnly := make(map[string]bool, len(insertOnlyFields))
	for _, f := range insertOnlyFields {
		insertOnly[f] = true
	}
	for kk, vv := range patch {
		if existed && insertOnly[kk] {
			continue
		}
		existing[kk] = vv
	}
	col[k] = existing
	return nil
}

func (m *MemStore) UpsertIfAbsent(ctx context.Context, collection string, key map[string]interface{}, doc interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	col := m.collection(collection)
	k := docKey(key)
	if _, ok := col[k]; ok {
		return false, nil
	}
	patch, err := toDoc(doc)
	if err != nil {
		return false, err
	}
	for kk, vv := range key {
		patch[kk] = vv
	}
	col[k] = patch
	return true, nil
}

func (m *MemStore) FindOne(ctx context.Context, collection string, key map[string]interface{}, out interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	col := m.collection(collection)
	k := docKey(key)
	doc, ok := col[k]
	if !ok {
		return false, nil
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return false, err
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func matches(doc bson.M, filter map[string]interface{}) bool {
	for k, v := range filter {
		op, isOp := v.(map[string]interface{})
		if isOp {
			if !matchOperators(doc[k], op) {
				return false
			}
			continue
		}
		if fmt.Sprintf("%v", doc[k]) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

// matchOperators implements the small subset of Mongo query operators the
// pipeline actually issues: $gt, $gte, $lt, $lte, $ne, $eq.
func matchOperators(field interface{}, ops map[string]interface{}) bool {
	for op, val := range ops {
		cmp := compareValues(field, val)
		switch op {
		case "$gt":
			if cmp <= 0 {
				return false
			}
		case "$gte":
			if cmp < 0 {
				return false
			}
		case "$lt":
			if cmp >= 0 {
				return false
			}
		case "$lte":
			if cmp > 0 {
				return false
			}
		case "$ne":
			if cmp == 0 {
				return false
			}
		case "$eq":
			if cmp != 0 {
				return false
			}
		}
	}
	return true
}

func compareValues(a, b interface{}) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as := fmt.Sprintf("%v", a)
	bs := fmt.Sprintf("%v", b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func (m *MemStore) FindMany(ctx context.Context, collection string, filter map[string]interface{}, sortSpec []Sort, limit int64, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col := m.collection(collection)
	var docs []bson.M
	for _, doc := range col {
		if matches(doc, filter) {
			docs = append(docs, doc)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, s := range sortSpec {
			ci := compareValues(docs[i][s.Field], docs[j][s.Field])
			if ci == 0 {
				continue
			}
			if s.Desc {
				return ci > 0
			}
			return ci < 0
		}
		return false
	})
	if limit > 0 && int64(len(docs)) > limit {
		docs = docs[:limit]
	}

	// out must be a pointer to a slice; decode each matched document into
	// a fresh element and append, mirroring what a real mongo.Cursor.All
	// does internally.
	outPtr := reflect.ValueOf(out)
	if outPtr.Kind() != reflect.Ptr || outPtr.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("find_many: out must be a pointer to a slice, got %T", out)
	}
	sliceVal := reflect.MakeSlice(outPtr.Elem().Type(), 0, len(docs))
	elemType := outPtr.Elem().Type().Elem()
	for _, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return err
		}
		elemPtr := reflect.New(elemType)
		if err := bson.Unmarshal(raw, elemPtr.Interface()); err != nil {
			return err
		}
		sliceVal = reflect.Append(sliceVal, elemPtr.Elem())
	}
	outPtr.Elem().Set(sliceVal)
	return nil
}

func (m *MemStore) UpdateOne(ctx context.Context, collection string, key map[string]interface{}, patch map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col := m.collection(collection)
	k := docKey(key)
	doc, ok := col[k]
	if !ok {
		doc = bson.M{}
		for kk, vv := range key {
			doc[kk] = vv
		}
	}
	for kk, vv := range patch {
		doc[kk] = vv
	}
	col[k] = doc
	return nil
}

func (m *MemStore) CreateIndex(ctx context.Context, spec IndexSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes = append(m.indexes, spec)
	return nil
}
