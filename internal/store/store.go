// Package store is the document-store abstraction of spec.md section 2
// item 2: upsert-by-key, find-one, find-many with filter+sort, update-one
// by patch, and secondary-index creation. The shape follows the teacher's
// Repository interface (datasync/chaindatafetcher/common/common.go and
// kafka/repository.go): a small interface the rest of the pipeline is
// written against, with one concrete implementation per backing store.
package store

import "context"

// Sort describes one sort key, ascending unless Desc is set.
type Sort struct {
	Field string
	Desc  bool
}

// IndexSpec describes a secondary index to be created idempotently at
// startup, spec.md section 6's "Required indexes".
type IndexSpec struct {
	Collection string
	Fields     []Sort
	Unique     bool
}

// Store is the persistence interface every pipeline component depends on.
type Store interface {
	// Upsert writes doc under the given collection/key, inserting it if
	// absent and merging it into the existing document otherwise.
	//
	// insertOnlyFields names doc fields (by their bson tag) that should
	// only ever be written by the insert branch of the upsert — e.g.
	// raw_transactions.processed, which must default to false on first
	// write but never be reset by a later re-upsert of the same record
	// (spec.md section 4.1). Fields not named here always take the
	// value carried by doc, on both insert and update.
	Upsert(ctx context.Context, collection string, key map[string]interface{}, doc interface{}, insertOnlyFields ...string) error

	// UpsertIfAbsent behaves like Upsert but is a strict no-op if a
	// document already exists for key - the ConfirmingRescanner's
	// "only inserts records not already present" rule (spec.md section
	// 4.2).
	UpsertIfAbsent(ctx context.Context, collection string, key map[string]interface{}, doc interface{}) (inserted bool, err error)

	FindOne(ctx context.Context, collection string, key map[string]interface{}, out interface{}) (found bool, err error)

	FindMany(ctx context.Context, collection string, filter map[string]interface{}, sort []Sort, limit int64, out interface{}) error

	UpdateOne(ctx context.Context, collection string, key map[string]interface{}, patch map[string]interface{}) error

	CreateIndex(ctx context.Context, spec IndexSpec) error
}
