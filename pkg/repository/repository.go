package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope narrows a query, e.g. ordering or row locking.
type Scope func(*gorm.DB) *gorm.DB

// Repository is a thin generic gorm store. FindOne returns (nil, nil) on a miss.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	FindOne(ctx context.Context, query *T, scopes ...Scope) (*T, error)
	Find(ctx context.Context, query *T, scopes ...Scope) ([]*T, error)
	Create(ctx context.Context, resource *T) error
	UpdateColumns(ctx context.Context, id any, columns map[string]any) (int64, error)
}

type store[T any] struct {
	db *gorm.DB
}

func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (r *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return r
	}
	return &store[T]{db: tx}
}

func (r *store[T]) FindOne(ctx context.Context, query *T, scopes ...Scope) (*T, error) {
	var result T
	err := r.build(ctx, query, scopes).Take(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (r *store[T]) Find(ctx context.Context, query *T, scopes ...Scope) ([]*T, error) {
	var result []*T
	err := r.build(ctx, query, scopes).Find(&result).Error
	return result, err
}

func (r *store[T]) Create(ctx context.Context, resource *T) error {
	return r.db.WithContext(ctx).Create(resource).Error
}

// UpdateColumns writes exactly the given columns, zero values included.
func (r *store[T]) UpdateColumns(ctx context.Context, id any, columns map[string]any) (int64, error) {
	res := r.db.WithContext(ctx).Model(new(T)).Where("id = ?", id).Updates(columns)
	return res.RowsAffected, res.Error
}

func (r *store[T]) build(ctx context.Context, query *T, scopes []Scope) *gorm.DB {
	db := r.db.WithContext(ctx)
	if query != nil {
		db = db.Where(query)
	}
	for _, scope := range scopes {
		db = scope(db)
	}
	return db
}

// ForUpdate locks the selected rows for the rest of the transaction.
func ForUpdate() Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
}

func OrderBy(column string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order(column)
	}
}
