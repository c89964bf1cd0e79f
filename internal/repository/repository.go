package repository

import (
	"context"

	"alcyxob/filemanager/internal/domain"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Error constants for repository layer
var (
	ErrNotFound     = RepositoryError("not found")
	ErrUpdateFailed = RepositoryError("update failed")
	ErrInvalid      = RepositoryError("invalid record")
)

// RepositoryError helps distinguish repository errors
type RepositoryError string

func (e RepositoryError) Error() string {
	return string(e)
}

// RecordRepository defines the interface for persisting records.
// Every lookup is scoped to a kind.
type RecordRepository interface {
	Create(ctx context.Context, record *domain.Record) (primitive.ObjectID, error)
	GetByID(ctx context.Context, kind string, id primitive.ObjectID) (*domain.Record, error)
	ListByKind(ctx context.Context, kind string) ([]domain.Record, error)
	Update(ctx context.Context, record *domain.Record) error
	Delete(ctx context.Context, kind string, id primitive.ObjectID) error
}
