package mongo

import (
	"context"
	"errors"
	"time"

	"alcyxob/filemanager/internal/domain"
	"alcyxob/filemanager/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const recordCollectionName = "records"

// mongoRecordRepository implements repository.RecordRepository
type mongoRecordRepository struct {
	collection *mongo.Collection
}

// NewMongoRecordRepository creates a new Record repository backed by MongoDB.
func NewMongoRecordRepository(db *mongo.Database) repository.RecordRepository {
	return &mongoRecordRepository{
		collection: db.Collection(recordCollectionName),
	}
}

// Create inserts a new record and sets its ID and timestamps.
func (r *mongoRecordRepository) Create(ctx context.Context, record *domain.Record) (primitive.ObjectID, error) {
	if record.Kind == "" {
		return primitive.NilObjectID, repository.ErrInvalid
	}

	record.ID = primitive.NewObjectID()
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}

	return insertedID, nil
}

// GetByID retrieves a record of the given kind by its ID.
func (r *mongoRecordRepository) GetByID(ctx context.Context, kind string, id primitive.ObjectID) (*domain.Record, error) {
	var record domain.Record
	filter := bson.M{"_id": id, "kind": kind}

	err := r.collection.FindOne(ctx, filter).Decode(&record)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ListByKind retrieves all records of a kind, newest first.
func (r *mongoRecordRepository) ListByKind(ctx context.Context, kind string) ([]domain.Record, error) {
	var records []domain.Record
	filter := bson.M{"kind": kind}
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	return records, nil
}

// Update replaces the record's data and bumps UpdatedAt. Kind, creator and
// creation time are never changed.
func (r *mongoRecordRepository) Update(ctx context.Context, record *domain.Record) error {
	if record.ID == primitive.NilObjectID {
		return repository.ErrInvalid
	}

	record.UpdatedAt = time.Now().UTC()
	filter := bson.M{"_id": record.ID, "kind": record.Kind}
	update := bson.M{
		"$set": bson.M{
			"data":      record.Data,
			"updatedAt": record.UpdatedAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes a record of the given kind.
func (r *mongoRecordRepository) Delete(ctx context.Context, kind string, id primitive.ObjectID) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "kind": kind})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureRecordIndexes creates necessary indexes for the records collection.
func EnsureRecordIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			// Listing a kind newest first
			Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "createdBy", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
