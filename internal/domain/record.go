package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Record is an application document of some kind ("listings", "profiles")
// whose Data may carry file references. Which fields of Data hold file
// references is configured per kind.
type Record struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind      string             `bson:"kind" json:"kind"`
	Data      map[string]any     `bson:"data" json:"data"`
	CreatedBy string             `bson:"createdBy,omitempty" json:"createdBy,omitempty"` // user ID from the token
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}
