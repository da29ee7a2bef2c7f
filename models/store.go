package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kombuciao-api/common"
)

const (
	StoresCollection  = "stores"
	ReportsCollection = "reports"
)

// opTimeout bounds every single database call.
const opTimeout = 5 * time.Second

// ErrNoMatch is returned by conditional writes whose filter matched nothing.
var ErrNoMatch = errors.New("no document matched")

type Address struct {
	Street   string `json:"street" bson:"street"`
	Postcode string `json:"postcode" bson:"postcode"`
	City     string `json:"city" bson:"city"`
}

// GeoPoint is a GeoJSON point. Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

func NewPoint(lng, lat float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lng, lat}}
}

func (p *GeoPoint) Validate() error {
	if p == nil {
		return common.NewValidationError("location is required")
	}
	if p.Type != "" && p.Type != "Point" {
		return common.NewValidationError("location.type must be \"Point\"")
	}
	if len(p.Coordinates) != 2 {
		return common.NewValidationError("location.coordinates must be [longitude, latitude]")
	}
	if err := ValidateLngLat(p.Coordinates[0], p.Coordinates[1]); err != nil {
		return err
	}
	p.Type = "Point"
	return nil
}

// ValidateLngLat checks WGS84 ranges.
func ValidateLngLat(lng, lat float64) error {
	if !finite(lng) || !finite(lat) {
		return common.NewValidationError("coordinates must be finite numbers")
	}
	if lng < -180 || lng > 180 {
		return common.NewValidationError("longitude must be within [-180, 180]")
	}
	if lat < -90 || lat > 90 {
		return common.NewValidationError("latitude must be within [-90, 90]")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Store is a physical retail location.
type Store struct {
	ID           primitive.ObjectID `json:"_id" bson:"_id,omitempty"`
	OsmID        string             `json:"osmId,omitempty" bson:"osmId,omitempty"`
	Name         string             `json:"name" bson:"name" validate:"required"`
	Address      Address            `json:"address" bson:"address"`
	Location     *GeoPoint          `json:"location" bson:"location,omitempty" validate:"required"`
	OpeningHours string             `json:"openingHours" bson:"openingHours"`
	Types        []StoreType        `json:"types" bson:"types" validate:"dive,storetype"`
	CreatedAt    time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// StoreResult is a store as returned by search: annotated with its
// distance from the query point and the flavors its reports vouch for.
type StoreResult struct {
	Store    `bson:",inline"`
	Distance *float64 `json:"distance,omitempty" bson:"distance,omitempty"`
	Flavors  []Flavor `json:"flavors" bson:"flavors"`
}

// StoreSummary is the slice of a store embedded in report listings.
type StoreSummary struct {
	ID       primitive.ObjectID `json:"_id" bson:"_id"`
	Name     string             `json:"name" bson:"name"`
	Address  Address            `json:"address" bson:"address"`
	Location *GeoPoint          `json:"location" bson:"location"`
}

type StoreStats struct {
	TotalStores            int64 `json:"totalStores"`
	StoresWithAvailability int64 `json:"storesWithAvailability"`
}

// StoreUpsert is one importer write keyed on OsmID.
type StoreUpsert struct {
	OsmID        string
	Name         string
	Address      Address
	Location     *GeoPoint
	OpeningHours string
	Types        []StoreType
}

type BulkResult struct {
	Upserted int64
	Modified int64
	Matched  int64
}

// StoreRepo persists stores in MongoDB.
type StoreRepo struct {
	col *mongo.Collection
}

func NewStoreRepo(col *mongo.Collection) *StoreRepo {
	return &StoreRepo{col: col}
}

func (r *StoreRepo) Insert(ctx context.Context, s *Store) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if s.ID.IsZero() {
		s.ID = primitive.NewObjectID()
	}
	if _, err := r.col.InsertOne(ctx, s); err != nil {
		return common.ConvertMongoError("models.StoreRepo.Insert", err, "store not found")
	}
	return nil
}

func (r *StoreRepo) FindByID(ctx context.Context, id primitive.ObjectID) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var s Store
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&s); err != nil {
		return nil, common.ConvertMongoError("models.StoreRepo.FindByID", err, "store not found")
	}
	return &s, nil
}

func (r *StoreRepo) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, common.ConvertMongoError("models.StoreRepo.Exists", err, "store not found")
	}
	return n > 0, nil
}

// Update applies a $set of fields and returns the stored document.
func (r *StoreRepo) Update(ctx context.Context, id primitive.ObjectID, fields bson.M) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var s Store
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": fields}, opts).Decode(&s)
	if err != nil {
		return nil, common.ConvertMongoError("models.StoreRepo.Update", err, "store not found")
	}
	return &s, nil
}

func (r *StoreRepo) Delete(ctx context.Context, id primitive.ObjectID) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return common.ConvertMongoError("models.StoreRepo.Delete", err, "store not found")
	}
	if res.DeletedCount == 0 {
		return common.NewNotFoundError("store not found")
	}
	return nil
}

// searchFacet mirrors the $facet stage that ends a search pipeline.
type searchFacet struct {
	Results []StoreResult `bson:"results"`
	Total   []struct {
		Value int64 `bson:"value"`
	} `bson:"total"`
}

// Search runs a pipeline ending in {$facet: {results, total}} and returns
// the page with the total count of matching stores.
func (r *StoreRepo) Search(ctx context.Context, pipeline mongo.Pipeline) ([]StoreResult, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, 0, common.ConvertMongoError("models.StoreRepo.Search", err, "store not found")
	}
	defer cursor.Close(ctx)

	var facets []searchFacet
	if err := cursor.All(ctx, &facets); err != nil {
		return nil, 0, common.ConvertMongoError("models.StoreRepo.Search", err, "store not found")
	}

	stores := []StoreResult{}
	var total int64
	if len(facets) > 0 {
		if facets[0].Results != nil {
			stores = facets[0].Results
		}
		if len(facets[0].Total) > 0 {
			total = facets[0].Total[0].Value
		}
	}
	for i := range stores {
		if stores[i].Flavors == nil {
			stores[i].Flavors = []Flavor{}
		}
	}
	return stores, total, nil
}

// Stats runs a pipeline ending in {$facet: {total, available}}.
func (r *StoreRepo) Stats(ctx context.Context, pipeline mongo.Pipeline) (StoreStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cursor, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return StoreStats{}, common.ConvertMongoError("models.StoreRepo.Stats", err, "store not found")
	}
	defer cursor.Close(ctx)

	var facets []struct {
		Total     []struct{ Count int64 } `bson:"total"`
		Available []struct{ Count int64 } `bson:"available"`
	}
	if err := cursor.All(ctx, &facets); err != nil {
		return StoreStats{}, common.ConvertMongoError("models.StoreRepo.Stats", err, "store not found")
	}

	var stats StoreStats
	if len(facets) > 0 {
		if len(facets[0].Total) > 0 {
			stats.TotalStores = facets[0].Total[0].Count
		}
		if len(facets[0].Available) > 0 {
			stats.StoresWithAvailability = facets[0].Available[0].Count
		}
	}
	return stats, nil
}

// BulkUpsert writes stores keyed on osmId in one unordered bulk write.
// createdAt is only set when the store is new.
func (r *StoreRepo) BulkUpsert(ctx context.Context, stores []StoreUpsert, now time.Time) (BulkResult, error) {
	if len(stores) == 0 {
		return BulkResult{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 6*opTimeout)
	defer cancel()

	writes := make([]mongo.WriteModel, 0, len(stores))
	for _, s := range stores {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"osmId": s.OsmID}).
			SetUpdate(bson.M{
				"$set": bson.M{
					"name":         s.Name,
					"address":      s.Address,
					"location":     s.Location,
					"openingHours": s.OpeningHours,
					"types":        s.Types,
					"updatedAt":    now,
				},
				"$setOnInsert": bson.M{"createdAt": now},
			}).
			SetUpsert(true))
	}

	// An unordered bulk write still reports what it managed to write.
	res, err := r.col.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	var out BulkResult
	if res != nil {
		out = BulkResult{Upserted: res.UpsertedCount, Modified: res.ModifiedCount, Matched: res.MatchedCount}
	}
	if err != nil {
		return out, fmt.Errorf("models.StoreRepo.BulkUpsert: %w", err)
	}
	return out, nil
}

// LatestUpdate returns the newest updatedAt in the collection, or the zero
// time when it is empty.
func (r *StoreRepo) LatestUpdate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	opts := options.FindOne().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetProjection(bson.M{"updatedAt": 1})
	var doc struct {
		UpdatedAt time.Time `bson:"updatedAt"`
	}
	err := r.col.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("models.StoreRepo.LatestUpdate: %w", err)
	}
	return doc.UpdatedAt, nil
}

func isObjectIDHex(s string) bool {
	_, err := primitive.ObjectIDFromHex(s)
	return err == nil
}
