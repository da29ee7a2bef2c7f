package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"kombuciao-api/common"
	"kombuciao-api/models"
)

// StoreRepository is the storage StoreService needs. *models.StoreRepo
// implements it.
type StoreRepository interface {
	Insert(ctx context.Context, s *models.Store) error
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Store, error)
	Update(ctx context.Context, id primitive.ObjectID, fields bson.M) (*models.Store, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
	Search(ctx context.Context, pipeline mongo.Pipeline) ([]models.StoreResult, int64, error)
	Stats(ctx context.Context, pipeline mongo.Pipeline) (models.StoreStats, error)
}

var _ StoreRepository = (*models.StoreRepo)(nil)

// CreateStoreInput is the body of a store creation.
type CreateStoreInput struct {
	OsmID        string             `json:"osmId"`
	Name         string             `json:"name" validate:"required"`
	Address      models.Address     `json:"address"`
	Location     *models.GeoPoint   `json:"location" validate:"required"`
	OpeningHours string             `json:"openingHours"`
	Types        []models.StoreType `json:"types" validate:"dive,storetype"`
}

// StoreUpdate is a partial store edit. Nil fields are left untouched.
// Location is only captured so that an attempt to change it can be refused.
type StoreUpdate struct {
	OsmID        *string             `json:"osmId"`
	Name         *string             `json:"name"`
	Address      *models.Address     `json:"address"`
	OpeningHours *string             `json:"openingHours"`
	Types        *[]models.StoreType `json:"types"`
	Location     json.RawMessage     `json:"location"`
}

// SearchResult is one page of stores plus the count of all matches.
type SearchResult struct {
	Stores []models.StoreResult
	Total  int64
}

// StoreService is the store directory.
type StoreService struct {
	stores StoreRepository
	window time.Duration
	now    func() time.Time
}

// NewStoreService returns a StoreService. A positive window limits
// availability to reports created within it.
func NewStoreService(stores StoreRepository, window time.Duration) *StoreService {
	return &StoreService{stores: stores, window: window, now: utcNow}
}

func (s *StoreService) Create(ctx context.Context, in CreateStoreInput) (*models.Store, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.OsmID = strings.TrimSpace(in.OsmID)
	in.Types = models.UniqueStoreTypes(in.Types)
	if err := models.Validate(in); err != nil {
		return nil, err
	}
	if err := in.Location.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	store := &models.Store{
		OsmID:        in.OsmID,
		Name:         in.Name,
		Address:      in.Address,
		Location:     models.NewPoint(in.Location.Coordinates[0], in.Location.Coordinates[1]),
		OpeningHours: in.OpeningHours,
		Types:        in.Types,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if store.Types == nil {
		store.Types = []models.StoreType{}
	}
	if err := s.stores.Insert(ctx, store); err != nil {
		if common.Is(err, common.KindConflict) {
			return nil, common.NewConflictError("a store with this osmId already exists")
		}
		return nil, err
	}
	return store, nil
}

func (s *StoreService) Get(ctx context.Context, id string) (*models.Store, error) {
	oid, err := parseID("store id", id)
	if err != nil {
		return nil, err
	}
	return s.stores.FindByID(ctx, oid)
}

// Update applies a partial edit. A store's location is fixed at creation.
func (s *StoreService) Update(ctx context.Context, id string, in StoreUpdate) (*models.Store, error) {
	oid, err := parseID("store id", id)
	if err != nil {
		return nil, err
	}
	if len(in.Location) > 0 {
		return nil, common.NewValidationError("location cannot be modified")
	}

	fields := bson.M{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, common.NewValidationError("name must not be empty")
		}
		fields["name"] = name
	}
	if in.OsmID != nil {
		osmID := strings.TrimSpace(*in.OsmID)
		if osmID == "" {
			return nil, common.NewValidationError("osmId must not be empty")
		}
		fields["osmId"] = osmID
	}
	if in.Address != nil {
		fields["address"] = *in.Address
	}
	if in.OpeningHours != nil {
		fields["openingHours"] = *in.OpeningHours
	}
	if in.Types != nil {
		types := models.UniqueStoreTypes(*in.Types)
		for _, t := range types {
			if !t.Valid() {
				return nil, common.NewValidationError("unknown store type %q", t)
			}
		}
		if types == nil {
			types = []models.StoreType{}
		}
		fields["types"] = types
	}
	fields["updatedAt"] = s.now()

	store, err := s.stores.Update(ctx, oid, fields)
	if err != nil {
		if common.Is(err, common.KindConflict) {
			return nil, common.NewConflictError("a store with this osmId already exists")
		}
		return nil, err
	}
	return store, nil
}

// Delete removes the store. Its reports are left in place.
func (s *StoreService) Delete(ctx context.Context, id string) error {
	oid, err := parseID("store id", id)
	if err != nil {
		return err
	}
	return s.stores.Delete(ctx, oid)
}

func (s *StoreService) Search(ctx context.Context, params SearchParams) (SearchResult, error) {
	if err := params.normalize(); err != nil {
		return SearchResult{}, err
	}
	stores, total, err := s.stores.Search(ctx, BuildSearchPipeline(params, s.reportsSince()))
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Stores: stores, Total: total}, nil
}

// Stats counts stores, and stores with availability, within the optional
// geo window.
func (s *StoreService) Stats(ctx context.Context, geo *GeoFilter) (models.StoreStats, error) {
	if err := geo.validate(); err != nil {
		return models.StoreStats{}, err
	}
	return s.stores.Stats(ctx, BuildStatsPipeline(geo, s.reportsSince()))
}

func (s *StoreService) reportsSince() time.Time {
	if s.window <= 0 {
		return time.Time{}
	}
	return s.now().Add(-s.window)
}

func parseID(name, hex string) (primitive.ObjectID, error) {
	hex = strings.TrimSpace(hex)
	if hex == "" {
		return primitive.NilObjectID, common.NewValidationError("%s is required", name)
	}
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, common.NewValidationError("invalid %s", name)
	}
	return oid, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
