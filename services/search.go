package services

import (
	"math"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"kombuciao-api/common"
	"kombuciao-api/models"
)

const (
	DefaultRadius   = 5000.0
	DefaultPage     = 1
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxPage keeps (page-1)*pageSize within int64.
	MaxPage = math.MaxInt32
)

// joinedField holds the reports joined onto each store; it never reaches
// the response.
const joinedField = "joinedReports"

// GeoFilter restricts a query to stores within Radius meters of a point.
type GeoFilter struct {
	Lat    float64
	Lng    float64
	Radius float64
}

func (g *GeoFilter) validate() error {
	if g == nil {
		return nil
	}
	if err := models.ValidateLngLat(g.Lng, g.Lat); err != nil {
		return err
	}
	if math.IsNaN(g.Radius) || math.IsInf(g.Radius, 0) || g.Radius <= 0 {
		return common.NewValidationError("radius must be a positive number of meters")
	}
	return nil
}

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// NewPage validates number and size. Sizes above MaxPageSize are capped.
func NewPage(number, size int) (Page, error) {
	if number < 1 {
		return Page{}, common.NewValidationError("page must be >= 1")
	}
	if size < 1 {
		return Page{}, common.NewValidationError("pageSize must be >= 1")
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if number > MaxPage {
		return Page{}, common.NewValidationError("page must be <= %d", MaxPage)
	}
	return Page{Number: number, Size: size}, nil
}

func (p Page) Skip() int64  { return int64(p.Number-1) * int64(p.Size) }
func (p Page) Limit() int64 { return int64(p.Size) }

// SearchParams are the inputs of a store search. Geo is nil when the
// caller did not give both lat and lng.
type SearchParams struct {
	Geo           *GeoFilter
	Name          string
	Page          Page
	OnlyAvailable bool
	Flavors       []models.Flavor
}

func (p *SearchParams) normalize() error {
	if err := p.Geo.validate(); err != nil {
		return err
	}
	if p.Page.Number == 0 && p.Page.Size == 0 {
		p.Page = Page{Number: DefaultPage, Size: DefaultPageSize}
	}
	page, err := NewPage(p.Page.Number, p.Page.Size)
	if err != nil {
		return err
	}
	p.Page = page
	p.Name = strings.TrimSpace(p.Name)
	for _, f := range p.Flavors {
		if !f.Valid() {
			return common.NewValidationError("unknown flavor %q", f)
		}
	}
	p.Flavors = models.UniqueFlavors(p.Flavors)
	return nil
}

// BuildSearchPipeline composes the store search aggregation. Stage order is
// fixed: $geoNear must lead, and the page and the total come out of one
// $facet so they always agree. A non-zero reportsSince restricts the report
// join to reports created at or after it.
func BuildSearchPipeline(p SearchParams, reportsSince time.Time) mongo.Pipeline {
	pipeline := mongo.Pipeline{}
	if p.Geo != nil {
		pipeline = append(pipeline, geoNearStage(*p.Geo))
	}
	if p.Name != "" {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{
			{Key: "name", Value: bson.D{
				{Key: "$regex", Value: regexp.QuoteMeta(p.Name)},
				{Key: "$options", Value: "i"},
			}},
		}}})
	}

	pipeline = append(pipeline, reportLookupStage(reportsSince, bson.D{{Key: "_id", Value: 0}, {Key: "flavors", Value: 1}}, 0))
	if p.OnlyAvailable {
		pipeline = append(pipeline, hasReportsStage())
	}

	pipeline = append(pipeline, bson.D{{Key: "$addFields", Value: bson.D{
		{Key: "flavors", Value: bson.D{{Key: "$reduce", Value: bson.D{
			{Key: "input", Value: "$" + joinedField + ".flavors"},
			{Key: "initialValue", Value: bson.A{}},
			{Key: "in", Value: bson.D{{Key: "$setUnion", Value: bson.A{
				"$$value",
				bson.D{{Key: "$ifNull", Value: bson.A{"$$this", bson.A{}}}},
			}}}},
		}}}},
	}}})

	if len(p.Flavors) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.D{
			{Key: "flavors", Value: bson.D{{Key: "$all", Value: p.Flavors}}},
		}}})
	}

	pipeline = append(pipeline, bson.D{{Key: "$project", Value: bson.D{{Key: joinedField, Value: 0}}}})

	// $geoNear already orders by distance; otherwise pin an order so pages
	// do not overlap.
	if p.Geo == nil {
		pipeline = append(pipeline, bson.D{{Key: "$sort", Value: bson.D{
			{Key: "name", Value: 1},
			{Key: "_id", Value: 1},
		}}})
	}

	return append(pipeline, facetStage(p.Page))
}

// BuildStatsPipeline counts all stores and those with at least one report,
// optionally within a geo window, in a single aggregation.
func BuildStatsPipeline(geo *GeoFilter, reportsSince time.Time) mongo.Pipeline {
	pipeline := mongo.Pipeline{}
	if geo != nil {
		pipeline = append(pipeline, geoNearStage(*geo))
	}
	return append(pipeline, bson.D{{Key: "$facet", Value: bson.D{
		{Key: "total", Value: bson.A{
			bson.D{{Key: "$count", Value: "count"}},
		}},
		{Key: "available", Value: bson.A{
			reportLookupStage(reportsSince, bson.D{{Key: "_id", Value: 1}}, 1),
			hasReportsStage(),
			bson.D{{Key: "$count", Value: "count"}},
		}},
	}}})
}

// BuildReportViewPipeline lists reports matching filter, most recently
// updated first, each joined with a summary of its store.
func BuildReportViewPipeline(filter bson.D, page Page) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$sort", Value: bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$facet", Value: bson.D{
			{Key: "results", Value: bson.A{
				bson.D{{Key: "$skip", Value: page.Skip()}},
				bson.D{{Key: "$limit", Value: page.Limit()}},
				bson.D{{Key: "$lookup", Value: bson.D{
					{Key: "from", Value: models.StoresCollection},
					{Key: "let", Value: bson.D{{Key: "storeId", Value: "$store"}}},
					{Key: "pipeline", Value: bson.A{
						bson.D{{Key: "$match", Value: bson.D{{Key: "$expr", Value: bson.D{
							{Key: "$eq", Value: bson.A{"$_id", "$$storeId"}},
						}}}}},
						bson.D{{Key: "$project", Value: bson.D{
							{Key: "name", Value: 1},
							{Key: "address", Value: 1},
							{Key: "location", Value: 1},
						}}},
					}},
					{Key: "as", Value: "storeDocs"},
				}}},
				bson.D{{Key: "$addFields", Value: bson.D{
					{Key: "storeId", Value: "$store"},
					{Key: "store", Value: bson.D{{Key: "$ifNull", Value: bson.A{
						bson.D{{Key: "$arrayElemAt", Value: bson.A{"$storeDocs", 0}}},
						nil,
					}}}},
				}}},
				bson.D{{Key: "$project", Value: bson.D{{Key: "storeDocs", Value: 0}}}},
			}},
			{Key: "total", Value: bson.A{
				bson.D{{Key: "$count", Value: "value"}},
			}},
		}}},
	}
}

func geoNearStage(g GeoFilter) bson.D {
	return bson.D{{Key: "$geoNear", Value: bson.D{
		{Key: "near", Value: bson.D{
			{Key: "type", Value: "Point"},
			{Key: "coordinates", Value: bson.A{g.Lng, g.Lat}},
		}},
		{Key: "distanceField", Value: "distance"},
		{Key: "maxDistance", Value: g.Radius},
		{Key: "spherical", Value: true},
	}}}
}

// reportLookupStage joins each store to its reports. limit > 0 caps the
// joined reports per store.
func reportLookupStage(since time.Time, project bson.D, limit int) bson.D {
	match := bson.D{{Key: "$expr", Value: bson.D{
		{Key: "$eq", Value: bson.A{"$store", "$$storeId"}},
	}}}
	if !since.IsZero() {
		match = append(match, bson.E{Key: "createdAt", Value: bson.D{{Key: "$gte", Value: since}}})
	}

	sub := bson.A{bson.D{{Key: "$match", Value: match}}}
	if limit > 0 {
		sub = append(sub, bson.D{{Key: "$limit", Value: limit}})
	}
	sub = append(sub, bson.D{{Key: "$project", Value: project}})

	return bson.D{{Key: "$lookup", Value: bson.D{
		{Key: "from", Value: models.ReportsCollection},
		{Key: "let", Value: bson.D{{Key: "storeId", Value: "$_id"}}},
		{Key: "pipeline", Value: sub},
		{Key: "as", Value: joinedField},
	}}}
}

func hasReportsStage() bson.D {
	return bson.D{{Key: "$match", Value: bson.D{
		{Key: joinedField + ".0", Value: bson.D{{Key: "$exists", Value: true}}},
	}}}
}

func facetStage(page Page) bson.D {
	return bson.D{{Key: "$facet", Value: bson.D{
		{Key: "results", Value: bson.A{
			bson.D{{Key: "$skip", Value: page.Skip()}},
			bson.D{{Key: "$limit", Value: page.Limit()}},
		}},
		{Key: "total", Value: bson.A{
			bson.D{{Key: "$count", Value: "value"}},
		}},
	}}}
}
