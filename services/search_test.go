package services

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"kombuciao-api/common"
	"kombuciao-api/models"
)

func stageNames(p mongo.Pipeline) []string {
	names := make([]string, 0, len(p))
	for _, stage := range p {
		names = append(names, stage[0].Key)
	}
	return names
}

func stageBody(t *testing.T, stage bson.D) bson.D {
	t.Helper()
	body, ok := stage[0].Value.(bson.D)
	require.True(t, ok, "stage %s has no document body", stage[0].Key)
	return body
}

func lookup(doc bson.D, key string) any {
	for _, e := range doc {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

func fullParams() SearchParams {
	return SearchParams{
		Geo:           &GeoFilter{Lat: 48.85, Lng: 2.35, Radius: 1000},
		Name:          "bio",
		Page:          Page{Number: 2, Size: 5},
		OnlyAvailable: true,
		Flavors:       []models.Flavor{models.FlavorCitron, models.FlavorPeche},
	}
}

func TestBuildSearchPipeline_StageOrder(t *testing.T) {
	p := BuildSearchPipeline(fullParams(), time.Time{})

	assert.Equal(t, []string{
		"$geoNear", "$match", "$lookup", "$match", "$addFields", "$match", "$project", "$facet",
	}, stageNames(p))
}

func TestBuildSearchPipeline_MinimalHasNoGeoAndNoFilters(t *testing.T) {
	p := BuildSearchPipeline(SearchParams{Page: Page{Number: 1, Size: 10}}, time.Time{})

	assert.Equal(t, []string{"$lookup", "$addFields", "$project", "$sort", "$facet"}, stageNames(p))
}

func TestBuildSearchPipeline_GeoNearUsesLngLat(t *testing.T) {
	p := BuildSearchPipeline(fullParams(), time.Time{})

	geo := stageBody(t, p[0])
	near := lookup(geo, "near").(bson.D)
	assert.Equal(t, bson.A{2.35, 48.85}, lookup(near, "coordinates"))
	assert.Equal(t, "distance", lookup(geo, "distanceField"))
	assert.Equal(t, 1000.0, lookup(geo, "maxDistance"))
	assert.Equal(t, true, lookup(geo, "spherical"))
}

func TestBuildSearchPipeline_NameIsLiteralCaseInsensitive(t *testing.T) {
	params := SearchParams{Name: "a.b(", Page: Page{Number: 1, Size: 10}}
	p := BuildSearchPipeline(params, time.Time{})

	match := stageBody(t, p[0])
	regex := lookup(match, "name").(bson.D)
	assert.Equal(t, `a\.b\(`, lookup(regex, "$regex"))
	assert.Equal(t, "i", lookup(regex, "$options"))
}

func TestBuildSearchPipeline_FlavorsRequireAll(t *testing.T) {
	p := BuildSearchPipeline(fullParams(), time.Time{})

	match := stageBody(t, p[5])
	all := lookup(match, "flavors").(bson.D)
	assert.Equal(t, "$all", all[0].Key)
	assert.Equal(t, []models.Flavor{models.FlavorCitron, models.FlavorPeche}, all[0].Value)
}

func TestBuildSearchPipeline_OnlyAvailableDropsStoresWithoutReports(t *testing.T) {
	p := BuildSearchPipeline(fullParams(), time.Time{})

	match := stageBody(t, p[3])
	assert.Equal(t, bson.D{{Key: "$exists", Value: true}}, lookup(match, joinedField+".0"))

	params := fullParams()
	params.OnlyAvailable = false
	assert.NotContains(t, stageNames(BuildSearchPipeline(params, time.Time{}))[2:4], "$match")
}

func TestBuildSearchPipeline_JoinedReportsDoNotLeak(t *testing.T) {
	p := BuildSearchPipeline(fullParams(), time.Time{})

	project := stageBody(t, p[6])
	assert.Equal(t, bson.D{{Key: joinedField, Value: 0}}, project)
}

func TestBuildSearchPipeline_FacetPagesAndCounts(t *testing.T) {
	p := BuildSearchPipeline(fullParams(), time.Time{})

	facet := stageBody(t, p[len(p)-1])
	results := lookup(facet, "results").(bson.A)
	assert.Equal(t, bson.D{{Key: "$skip", Value: int64(5)}}, results[0])
	assert.Equal(t, bson.D{{Key: "$limit", Value: int64(5)}}, results[1])

	total := lookup(facet, "total").(bson.A)
	assert.Equal(t, bson.D{{Key: "$count", Value: "value"}}, total[0])
}

func TestBuildSearchPipeline_AvailabilityWindow(t *testing.T) {
	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	p := BuildSearchPipeline(fullParams(), since)
	sub := lookup(stageBody(t, p[2]), "pipeline").(bson.A)
	match := stageBody(t, sub[0].(bson.D))
	assert.Equal(t, bson.D{{Key: "$gte", Value: since}}, lookup(match, "createdAt"))

	p = BuildSearchPipeline(fullParams(), time.Time{})
	sub = lookup(stageBody(t, p[2]), "pipeline").(bson.A)
	assert.Nil(t, lookup(stageBody(t, sub[0].(bson.D)), "createdAt"))
}

func TestBuildStatsPipeline(t *testing.T) {
	assert.Equal(t, []string{"$facet"}, stageNames(BuildStatsPipeline(nil, time.Time{})))

	p := BuildStatsPipeline(&GeoFilter{Lat: 48.85, Lng: 2.35, Radius: 500}, time.Time{})
	require.Equal(t, []string{"$geoNear", "$facet"}, stageNames(p))

	facet := stageBody(t, p[1])
	available := lookup(facet, "available").(bson.A)
	require.Len(t, available, 3)
	assert.Equal(t, "$lookup", available[0].(bson.D)[0].Key)
	assert.Equal(t, hasReportsStage(), available[1])
	assert.Equal(t, bson.D{{Key: "$count", Value: "count"}}, available[2])
}

func TestBuildReportViewPipeline(t *testing.T) {
	p := BuildReportViewPipeline(bson.D{}, Page{Number: 3, Size: 10})

	assert.Equal(t, []string{"$match", "$sort", "$facet"}, stageNames(p))
	assert.Equal(t, bson.D{{Key: "updatedAt", Value: -1}, {Key: "_id", Value: -1}}, stageBody(t, p[1]))

	results := lookup(stageBody(t, p[2]), "results").(bson.A)
	assert.Equal(t, bson.D{{Key: "$skip", Value: int64(20)}}, results[0])
	assert.Equal(t, "$lookup", results[2].(bson.D)[0].Key)
}

func TestNewPage(t *testing.T) {
	p, err := NewPage(1, 500)
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, p.Size)

	_, err = NewPage(0, 10)
	assert.True(t, common.Is(err, common.KindValidation))

	_, err = NewPage(1, 0)
	assert.True(t, common.Is(err, common.KindValidation))

	_, err = NewPage(math.MaxInt64/50, 100)
	assert.True(t, common.Is(err, common.KindValidation))

	last, err := NewPage(MaxPage, MaxPageSize)
	require.NoError(t, err)
	assert.Positive(t, last.Skip())
}

func TestSearchParams_Normalize(t *testing.T) {
	p := SearchParams{Name: "  bio  ", Flavors: []models.Flavor{"citron", "citron"}}
	require.NoError(t, p.normalize())
	assert.Equal(t, Page{Number: DefaultPage, Size: DefaultPageSize}, p.Page)
	assert.Equal(t, "bio", p.Name)
	assert.Equal(t, []models.Flavor{models.FlavorCitron}, p.Flavors)

	p = SearchParams{Flavors: []models.Flavor{"cola"}}
	assert.True(t, common.Is(p.normalize(), common.KindValidation))

	p = SearchParams{Geo: &GeoFilter{Lat: 95, Lng: 2, Radius: 10}}
	assert.True(t, common.Is(p.normalize(), common.KindValidation))

	p = SearchParams{Geo: &GeoFilter{Lat: 48, Lng: 2, Radius: 0}}
	assert.True(t, common.Is(p.normalize(), common.KindValidation))
}

func TestGeoFilter_RejectsNonFinite(t *testing.T) {
	nan, inf := math.NaN(), math.Inf(1)
	for _, g := range []GeoFilter{
		{Lat: nan, Lng: 2, Radius: 10},
		{Lat: 48, Lng: -inf, Radius: 10},
		{Lat: 48, Lng: 2, Radius: nan},
		{Lat: 48, Lng: 2, Radius: inf},
	} {
		g := g
		assert.True(t, common.Is(g.validate(), common.KindValidation), "%+v", g)
	}
}
