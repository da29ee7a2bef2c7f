package services

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kombuciao-api/common"
	db "kombuciao-api/database"
	"kombuciao-api/models"
)

// newMongoServices wires both services to a throwaway database on the
// server named by TEST_MONGODB_URI. The test is skipped when it is unset.
func newMongoServices(t *testing.T) (*StoreService, *ReportService) {
	t.Helper()

	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI not set")
	}
	ctx := context.Background()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	database := client.Database("kombuciao_test_" + primitive.NewObjectID().Hex())
	t.Cleanup(func() {
		_ = database.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	require.NoError(t, db.EnsureIndexes(ctx, database))

	stores := models.NewStoreRepo(database.Collection(models.StoresCollection))
	reports := models.NewReportRepo(database.Collection(models.ReportsCollection))
	return NewStoreService(stores, 0), NewReportService(reports, stores)
}

type seeded struct {
	alpha, bravo, charlie *models.Store
}

// seedDirectory creates three stores: alpha (citron), bravo (citron and
// peche across two reports, about 1.3 km from alpha) and charlie in Lyon
// with no reports.
func seedDirectory(t *testing.T, stores *StoreService, reports *ReportService) seeded {
	t.Helper()
	ctx := context.Background()

	create := func(name string, lng, lat float64) *models.Store {
		s, err := stores.Create(ctx, CreateStoreInput{Name: name, Location: models.NewPoint(lng, lat)})
		require.NoError(t, err)
		return s
	}
	report := func(store *models.Store, voter string, flavors ...models.Flavor) *models.Report {
		r, err := reports.Create(ctx, CreateReportInput{StoreID: store.ID.Hex(), Flavors: flavors, VoterID: voter})
		require.NoError(t, err)
		return r
	}

	s := seeded{
		alpha:   create("Alpha", 2.3522, 48.8566),
		bravo:   create("Bravo", 2.3650, 48.8650),
		charlie: create("Charlie", 4.8357, 45.7640),
	}
	report(s.alpha, "u1", models.FlavorCitron)
	report(s.bravo, "u1", models.FlavorCitron)
	report(s.bravo, "u2", models.FlavorPeche)
	return s
}

func names(res SearchResult) []string {
	out := make([]string, 0, len(res.Stores))
	for _, s := range res.Stores {
		out = append(out, s.Name)
	}
	return out
}

func TestMongo_SearchFlavors(t *testing.T) {
	stores, reports := newMongoServices(t)
	seedDirectory(t, stores, reports)
	ctx := context.Background()

	all, err := stores.Search(ctx, SearchParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Total)
	require.Equal(t, []string{"Alpha", "Bravo", "Charlie"}, names(all))
	assert.Equal(t, []models.Flavor{models.FlavorCitron}, all.Stores[0].Flavors)
	assert.ElementsMatch(t, []models.Flavor{models.FlavorCitron, models.FlavorPeche}, all.Stores[1].Flavors)
	assert.Empty(t, all.Stores[2].Flavors)
	assert.Nil(t, all.Stores[0].Distance)

	citron, err := stores.Search(ctx, SearchParams{Flavors: []models.Flavor{models.FlavorCitron}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Bravo"}, names(citron))

	both, err := stores.Search(ctx, SearchParams{Flavors: []models.Flavor{models.FlavorCitron, models.FlavorPeche}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Bravo"}, names(both), "a store with citron only is excluded")
	assert.Equal(t, int64(1), both.Total)

	available, err := stores.Search(ctx, SearchParams{OnlyAvailable: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Bravo"}, names(available))
}

func TestMongo_SearchGeoAndPaging(t *testing.T) {
	stores, reports := newMongoServices(t)
	seedDirectory(t, stores, reports)
	ctx := context.Background()

	near, err := stores.Search(ctx, SearchParams{Geo: &GeoFilter{Lat: 48.8566, Lng: 2.3522, Radius: 5000}})
	require.NoError(t, err)
	require.Equal(t, []string{"Alpha", "Bravo"}, names(near))
	require.NotNil(t, near.Stores[0].Distance)
	require.NotNil(t, near.Stores[1].Distance)
	assert.Less(t, *near.Stores[0].Distance, *near.Stores[1].Distance)

	page2, err := stores.Search(ctx, SearchParams{Page: Page{Number: 2, Size: 2}, Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page2.Total)
	assert.Equal(t, []string{"Charlie"}, names(page2))

	none, err := stores.Search(ctx, SearchParams{Name: "zzz"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), none.Total)
	assert.NotNil(t, none.Stores)
	assert.Empty(t, none.Stores)
}

func TestMongo_Stats(t *testing.T) {
	stores, reports := newMongoServices(t)
	seedDirectory(t, stores, reports)
	ctx := context.Background()

	stats, err := stores.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StoreStats{TotalStores: 3, StoresWithAvailability: 2}, stats)

	lyon, err := stores.Stats(ctx, &GeoFilter{Lat: 45.7640, Lng: 4.8357, Radius: 1000})
	require.NoError(t, err)
	assert.Equal(t, models.StoreStats{TotalStores: 1, StoresWithAvailability: 0}, lyon)
}

func TestMongo_VotesAndCascade(t *testing.T) {
	stores, reports := newMongoServices(t)
	s := seedDirectory(t, stores, reports)
	ctx := context.Background()

	rep, err := reports.Create(ctx, CreateReportInput{StoreID: s.charlie.ID.Hex(), Flavors: []models.Flavor{models.FlavorDragon}, VoterID: "u1"})
	require.NoError(t, err)

	_, err = reports.CreateVote(ctx, rep.ID.Hex(), "u1", models.VoteDeny)
	assert.True(t, common.Is(err, common.KindConflict))

	withTwo, err := reports.CreateVote(ctx, rep.ID.Hex(), "u2", models.VoteConfirm)
	require.NoError(t, err)
	require.Len(t, withTwo.Votes, 2)

	out, err := reports.DeleteVote(ctx, rep.ID.Hex(), withTwo.Votes[1].ID.Hex(), "u2")
	require.NoError(t, err)
	assert.False(t, out.ReportDeleted)
	assert.Len(t, out.Report.Votes, 1)

	out, err = reports.DeleteVote(ctx, rep.ID.Hex(), withTwo.Votes[0].ID.Hex(), "u1")
	require.NoError(t, err)
	assert.True(t, out.ReportDeleted)

	_, err = reports.Get(ctx, rep.ID.Hex())
	assert.True(t, common.Is(err, common.KindNotFound))
}

func TestMongo_ListJoinsStoreSummary(t *testing.T) {
	stores, reports := newMongoServices(t)
	s := seedDirectory(t, stores, reports)
	ctx := context.Background()

	views, total, err := reports.List(ctx, ListReportsParams{StoreID: s.bravo.ID.Hex()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, views, 2)
	assert.Equal(t, []models.Flavor{models.FlavorPeche}, views[0].Flavors, "most recently updated first")
	require.NotNil(t, views[0].Store)
	assert.Equal(t, "Bravo", views[0].Store.Name)
	assert.Equal(t, s.bravo.ID, views[0].StoreID)

	require.NoError(t, stores.Delete(ctx, s.bravo.ID.Hex()))
	views, _, err = reports.List(ctx, ListReportsParams{StoreID: s.bravo.ID.Hex()})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Nil(t, views[0].Store, "orphaned reports are kept")
}
