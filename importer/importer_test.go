package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"kombuciao-api/models"
)

const header = "X;Y;osm_id;name;brand;address;postcode;com_nom;type;opening_hours;last_update\n"

const sample = header +
	`2.3522;48.8566;node/1;Biocoop Bastille;Biocoop;12 rue de la Roquette;75011;Paris;organic;Mo-Sa 09:00-20:00;2025-06-01` + "\n" +
	`2.30;48.80;node/2;;Carrefour City;;75014;Paris;"convenience;supermarket";;2025-05-01` + "\n" +
	`2.31;48.81;node/3;Boulangerie;;;;Paris;bakery;;2025-06-01` + "\n" +
	`;;node/4;Sans coordonnees;;;;Paris;grocery;;2025-06-01` + "\n" +
	`2.32;48.82;;Sans osm;;;;Paris;grocery;;2025-06-01` + "\n" +
	`2.33;48.83;node/6;;;;;Paris;grocery;;2025-06-02` + "\n"

type fakeStores struct {
	latest  time.Time
	batches [][]models.StoreUpsert
	err     error
}

func (f *fakeStores) BulkUpsert(_ context.Context, stores []models.StoreUpsert, _ time.Time) (models.BulkResult, error) {
	f.batches = append(f.batches, append([]models.StoreUpsert(nil), stores...))
	return models.BulkResult{Upserted: int64(len(stores))}, f.err
}

func (f *fakeStores) LatestUpdate(context.Context) (time.Time, error) {
	return f.latest, nil
}

type staticSource struct {
	data      string
	published time.Time
}

func (s staticSource) Open(context.Context, string) (*Dataset, error) {
	return &Dataset{Data: strings.NewReader(s.data), Published: s.published}, nil
}

func newTestImporter(stores StoreWriter, src DatasetOpener) *Importer {
	log, _ := test.NewNullLogger()
	return New(stores, src, log)
}

func TestMapRow(t *testing.T) {
	rr, err := NewRowReader(strings.NewReader(sample))
	require.NoError(t, err)

	var mapped []Mapped
	var reasons []string
	for {
		row, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		m, reason := MapRow(row)
		if reason != "" {
			reasons = append(reasons, reason)
			continue
		}
		mapped = append(mapped, m)
	}

	assert.Equal(t, []string{SkipType, SkipCoordinates, SkipOsmID}, reasons)
	require.Len(t, mapped, 3)

	first := mapped[0].Store
	assert.Equal(t, "node/1", first.OsmID)
	assert.Equal(t, "Biocoop Bastille", first.Name)
	assert.Equal(t, models.Address{Street: "12 rue de la Roquette", Postcode: "75011", City: "Paris"}, first.Address)
	assert.Equal(t, []float64{2.3522, 48.8566}, first.Location.Coordinates)
	assert.Equal(t, []models.StoreType{models.StoreTypeOrganic}, first.Types)
	assert.Equal(t, "Mo-Sa 09:00-20:00", first.OpeningHours)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), mapped[0].LastUpdate)

	assert.Equal(t, "Carrefour City", mapped[1].Store.Name, "falls back to brand")
	assert.Equal(t, []models.StoreType{models.StoreTypeConvenience, models.StoreTypeSupermarket}, mapped[1].Store.Types)

	assert.Equal(t, defaultName, mapped[2].Store.Name)
}

func TestNewRowReader_MissingColumn(t *testing.T) {
	_, err := NewRowReader(strings.NewReader("X;Y;name\n1;2;x\n"))
	assert.ErrorContains(t, err, `"osm_id"`)
}

func TestNewRowReader_StripsBOM(t *testing.T) {
	rr, err := NewRowReader(strings.NewReader("\ufeff" + sample))
	require.NoError(t, err)
	row, err := rr.Next()
	require.NoError(t, err)
	assert.Equal(t, "2.3522", row.Get(colLng))
}

func TestRun_FullImportBatches(t *testing.T) {
	stores := &fakeStores{latest: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)}
	im := newTestImporter(stores, staticSource{data: sample})

	stats, err := im.Run(context.Background(), Options{Source: "banco.csv", Full: true, BatchSize: 2})

	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Read)
	assert.Equal(t, int64(3), stats.Kept)
	assert.Equal(t, int64(3), stats.Upserted)
	assert.Equal(t, 2, stats.Batches)
	require.Len(t, stores.batches, 2)
	assert.Len(t, stores.batches[0], 2)
	assert.Len(t, stores.batches[1], 1)
	assert.Equal(t, int64(1), stats.Skipped[SkipType])
}

func TestRun_IncrementalSkipsStaleRows(t *testing.T) {
	stores := &fakeStores{latest: time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)}
	im := newTestImporter(stores, staticSource{data: sample})

	stats, err := im.Run(context.Background(), Options{Source: "banco.csv"})

	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Stale, "node/2 was last updated in May")
	assert.Equal(t, int64(2), stats.Kept)
	require.Len(t, stores.batches, 1)
	assert.Equal(t, "node/1", stores.batches[0][0].OsmID)
}

func TestRun_UpToDateExportIsSkipped(t *testing.T) {
	stores := &fakeStores{latest: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)}
	im := newTestImporter(stores, staticSource{data: sample, published: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})

	stats, err := im.Run(context.Background(), Options{Source: "banco.zip"})

	require.NoError(t, err)
	assert.True(t, stats.UpToDate)
	assert.Empty(t, stores.batches)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	stores := &fakeStores{}
	im := newTestImporter(stores, staticSource{data: sample})

	stats, err := im.Run(context.Background(), Options{Source: "banco.csv", DryRun: true})

	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Kept)
	assert.Equal(t, 1, stats.Batches)
	assert.Empty(t, stores.batches)
}

func TestRun_PartialBulkFailureContinues(t *testing.T) {
	stores := &fakeStores{err: mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{}}}}
	im := newTestImporter(stores, staticSource{data: sample})

	stats, err := im.Run(context.Background(), Options{Source: "banco.csv", BatchSize: 2})

	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Failed)
	assert.Len(t, stores.batches, 2)
}

func TestRun_StoreFailureStops(t *testing.T) {
	stores := &fakeStores{err: errors.New("connection refused")}
	im := newTestImporter(stores, staticSource{data: sample})

	_, err := im.Run(context.Background(), Options{Source: "banco.csv"})

	assert.ErrorContains(t, err, "connection refused")
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSource_OpensZipFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banco.zip")
	archive := zipArchive(t, map[string]string{
		"banco/data.csv":     sample,
		"banco/metadata.csv": "DATE_MAJ;SOURCE\n2025-06-03;osm\n",
	})
	require.NoError(t, os.WriteFile(path, archive, 0o600))

	ds, err := Source{}.Open(context.Background(), path)
	require.NoError(t, err)
	defer ds.Close()

	assert.Equal(t, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC), ds.Published)
	body, err := io.ReadAll(ds.Data)
	require.NoError(t, err)
	assert.Equal(t, sample, string(body))
}

func TestSource_ZipWithoutData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.zip")
	require.NoError(t, os.WriteFile(path, zipArchive(t, map[string]string{"readme.txt": "hi"}), 0o600))

	_, err := Source{}.Open(context.Background(), path)
	assert.ErrorContains(t, err, "data.csv")
}

func TestSource_DownloadsPlainCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/banco.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, sample)
	}))
	defer srv.Close()

	ds, err := Source{HTTP: srv.Client()}.Open(context.Background(), srv.URL+"/banco.csv")
	require.NoError(t, err)
	defer ds.Close()
	assert.True(t, ds.Published.IsZero())

	body, err := io.ReadAll(ds.Data)
	require.NoError(t, err)
	assert.Equal(t, sample, string(body))

	_, err = Source{HTTP: srv.Client()}.Open(context.Background(), srv.URL+"/missing.csv")
	assert.ErrorContains(t, err, "404")
}

type fakeObjects struct{ body string }

func (f fakeObjects) Open(_ context.Context, url string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestSource_GCS(t *testing.T) {
	_, err := Source{}.Open(context.Background(), "gs://bucket/banco/")
	assert.Error(t, err, "no client configured")

	ds, err := Source{GCS: fakeObjects{body: sample}}.Open(context.Background(), "gs://bucket/banco/")
	require.NoError(t, err)
	defer ds.Close()
	body, err := io.ReadAll(ds.Data)
	require.NoError(t, err)
	assert.Equal(t, sample, string(body))
}
