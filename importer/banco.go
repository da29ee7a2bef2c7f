package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"kombuciao-api/models"
)

// Columns read from a BANCO export.
const (
	colLng          = "X"
	colLat          = "Y"
	colOsmID        = "osm_id"
	colName         = "name"
	colBrand        = "brand"
	colAddress      = "address"
	colPostcode     = "postcode"
	colCity         = "com_nom"
	colType         = "type"
	colOpeningHours = "opening_hours"
	colLastUpdate   = "last_update"
)

var requiredColumns = []string{colLng, colLat, colOsmID, colType}

const defaultName = "Sans nom"

// Skip reasons, used as stats keys.
const (
	SkipMalformed   = "malformed"
	SkipCoordinates = "coordinates"
	SkipOsmID       = "osm_id"
	SkipType        = "type"
)

// Row is one BANCO line.
type Row struct {
	Line   int
	fields []string
	index  map[string]int
}

func (r Row) Get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// RowReader iterates over the lines of a BANCO CSV.
type RowReader struct {
	cr    *csv.Reader
	index map[string]int
}

func NewRowReader(r io.Reader) (*RowReader, error) {
	cr := newCSVReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[cleanHeader(name)] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	return &RowReader{cr: cr, index: index}, nil
}

// Next returns the next row, io.EOF at the end, or a *csv.ParseError for a
// line that could not be parsed; reading may continue after a ParseError.
func (rr *RowReader) Next() (Row, error) {
	fields, err := rr.cr.Read()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return Row{Line: pe.Line}, err
		}
		return Row{}, err
	}
	line, _ := rr.cr.FieldPos(0)
	return Row{Line: line, fields: fields, index: rr.index}, nil
}

// Mapped is a row turned into a store write.
type Mapped struct {
	Store      models.StoreUpsert
	LastUpdate time.Time
}

// MapRow converts a row into a store. When the row is rejected, reason names
// the check it failed.
func MapRow(r Row) (m Mapped, reason string) {
	lng, errLng := strconv.ParseFloat(r.Get(colLng), 64)
	lat, errLat := strconv.ParseFloat(r.Get(colLat), 64)
	if errLng != nil || errLat != nil || math.IsNaN(lng) || math.IsNaN(lat) {
		return Mapped{}, SkipCoordinates
	}
	if models.ValidateLngLat(lng, lat) != nil {
		return Mapped{}, SkipCoordinates
	}

	osmID := r.Get(colOsmID)
	if osmID == "" {
		return Mapped{}, SkipOsmID
	}

	types := storeTypes(r.Get(colType))
	if len(types) == 0 {
		return Mapped{}, SkipType
	}

	name := r.Get(colName)
	if name == "" {
		name = r.Get(colBrand)
	}
	if name == "" {
		name = defaultName
	}

	lastUpdate, _ := parseDate(r.Get(colLastUpdate))

	return Mapped{
		Store: models.StoreUpsert{
			OsmID: osmID,
			Name:  name,
			Address: models.Address{
				Street:   r.Get(colAddress),
				Postcode: r.Get(colPostcode),
				City:     r.Get(colCity),
			},
			Location:     models.NewPoint(lng, lat),
			OpeningHours: r.Get(colOpeningHours),
			Types:        types,
		},
		LastUpdate: lastUpdate,
	}, ""
}

// storeTypes keeps the known tags of a multi-valued type cell.
func storeTypes(cell string) []models.StoreType {
	parts := strings.FieldsFunc(strings.ToLower(cell), func(r rune) bool {
		return r == ';' || r == ','
	})
	var tags []models.StoreType
	for _, p := range parts {
		tags = append(tags, models.StoreType(p))
	}
	var known []models.StoreType
	for _, t := range models.UniqueStoreTypes(tags) {
		if t.Valid() {
			known = append(known, t)
		}
	}
	return known
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
