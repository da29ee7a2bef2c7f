package importer

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"kombuciao-api/gcs"
)

// DefaultSource is the data.gouv.fr download of the BANCO WGS84 CSV archive.
const DefaultSource = "https://www.data.gouv.fr/fr/datasets/r/3d612ad7-f726-4fe5-a353-bdf76c5a44c2"

var zipMagic = []byte("PK\x03\x04")

// ObjectOpener opens gs:// objects. *gcs.Client implements it.
type ObjectOpener interface {
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

var _ ObjectOpener = (*gcs.Client)(nil)

// Dataset is an opened BANCO export.
type Dataset struct {
	Data io.Reader
	// Published is the export date from metadata.csv, zero when unknown.
	Published time.Time

	closers []func() error
}

func (d *Dataset) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Source resolves an import location: a local path, an http(s) URL or a
// gs:// URL.
type Source struct {
	GCS  ObjectOpener
	HTTP *http.Client
}

func (s Source) Open(ctx context.Context, location string) (*Dataset, error) {
	raw, err := s.openRaw(ctx, location)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(raw)
	head, _ := br.Peek(len(zipMagic))
	if !bytes.Equal(head, zipMagic) {
		return &Dataset{Data: br, closers: []func() error{raw.Close}}, nil
	}

	ds, err := openArchive(br)
	closeErr := raw.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		_ = ds.Close()
		return nil, closeErr
	}
	return ds, nil
}

func (s Source) openRaw(ctx context.Context, location string) (io.ReadCloser, error) {
	switch {
	case location == "":
		return nil, errors.New("import source is empty")
	case gcs.IsURL(location):
		if s.GCS == nil {
			return nil, fmt.Errorf("%s: no Cloud Storage client configured", location)
		}
		return s.GCS.Open(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return s.download(ctx, location)
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open import file: %w", err)
		}
		return f, nil
	}
}

func (s Source) download(ctx context.Context, url string) (io.ReadCloser, error) {
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}
	return resp.Body, nil
}

// openArchive spools the zip to a temporary file, since zip needs random
// access, and opens its data.csv member.
func openArchive(r io.Reader) (*Dataset, error) {
	tmp, err := os.CreateTemp("", "banco-*.zip")
	if err != nil {
		return nil, err
	}
	cleanup := func() error {
		tmp.Close()
		return os.Remove(tmp.Name())
	}

	size, err := io.Copy(tmp, r)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spool archive: %w", err)
	}
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("read archive: %w", err)
	}

	var data, meta *zip.File
	for _, f := range zr.File {
		switch {
		case strings.HasSuffix(f.Name, "metadata.csv"):
			meta = f
		case strings.HasSuffix(f.Name, "data.csv"):
			data = f
		}
	}
	if data == nil {
		cleanup()
		return nil, errors.New("archive has no data.csv member")
	}

	ds := &Dataset{closers: []func() error{cleanup}}
	if meta != nil {
		ds.Published, _ = readPublished(meta)
	}
	rc, err := data.Open()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("open %s: %w", data.Name, err)
	}
	ds.Data = rc
	ds.closers = append(ds.closers, rc.Close)
	return ds, nil
}

// readPublished reads DATE_MAJ from the first row of metadata.csv.
func readPublished(f *zip.File) (time.Time, error) {
	rc, err := f.Open()
	if err != nil {
		return time.Time{}, err
	}
	defer rc.Close()

	cr := newCSVReader(rc)
	header, err := cr.Read()
	if err != nil {
		return time.Time{}, err
	}
	row, err := cr.Read()
	if err != nil {
		return time.Time{}, err
	}
	for i, name := range header {
		if cleanHeader(name) == "DATE_MAJ" && i < len(row) {
			return parseDate(row[i])
		}
	}
	return time.Time{}, errors.New("metadata.csv has no DATE_MAJ column")
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	return cr
}

func cleanHeader(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
}
