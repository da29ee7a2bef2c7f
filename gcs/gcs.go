package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const scheme = "gs://"

// Client reads import archives from Google Cloud Storage.
type Client struct {
	sc  *storage.Client
	log logrus.FieldLogger
}

// InitGCS opens a storage client. With an empty credentialsFile the
// application default credentials are used.
func InitGCS(ctx context.Context, credentialsFile string, log logrus.FieldLogger) (*Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	sc, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: new client: %w", err)
	}
	log.Info("connected to Google Cloud Storage")
	return &Client{sc: sc, log: log}, nil
}

func (c *Client) Close() error {
	if c == nil || c.sc == nil {
		return nil
	}
	return c.sc.Close()
}

// IsURL reports whether raw names a gs:// object or prefix.
func IsURL(raw string) bool {
	return strings.HasPrefix(raw, scheme)
}

// ParseURL splits gs://bucket/path into bucket and object path. An empty
// path or one ending in "/" denotes a prefix.
func ParseURL(raw string) (bucket, object string, err error) {
	if !IsURL(raw) {
		return "", "", fmt.Errorf("gcs: %q is not a gs:// url", raw)
	}
	rest := strings.TrimPrefix(raw, scheme)
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("gcs: %q has no bucket", raw)
	}
	return bucket, object, nil
}

// Open returns a reader on the object at url. When url is a prefix the most
// recently updated object under it is opened.
func (c *Client) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	bucket, object, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	if object == "" || strings.HasSuffix(object, "/") {
		attrs, err := c.Latest(ctx, bucket, object)
		if err != nil {
			return nil, err
		}
		object = attrs.Name
	}

	c.log.WithFields(logrus.Fields{"bucket": bucket, "object": object}).Info("opening import object")
	r, err := c.sc.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: open %s/%s: %w", bucket, object, err)
	}
	return r, nil
}

// Latest returns the most recently updated object under prefix.
func (c *Client) Latest(ctx context.Context, bucket, prefix string) (*storage.ObjectAttrs, error) {
	it := c.sc.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var all []*storage.ObjectAttrs
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list %s/%s: %w", bucket, prefix, err)
		}
		all = append(all, attrs)
	}
	latest := newest(all)
	if latest == nil {
		return nil, fmt.Errorf("gcs: %w under %s/%s", ErrNoObject, bucket, prefix)
	}
	return latest, nil
}

var ErrNoObject = errors.New("no object")

// newest picks the latest-updated object, skipping folder placeholders.
func newest(all []*storage.ObjectAttrs) *storage.ObjectAttrs {
	var latest *storage.ObjectAttrs
	for _, attrs := range all {
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		if latest == nil || attrs.Updated.After(latest.Updated) {
			latest = attrs
		}
	}
	return latest
}
