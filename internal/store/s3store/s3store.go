// Package s3store is the object-store backend. It maps the store tree onto
// S3 keys: a directory is a key prefix ending in "/", held in place by a
// zero-byte marker object so empty directories survive listing.
package s3store

import (
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/treesync/treesync/internal/store"
)

const (
	deleteBatchSize   = 1000
	deleteConcurrency = 4
)

// Open returns the bucket prefix of cfg as a store root. The root
// advertises the account capability; Login verifies bucket access once
// before the engine touches any key.
func Open(ctx context.Context, cfg *Config) (store.Directory, error) {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, store.WrapErr("open", "s3://"+cfg.Bucket, err)
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	b := &bucket{client: client, name: cfg.Bucket}
	return &s3Root{s3Dir: s3Dir{bucket: b, prefix: prefix}}, nil
}

// bucket is shared by every handle of one root.
type bucket struct {
	client *s3.Client
	name   string
}

func (b *bucket) url(key string) string {
	return "s3://" + b.name + "/" + key
}

type s3Dir struct {
	bucket  *bucket
	prefix  string // "" for the bucket root, otherwise ends in "/"
	modTime time.Time
}

// s3Root adds the login capability to the root directory handle.
type s3Root struct {
	s3Dir
}

func (r *s3Root) Login(ctx context.Context) error {
	_, err := r.bucket.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(r.bucket.name),
	})
	return store.WrapErr("login", r.bucket.url(r.prefix), err)
}

func (d *s3Dir) Name() string {
	return path.Base(strings.TrimSuffix(d.prefix, "/"))
}

// ModTime of a prefix is the marker object's timestamp when one was
// listed, zero otherwise. Directories are never time-compared.
func (d *s3Dir) ModTime() time.Time   { return d.modTime }
func (d *s3Dir) CreatedAt() time.Time { return d.modTime }
func (d *s3Dir) FullPath() string     { return d.bucket.url(d.prefix) }

// Delete removes every object under the prefix, batched and bounded.
func (d *s3Dir) Delete(ctx context.Context) error {
	var keys []string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(d.bucket.name),
		Prefix: aws.String(d.prefix),
	}
	paginator := s3.NewListObjectsV2Paginator(d.bucket.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return store.WrapErr("delete", d.FullPath(), err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(deleteConcurrency)
	for start := 0; start < len(keys); start += deleteBatchSize {
		batch := keys[start:min(start+deleteBatchSize, len(keys))]
		g.Go(func() error {
			ids := make([]types.ObjectIdentifier, len(batch))
			for i, key := range batch {
				ids[i] = types.ObjectIdentifier{Key: aws.String(key)}
			}
			_, err := d.bucket.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(d.bucket.name),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			return err
		})
	}
	return store.WrapErr("delete", d.FullPath(), g.Wait())
}

func (d *s3Dir) List(ctx context.Context) ([]store.Item, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(d.bucket.name),
		Prefix:    aws.String(d.prefix),
		Delimiter: aws.String("/"),
	}

	var items []store.Item
	markers := map[string]time.Time{}
	paginator := s3.NewListObjectsV2Paginator(d.bucket.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, store.WrapErr("list", d.FullPath(), err)
		}

		for _, cp := range page.CommonPrefixes {
			prefix := aws.ToString(cp.Prefix)
			items = append(items, &s3Dir{bucket: d.bucket, prefix: prefix})
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == d.prefix || strings.HasSuffix(key, "/") {
				// Prefix markers surface as their directory entry.
				markers[key] = aws.ToTime(obj.LastModified).UTC()
				continue
			}
			items = append(items, &s3File{
				bucket:  d.bucket,
				key:     key,
				size:    aws.ToInt64(obj.Size),
				modTime: aws.ToTime(obj.LastModified).UTC(),
			})
		}
	}

	for _, it := range items {
		if dir, ok := it.(*s3Dir); ok {
			if ts, ok := markers[dir.prefix]; ok {
				dir.modTime = ts
			}
		}
	}
	return items, nil
}

func (d *s3Dir) CreateFile(ctx context.Context, name string, r io.Reader, size int64) (store.File, error) {
	if !validName(name) {
		return nil, store.WrapErr("create_file", name, store.ErrInvalidName)
	}
	key := d.prefix + name

	_, err := d.bucket.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket.name),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, store.WrapErr("create_file", d.bucket.url(key), err)
	}

	return &s3File{bucket: d.bucket, key: key, size: size, modTime: time.Now().UTC()}, nil
}

func (d *s3Dir) CreateDir(ctx context.Context, name string) (store.Directory, error) {
	if !validName(name) {
		return nil, store.WrapErr("create_dir", name, store.ErrInvalidName)
	}
	prefix := d.prefix + name + "/"

	_, err := d.bucket.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket.name),
		Key:           aws.String(prefix),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return nil, store.WrapErr("create_dir", d.bucket.url(prefix), err)
	}

	return &s3Dir{bucket: d.bucket, prefix: prefix, modTime: time.Now().UTC()}, nil
}

type s3File struct {
	bucket  *bucket
	key     string
	size    int64
	modTime time.Time
}

func (f *s3File) Name() string         { return path.Base(f.key) }
func (f *s3File) Size() int64          { return f.size }
func (f *s3File) ModTime() time.Time   { return f.modTime }
func (f *s3File) CreatedAt() time.Time { return f.modTime }
func (f *s3File) FullPath() string     { return f.bucket.url(f.key) }

func (f *s3File) Delete(ctx context.Context) error {
	_, err := f.bucket.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket.name),
		Key:    aws.String(f.key),
	})
	return store.WrapErr("delete", f.FullPath(), err)
}

func (f *s3File) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := f.bucket.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket.name),
		Key:    aws.String(f.key),
	})
	if err != nil {
		return nil, store.WrapErr("open", f.FullPath(), err)
	}
	return resp.Body, nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsRune(name, '/')
}
