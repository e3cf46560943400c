// Package backup snapshots stored consumption samples to a blob bucket as
// zstd-compressed newline-delimited JSON, and restores them through upserts.
package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/septivank/linky-feed-ingester/internal/db"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

const (
	keyPrefix = "linky_backup_"
	keySuffix = ".ndjson.zst"
	keyLayout = "2006-01-02T15-04-05Z"
)

// Source reads every stored sample
type Source interface {
	ReadAll(ctx context.Context) ([]db.ConsumptionSample, error)
}

// Sink upserts restored samples
type Sink interface {
	Upsert(ctx context.Context, sample db.ConsumptionSample) error
}

// Replacer swaps every stored sample for a restored set
type Replacer interface {
	ReplaceSamples(ctx context.Context, samples []db.ConsumptionSample) error
}

// Info describes a stored backup
type Info struct {
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store writes and reads backups in a bucket
type Store struct {
	bucket *blob.Bucket
	logger *zap.Logger
	now    func() time.Time
}

// Open opens the bucket at bucketURL (file://, mem://, s3:// or gs://)
func Open(ctx context.Context, bucketURL string, logger *zap.Logger) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open backup bucket %s: %w", bucketURL, err)
	}
	return NewStore(bucket, logger), nil
}

// NewStore wraps an opened bucket
func NewStore(bucket *blob.Bucket, logger *zap.Logger) *Store {
	return &Store{bucket: bucket, logger: logger, now: time.Now}
}

// Close closes the bucket
func (s *Store) Close() error {
	return s.bucket.Close()
}

// KeyFor names the backup taken at t
func KeyFor(t time.Time) string {
	return keyPrefix + t.UTC().Format(keyLayout) + keySuffix
}

// Backup writes every sample from src to a new object and returns its key
func (s *Store) Backup(ctx context.Context, src Source) (string, int, error) {
	samples, err := src.ReadAll(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("read samples: %w", err)
	}

	key := KeyFor(s.now())
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/zstd"})
	if err != nil {
		return "", 0, fmt.Errorf("create writer for %s: %w", key, err)
	}

	if err := writeSamples(w, samples); err != nil {
		w.Close()
		return "", 0, fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", 0, fmt.Errorf("close writer for %s: %w", key, err)
	}

	s.logger.Info(fmt.Sprintf("SAVE: %d points backed up", len(samples)), zap.String("key", key))
	return key, len(samples), nil
}

func writeSamples(w io.Writer, samples []db.ConsumptionSample) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}

	jsonEnc := json.NewEncoder(enc)
	for _, sample := range samples {
		if err := jsonEnc.Encode(sample); err != nil {
			enc.Close()
			return err
		}
	}
	return enc.Close()
}

// List returns the stored backups, newest first
func (s *Store) List(ctx context.Context) ([]Info, error) {
	var backups []Info

	iter := s.bucket.List(&blob.ListOptions{Prefix: keyPrefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		if obj.IsDir || !strings.HasSuffix(obj.Key, keySuffix) {
			continue
		}
		backups = append(backups, Info{Key: obj.Key, Size: obj.Size, ModTime: obj.ModTime})
	}

	// keys embed a sortable UTC timestamp
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Key > backups[j].Key
	})
	return backups, nil
}

// Restore upserts every sample of the backup under key into dst. Samples missing
// from the backup are kept; use Replace for a full swap.
func (s *Store) Restore(ctx context.Context, key string, dst Sink) (int, error) {
	restored, err := s.readSamples(ctx, key, func(sample db.ConsumptionSample) error {
		return dst.Upsert(ctx, sample)
	})
	if err != nil {
		return restored, err
	}

	s.logger.Info(fmt.Sprintf("DONE: %d points restored", restored), zap.String("key", key))
	return restored, nil
}

// Replace decodes the whole backup under key, then swaps every stored sample for it.
// A backup that cannot be read leaves dst untouched.
func (s *Store) Replace(ctx context.Context, key string, dst Replacer) (int, error) {
	var samples []db.ConsumptionSample
	if _, err := s.readSamples(ctx, key, func(sample db.ConsumptionSample) error {
		samples = append(samples, sample)
		return nil
	}); err != nil {
		return 0, err
	}

	if err := dst.ReplaceSamples(ctx, samples); err != nil {
		return 0, err
	}

	s.logger.Info(fmt.Sprintf("DONE: %d points restored, previous samples replaced", len(samples)), zap.String("key", key))
	return len(samples), nil
}

// readSamples streams the samples of the backup under key to fn
func (s *Store) readSamples(ctx context.Context, key string, fn func(db.ConsumptionSample) error) (int, error) {
	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return 0, fmt.Errorf("open backup %s: %w", key, err)
	}
	defer r.Close()

	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return 0, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	read := 0
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var sample db.ConsumptionSample
		if err := json.Unmarshal(line, &sample); err != nil {
			return read, fmt.Errorf("decode line %d of %s: %w", read+1, key, err)
		}
		if err := fn(sample); err != nil {
			return read, err
		}
		read++
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return read, fmt.Errorf("read %s: %w", key, err)
	}
	return read, nil
}
