// Package changelog archives the change log of committed batches to a blob
// store, one newline-delimited JSON object per batch.
package changelog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"catalogcore/internal/blob"
	"catalogcore/pkg/domain"
)

// ContentType is the media type of archived batches.
const ContentType = "application/x-ndjson"

// DefaultPrefix is used when no key prefix is configured.
const DefaultPrefix = "changelog"

// Archive is a change-log sink backed by a blob store. Keys have the form
// <prefix>/<yyyy>/<mm>/<dd>/<timestamp>-<uuid>.jsonl so listing a prefix
// returns batches in emission order.
type Archive struct {
	store  blob.Store
	prefix string
	now    func() time.Time
}

// Option configures an Archive.
type Option func(*Archive)

// WithClock sets the clock used to name archived batches.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		if now != nil {
			a.now = now
		}
	}
}

// NewArchive returns an archive writing under prefix.
func NewArchive(store blob.Store, prefix string, opts ...Option) (*Archive, error) {
	if store == nil {
		return nil, errors.New("changelog: blob store required")
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	a := &Archive{store: store, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Prefix returns the key prefix batches are written under.
func (a *Archive) Prefix() string { return a.prefix }

// Store returns the underlying blob store.
func (a *Archive) Store() blob.Store { return a.store }

// Emit writes items as one object. An empty batch writes nothing.
func (a *Archive) Emit(ctx context.Context, items []*domain.ChangeLogItem) error {
	if len(items) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if err := Encode(&buf, items); err != nil {
		return err
	}
	key := a.key(a.now().UTC())
	_, err := a.store.Put(ctx, key, &buf, blob.PutOptions{
		ContentType: ContentType,
		Metadata:    map[string]string{"entries": strconv.Itoa(len(items))},
	})
	if err != nil {
		return fmt.Errorf("archive change log: %w", err)
	}
	return nil
}

func (a *Archive) key(t time.Time) string {
	name := t.Format("20060102T150405.000000000Z") + "-" + uuid.NewString() + ".jsonl"
	return path.Join(a.prefix, t.Format("2006/01/02"), name)
}

// Keys lists the archived batch keys in emission order.
func (a *Archive) Keys(ctx context.Context) ([]string, error) {
	infos, err := a.store.List(ctx, a.prefix+"/")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasSuffix(info.Key, ".jsonl") {
			keys = append(keys, info.Key)
		}
	}
	return keys, nil
}

// Read decodes one archived batch.
func (a *Archive) Read(ctx context.Context, key string) ([]*domain.ChangeLogItem, error) {
	_, rc, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	items, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return items, nil
}

// Replay returns every archived item in emission order.
func (a *Archive) Replay(ctx context.Context) ([]*domain.ChangeLogItem, error) {
	keys, err := a.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var out []*domain.ChangeLogItem
	for _, key := range keys {
		items, err := a.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// Encode writes items as newline-delimited JSON.
func Encode(w io.Writer, items []*domain.ChangeLogItem) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if item == nil {
			continue
		}
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode change log item %s: %w", item.ID, err)
		}
	}
	return nil
}

// Decode reads newline-delimited JSON items until EOF.
func Decode(r io.Reader) ([]*domain.ChangeLogItem, error) {
	dec := json.NewDecoder(r)
	var out []*domain.ChangeLogItem
	for {
		var item domain.ChangeLogItem
		if err := dec.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, &item)
	}
}
