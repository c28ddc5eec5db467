package signoff

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fakeyudi/kintoadm/internal/kinto"
)

// Client is the part of the API client the review workflow uses.
type Client interface {
	GetCollection(ctx context.Context, bid, cid string) (*kinto.Collection, error)
	GetRecordsTimestamp(ctx context.Context, bid, cid string) (int64, bool, error)
	ListRecordsSince(ctx context.Context, bid, cid string, since int64) ([]kinto.RecordChange, error)
	PatchCollection(ctx context.Context, bid, cid string, data map[string]any) (*kinto.Collection, error)
}

// Changes counts the source records changed after Since.
type Changes struct {
	Since   int64 `json:"since"`
	Updated int   `json:"updated"`
	Deleted int   `json:"deleted"`
}

// Pending reports whether any change is waiting.
func (c *Changes) Pending() bool {
	return c != nil && c.Updated+c.Deleted > 0
}

// Info is the sign-off state of one collection. Exactly one of
// ChangesOnPreview and ChangesOnSource is set: the former while the source is
// a work in progress, the latter once it has been submitted.
type Info struct {
	Collections
	Status           string
	Metadata         *kinto.Collection
	ChangesOnPreview *Changes
	ChangesOnSource  *Changes
}

// Pending returns whichever change count is set.
func (i *Info) Pending() *Changes {
	if i.ChangesOnPreview != nil {
		return i.ChangesOnPreview
	}
	return i.ChangesOnSource
}

// Compute reads the sign-off state of bid/cid. It returns nil, nil when the
// collection is not part of a sign-off workflow, which is different from a
// workflow with nothing to review.
func Compute(ctx context.Context, client Client, info *kinto.ServerInfo, bid, cid string) (*Info, error) {
	cols := Resolve(info, bid, cid)
	if cols == nil {
		return nil, nil
	}

	src, err := client.GetCollection(ctx, cols.Source.Bucket, cols.Source.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source collection: %w", err)
	}

	downstream := cols.Destination
	if src.Status == StatusWorkInProgress && cols.Preview != nil {
		downstream = *cols.Preview
	}
	since, err := baseline(ctx, client, downstream)
	if err != nil {
		return nil, err
	}

	records, err := client.ListRecordsSince(ctx, cols.Source.Bucket, cols.Source.Collection, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list changed records: %w", err)
	}
	changes := &Changes{Since: since}
	for _, r := range records {
		if r.Deleted {
			changes.Deleted++
		} else {
			changes.Updated++
		}
	}

	result := &Info{Collections: *cols, Status: src.Status, Metadata: src}
	if src.Status == StatusWorkInProgress {
		result.ChangesOnPreview = changes
	} else {
		result.ChangesOnSource = changes
	}
	return result, nil
}

// baseline is the records timestamp of ref, or its last_modified when the
// server did not report one. A collection that does not exist yet has
// received nothing, so its baseline is zero.
func baseline(ctx context.Context, client Client, ref kinto.ResourceRef) (int64, error) {
	ts, ok, err := client.GetRecordsTimestamp(ctx, ref.Bucket, ref.Collection)
	if err != nil && !kinto.IsStatus(err, http.StatusNotFound) {
		return 0, fmt.Errorf("failed to read records timestamp of %s/%s: %w", ref.Bucket, ref.Collection, err)
	}
	if ok {
		return ts, nil
	}
	col, err := client.GetCollection(ctx, ref.Bucket, ref.Collection)
	if kinto.IsStatus(err, http.StatusNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to fetch collection %s/%s: %w", ref.Bucket, ref.Collection, err)
	}
	return col.LastModified, nil
}
