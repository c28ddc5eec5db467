package kinto

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// listResponse is the envelope of every plural endpoint.
type listResponse[T any] struct {
	Data []T `json:"data"`
}

// dataResponse is the envelope of every object endpoint.
type dataResponse[T any] struct {
	Data T `json:"data"`
}

// BucketPath returns the API path of a bucket.
func BucketPath(bid string) string {
	return "/buckets/" + url.PathEscape(bid)
}

// CollectionPath returns the API path of a collection.
func CollectionPath(bid, cid string) string {
	return BucketPath(bid) + "/collections/" + url.PathEscape(cid)
}

// GroupPath returns the API path of a group.
func GroupPath(bid, gid string) string {
	return BucketPath(bid) + "/groups/" + url.PathEscape(gid)
}

// RecordPath returns the API path of a record.
func RecordPath(bid, cid, rid string) string {
	return CollectionPath(bid, cid) + "/records/" + url.PathEscape(rid)
}

// ServerInfo fetches the API root document (capabilities, settings, user).
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var info ServerInfo
	if _, err := c.Execute(ctx, Request{Path: "/"}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListPermissions lists every object the current user has permissions on,
// following pagination to the end.
func (c *Client) ListPermissions(ctx context.Context) ([]PermissionEntry, error) {
	entries := []PermissionEntry{}
	next := "/permissions"
	for next != "" {
		var page listResponse[PermissionEntry]
		hdr, err := c.Execute(ctx, Request{Path: next}, &page)
		if err != nil {
			return nil, err
		}
		entries = append(entries, page.Data...)
		next = hdr.Get("Next-Page")
	}
	return entries, nil
}

// ListHistory fetches the first page of the bucket history matching filters.
func (c *Client) ListHistory(ctx context.Context, bid string, filters url.Values, limit int) (*HistoryPage, error) {
	q := url.Values{}
	for k, vs := range filters {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if limit > 0 {
		q.Set("_limit", strconv.Itoa(limit))
	}
	return c.historyPage(ctx, Request{Path: BucketPath(bid) + "/history", Query: q})
}

// FetchHistoryPage fetches the history page a cursor points at.
func (c *Client) FetchHistoryPage(ctx context.Context, cursor Cursor) (*HistoryPage, error) {
	if cursor == "" {
		return nil, fmt.Errorf("fetching history page: empty cursor")
	}
	return c.historyPage(ctx, Request{Path: string(cursor)})
}

func (c *Client) historyPage(ctx context.Context, req Request) (*HistoryPage, error) {
	var page listResponse[HistoryEntry]
	hdr, err := c.Execute(ctx, req, &page)
	if err != nil {
		return nil, err
	}
	result := &HistoryPage{
		Entries: page.Data,
		Total:   -1,
	}
	if result.Entries == nil {
		result.Entries = []HistoryEntry{}
	}
	if next := hdr.Get("Next-Page"); next != "" {
		result.HasNextPage = true
		result.Next = Cursor(next)
	}
	if total, err := strconv.Atoi(hdr.Get("Total-Records")); err == nil {
		result.Total = total
	}
	return result, nil
}

// GetCollection fetches collection metadata.
func (c *Client) GetCollection(ctx context.Context, bid, cid string) (*Collection, error) {
	var resp dataResponse[Collection]
	if _, err := c.Execute(ctx, Request{Path: CollectionPath(bid, cid)}, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

// GetRecordsTimestamp returns the current timestamp of the collection's
// records, read from the ETag of a HEAD request. ok is false when the
// server did not report one.
func (c *Client) GetRecordsTimestamp(ctx context.Context, bid, cid string) (int64, bool, error) {
	hdr, err := c.Execute(ctx, Request{Method: http.MethodHead, Path: CollectionPath(bid, cid) + "/records"}, nil)
	if err != nil {
		return 0, false, err
	}
	ts, ok := parseETag(hdr.Get("ETag"))
	return ts, ok, nil
}

// ListRecordsSince lists every record changed after since, tombstones
// included, following pagination to the end.
func (c *Client) ListRecordsSince(ctx context.Context, bid, cid string, since int64) ([]RecordChange, error) {
	q := url.Values{}
	q.Set("_since", strconv.FormatInt(since, 10))
	q.Set("_fields", "deleted")

	changes := []RecordChange{}
	req := Request{Path: CollectionPath(bid, cid) + "/records", Query: q}
	for {
		var page listResponse[RecordChange]
		hdr, err := c.Execute(ctx, req, &page)
		if err != nil {
			return nil, err
		}
		changes = append(changes, page.Data...)
		next := hdr.Get("Next-Page")
		if next == "" {
			return changes, nil
		}
		req = Request{Path: next}
	}
}

// PatchCollection merges data into the collection's attributes.
func (c *Client) PatchCollection(ctx context.Context, bid, cid string, data map[string]any) (*Collection, error) {
	var resp dataResponse[Collection]
	_, err := c.Execute(ctx, Request{
		Method: http.MethodPatch,
		Path:   CollectionPath(bid, cid),
		Body:   map[string]any{"data": data},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Data, nil
}
