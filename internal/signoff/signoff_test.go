package signoff_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fakeyudi/kintoadm/internal/kinto"
	"github.com/fakeyudi/kintoadm/internal/notify"
	"github.com/fakeyudi/kintoadm/internal/signoff"
)

func serverInfo(t require.TestingT, signer any, principals ...string) *kinto.ServerInfo {
	caps := map[string]json.RawMessage{}
	if signer != nil {
		raw, err := json.Marshal(signer)
		require.NoError(t, err)
		caps["signer"] = raw
	}
	return &kinto.ServerInfo{
		Capabilities: caps,
		User:         &kinto.User{ID: "account:alice", Principals: principals},
	}
}

func ref(bucket, collection string) map[string]any {
	m := map[string]any{"bucket": bucket}
	if collection != "" {
		m["collection"] = collection
	}
	return m
}

var perBucketSigner = map[string]any{
	"to_review_enabled": true,
	"editors_group":     "{collection_id}-editors",
	"reviewers_group":   "{collection_id}-reviewers",
	"resources": []map[string]any{{
		"source":      ref("main-workspace", ""),
		"preview":     ref("main-preview", ""),
		"destination": ref("main", ""),
	}},
}

func TestResolvePerBucketResource(t *testing.T) {
	info := serverInfo(t, perBucketSigner)
	cols := signoff.Resolve(info, "main-workspace", "cfr")
	require.NotNil(t, cols)
	assert.Equal(t, kinto.ResourceRef{Bucket: "main-workspace", Collection: "cfr"}, cols.Source)
	require.NotNil(t, cols.Preview)
	assert.Equal(t, kinto.ResourceRef{Bucket: "main-preview", Collection: "cfr"}, *cols.Preview)
	assert.Equal(t, kinto.ResourceRef{Bucket: "main", Collection: "cfr"}, cols.Destination)
}

func TestResolvePrefersExactCollection(t *testing.T) {
	info := serverInfo(t, map[string]any{
		"resources": []map[string]any{
			{"source": ref("ws", ""), "destination": ref("main", "")},
			{"source": ref("ws", "blocklist"), "destination": ref("blocked", "list")},
		},
	})
	cols := signoff.Resolve(info, "ws", "blocklist")
	require.NotNil(t, cols)
	assert.Nil(t, cols.Preview)
	assert.Equal(t, kinto.ResourceRef{Bucket: "blocked", Collection: "list"}, cols.Destination)
}

func TestResolveUnavailable(t *testing.T) {
	assert.Nil(t, signoff.Resolve(serverInfo(t, nil), "main-workspace", "cfr"))
	assert.Nil(t, signoff.Resolve(serverInfo(t, perBucketSigner), "other", "cfr"))
	assert.Nil(t, signoff.Resolve(nil, "main-workspace", "cfr"))
}

func TestToReviewEnabled(t *testing.T) {
	src := kinto.ResourceRef{Bucket: "main-workspace", Collection: "cfr"}
	dst := kinto.ResourceRef{Bucket: "main", Collection: "cfr"}

	assert.True(t, signoff.ToReviewEnabled(serverInfo(t, perBucketSigner), src, dst))
	assert.False(t, signoff.ToReviewEnabled(serverInfo(t, nil), src, dst))

	override := map[string]any{
		"to_review_enabled": true,
		"resources": []map[string]any{{
			"source":            ref("main-workspace", "cfr"),
			"destination":       ref("main", "cfr"),
			"to_review_enabled": false,
		}},
	}
	assert.False(t, signoff.ToReviewEnabled(serverInfo(t, override), src, dst))

	other := kinto.ResourceRef{Bucket: "main-workspace", Collection: "other"}
	assert.True(t, signoff.ToReviewEnabled(serverInfo(t, override), other, kinto.ResourceRef{Bucket: "main", Collection: "other"}))
}

// Feature: kintoadm, Property 7: a resource override replaces the server-wide review flag
func TestToReviewOverrideWins(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		serverFlag := rapid.Bool().Draw(t, "server")
		hasOverride := rapid.Bool().Draw(t, "hasOverride")
		overrideFlag := rapid.Bool().Draw(t, "override")

		res := map[string]any{"source": ref("ws", "c"), "destination": ref("main", "c")}
		if hasOverride {
			res["to_review_enabled"] = overrideFlag
		}
		info := serverInfo(t, map[string]any{"to_review_enabled": serverFlag, "resources": []any{res}})

		want := serverFlag
		if hasOverride {
			want = overrideFlag
		}
		got := signoff.ToReviewEnabled(info, kinto.ResourceRef{Bucket: "ws", Collection: "c"}, kinto.ResourceRef{Bucket: "main", Collection: "c"})
		if got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	})
}

func TestIsMember(t *testing.T) {
	ids := kinto.ResourceRef{Bucket: "sourceBucket", Collection: "sourceCol"}

	member := serverInfo(t, perBucketSigner, "account:alice", "/buckets/sourceBucket/groups/sourceCol-editors")
	assert.True(t, signoff.IsMember(signoff.EditorsGroup, ids, member))
	assert.False(t, signoff.IsMember(signoff.ReviewersGroup, ids, member))

	outsider := serverInfo(t, perBucketSigner, "account:alice", "/buckets/otherBucket/groups/sourceCol-editors")
	assert.False(t, signoff.IsMember(signoff.EditorsGroup, ids, outsider))

	assert.False(t, signoff.IsMember(signoff.EditorsGroup, ids, serverInfo(t, nil, "/buckets/sourceBucket/groups/sourceCol-editors")))
	assert.Panics(t, func() { signoff.IsMember("admins_group", ids, member) })
}

func TestIsMemberDefaultTemplate(t *testing.T) {
	info := serverInfo(t, map[string]any{"resources": []any{}}, "/buckets/b/groups/c-reviewers")
	assert.True(t, signoff.IsMember(signoff.ReviewersGroup, kinto.ResourceRef{Bucket: "b", Collection: "c"}, info))
}

// fakeClient serves collections and records from memory.
type fakeClient struct {
	collections map[string]*kinto.Collection
	timestamps  map[string]int64
	records     map[string][]kinto.RecordChange
	fail        error
	patched     map[string]any
	patchErr    error
	sinceAsked  int64
}

func key(bid, cid string) string { return bid + "/" + cid }

func (f *fakeClient) GetCollection(ctx context.Context, bid, cid string) (*kinto.Collection, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	c, ok := f.collections[key(bid, cid)]
	if !ok {
		return nil, &kinto.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
	}
	return c, nil
}

func (f *fakeClient) GetRecordsTimestamp(ctx context.Context, bid, cid string) (int64, bool, error) {
	ts, ok := f.timestamps[key(bid, cid)]
	return ts, ok, nil
}

func (f *fakeClient) ListRecordsSince(ctx context.Context, bid, cid string, since int64) ([]kinto.RecordChange, error) {
	f.sinceAsked = since
	var out []kinto.RecordChange
	for _, r := range f.records[key(bid, cid)] {
		if r.LastModified > since {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeClient) PatchCollection(ctx context.Context, bid, cid string, data map[string]any) (*kinto.Collection, error) {
	if f.patchErr != nil {
		return nil, f.patchErr
	}
	f.patched = data
	c := *f.collections[key(bid, cid)]
	c.Status, _ = data["status"].(string)
	return &c, nil
}

func newFakeClient(status string) *fakeClient {
	return &fakeClient{
		collections: map[string]*kinto.Collection{
			key("main-workspace", "cfr"): {ID: "cfr", Status: status, LastModified: 300},
			key("main-preview", "cfr"):   {ID: "cfr", LastModified: 150},
			key("main", "cfr"):           {ID: "cfr", LastModified: 100},
		},
		timestamps: map[string]int64{
			key("main-preview", "cfr"): 200,
			key("main", "cfr"):         100,
		},
		records: map[string][]kinto.RecordChange{
			key("main-workspace", "cfr"): {
				{ID: "a", LastModified: 90},
				{ID: "b", LastModified: 150},
				{ID: "c", LastModified: 250},
				{ID: "d", LastModified: 260, Deleted: true},
			},
		},
	}
}

func TestComputeWorkInProgressUsesPreview(t *testing.T) {
	client := newFakeClient(signoff.StatusWorkInProgress)
	si, err := signoff.Compute(context.Background(), client, serverInfo(t, perBucketSigner), "main-workspace", "cfr")
	require.NoError(t, err)
	require.NotNil(t, si)

	assert.Nil(t, si.ChangesOnSource)
	require.NotNil(t, si.ChangesOnPreview)
	assert.Equal(t, signoff.Changes{Since: 200, Updated: 1, Deleted: 1}, *si.ChangesOnPreview)
	assert.Equal(t, signoff.StatusWorkInProgress, si.Status)
	assert.Equal(t, int64(300), si.Metadata.LastModified)
}

func TestComputeOtherStatusUsesDestination(t *testing.T) {
	client := newFakeClient(signoff.StatusToReview)
	si, err := signoff.Compute(context.Background(), client, serverInfo(t, perBucketSigner), "main-workspace", "cfr")
	require.NoError(t, err)
	require.NotNil(t, si)

	assert.Nil(t, si.ChangesOnPreview)
	require.NotNil(t, si.ChangesOnSource)
	assert.Equal(t, signoff.Changes{Since: 100, Updated: 2, Deleted: 1}, *si.ChangesOnSource)
}

func TestComputeFallsBackToLastModified(t *testing.T) {
	client := newFakeClient(signoff.StatusSigned)
	delete(client.timestamps, key("main", "cfr"))
	client.collections[key("main", "cfr")].LastModified = 155

	_, err := signoff.Compute(context.Background(), client, serverInfo(t, perBucketSigner), "main-workspace", "cfr")
	require.NoError(t, err)
	assert.Equal(t, int64(155), client.sinceAsked)
}

func TestComputeMissingDestinationCountsEverything(t *testing.T) {
	client := newFakeClient(signoff.StatusSigned)
	delete(client.timestamps, key("main", "cfr"))
	delete(client.collections, key("main", "cfr"))

	si, err := signoff.Compute(context.Background(), client, serverInfo(t, perBucketSigner), "main-workspace", "cfr")
	require.NoError(t, err)
	assert.Equal(t, 4, si.ChangesOnSource.Updated+si.ChangesOnSource.Deleted)
}

func TestComputeUnavailable(t *testing.T) {
	si, err := signoff.Compute(context.Background(), newFakeClient(""), serverInfo(t, nil), "main-workspace", "cfr")
	require.NoError(t, err)
	assert.Nil(t, si)
}

// Feature: kintoadm, Property 8: exactly one change count is populated, chosen by status
func TestExactlyOneChangeCount(t *testing.T) {
	statuses := []string{
		signoff.StatusWorkInProgress, signoff.StatusToReview, signoff.StatusToSign,
		signoff.StatusSigned, signoff.StatusToRollback, signoff.StatusToResign, "",
	}
	rapid.Check(t, func(t *rapid.T) {
		status := rapid.SampledFrom(statuses).Draw(t, "status")
		n := rapid.IntRange(0, 20).Draw(t, "records")

		client := newFakeClient(status)
		var records []kinto.RecordChange
		for i := range n {
			records = append(records, kinto.RecordChange{
				ID:           fmt.Sprintf("r%d", i),
				LastModified: int64(rapid.IntRange(0, 400).Draw(t, "ts")),
				Deleted:      rapid.Bool().Draw(t, "deleted"),
			})
		}
		client.records[key("main-workspace", "cfr")] = records

		si, err := signoff.Compute(context.Background(), client, serverInfo(t, perBucketSigner), "main-workspace", "cfr")
		if err != nil {
			t.Fatalf("Compute: %v", err)
		}
		wip := status == signoff.StatusWorkInProgress
		if (si.ChangesOnPreview != nil) != wip || (si.ChangesOnSource != nil) == wip {
			t.Fatalf("status %q: preview=%v source=%v", status, si.ChangesOnPreview, si.ChangesOnSource)
		}
		c := si.Pending()
		want := 0
		for _, r := range records {
			if r.LastModified > c.Since {
				want++
			}
		}
		if c.Updated+c.Deleted != want {
			t.Fatalf("counted %d changes, want %d", c.Updated+c.Deleted, want)
		}
	})
}

func loadInfo(t *testing.T, status string) (*signoff.Workflow, *fakeClient, *notify.Bus, *signoff.Info) {
	t.Helper()
	client := newFakeClient(status)
	bus := notify.New(nil)
	wf := signoff.NewWorkflow(client, bus, nil)
	si, err := wf.Load(context.Background(), serverInfo(t, perBucketSigner), "main-workspace", "cfr")
	require.NoError(t, err)
	require.NotNil(t, si)
	return wf, client, bus, si
}

func TestWorkflowTransitions(t *testing.T) {
	wf, client, bus, si := loadInfo(t, signoff.StatusWorkInProgress)
	col, err := wf.RequestReview(context.Background(), si, "please look")
	require.NoError(t, err)
	assert.Equal(t, signoff.StatusToReview, col.Status)
	assert.Equal(t, "please look", client.patched["last_editor_comment"])
	assert.Equal(t, notify.TypeSuccess, bus.List()[0].Type)

	wf, _, _, si = loadInfo(t, signoff.StatusToReview)
	col, err = wf.Approve(context.Background(), si)
	require.NoError(t, err)
	assert.Equal(t, signoff.StatusToSign, col.Status)

	wf, client, _, si = loadInfo(t, signoff.StatusToReview)
	col, err = wf.Decline(context.Background(), si, "typo in record b")
	require.NoError(t, err)
	assert.Equal(t, signoff.StatusWorkInProgress, col.Status)
	assert.Equal(t, "typo in record b", client.patched["last_reviewer_comment"])

	wf, _, _, si = loadInfo(t, signoff.StatusSigned)
	col, err = wf.Rollback(context.Background(), si)
	require.NoError(t, err)
	assert.Equal(t, signoff.StatusToRollback, col.Status)
}

func TestWorkflowRefusesWrongStatus(t *testing.T) {
	wf, client, bus, si := loadInfo(t, signoff.StatusSigned)

	_, err := wf.Approve(context.Background(), si)
	assert.ErrorIs(t, err, signoff.ErrActionNotAllowed)
	_, err = wf.Decline(context.Background(), si, "")
	assert.ErrorIs(t, err, signoff.ErrActionNotAllowed)
	_, err = wf.RequestReview(context.Background(), si, "")
	assert.ErrorIs(t, err, signoff.ErrActionNotAllowed)

	assert.Nil(t, client.patched)
	list := bus.List()
	require.Len(t, list, 3)
	assert.Equal(t, notify.TypeWarning, list[0].Type)
}

func TestRollbackNeedsPendingChanges(t *testing.T) {
	wf, client, _, si := loadInfo(t, signoff.StatusSigned)
	si.ChangesOnSource = &signoff.Changes{Since: 400}

	_, err := wf.Rollback(context.Background(), si)
	assert.ErrorIs(t, err, signoff.ErrActionNotAllowed)
	assert.Nil(t, client.patched)
}

func TestWorkflowReportsFailures(t *testing.T) {
	wf, client, bus, si := loadInfo(t, signoff.StatusToReview)
	client.patchErr = errors.New("503 service unavailable")

	_, err := wf.Approve(context.Background(), si)
	require.Error(t, err)
	list := bus.List()
	require.Len(t, list, 1)
	assert.Equal(t, notify.TypeDanger, list[0].Type)
	assert.Equal(t, "Couldn't approve changes", list[0].Message)
}

func TestLoadReportsFetchErrors(t *testing.T) {
	client := newFakeClient(signoff.StatusToReview)
	client.fail = errors.New("connection refused")
	bus := notify.New(nil)

	si, err := signoff.NewWorkflow(client, bus, nil).Load(context.Background(), serverInfo(t, perBucketSigner), "main-workspace", "cfr")
	require.Error(t, err)
	assert.Nil(t, si)
	require.Len(t, bus.List(), 1)
	assert.Equal(t, "Error fetching sign-off information", bus.List()[0].Message)
}
