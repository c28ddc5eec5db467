// Package signoff implements the review workflow of the signer plugin:
// resolving which collections take part in it, counting the changes waiting
// to be promoted, and moving a collection through its review states.
package signoff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fakeyudi/kintoadm/internal/kinto"
)

// Collection statuses written by editors, reviewers and the signer.
const (
	StatusWorkInProgress = "work-in-progress"
	StatusToReview       = "to-review"
	StatusToSign         = "to-sign"
	StatusSigned         = "signed"
	StatusToRollback     = "to-rollback"
	StatusToResign       = "to-resign"
)

// Group keys accepted by IsMember.
const (
	EditorsGroup   = "editors_group"
	ReviewersGroup = "reviewers_group"
)

const collectionPlaceholder = "{collection_id}"

// Collections are the collections one sign-off resource spans.
type Collections struct {
	Source      kinto.ResourceRef
	Preview     *kinto.ResourceRef
	Destination kinto.ResourceRef
}

// Resolve finds the signer resource whose source is bid/cid and fills the
// collection id into per-bucket entries. A resource naming the collection
// wins over one covering the whole bucket. It returns nil when the server has
// no signer or the collection is not signed.
func Resolve(info *kinto.ServerInfo, bid, cid string) *Collections {
	sc, ok := info.Signer()
	if !ok {
		return nil
	}
	r, ok := match(sc.Resources, bid, cid)
	if !ok {
		return nil
	}
	c := &Collections{
		Source:      fill(r.Source, cid),
		Destination: fill(r.Destination, cid),
	}
	if r.Preview != nil {
		p := fill(*r.Preview, cid)
		c.Preview = &p
	}
	return c
}

func match(resources []kinto.SignerResource, bid, cid string) (kinto.SignerResource, bool) {
	for _, r := range resources {
		if r.Source.Bucket == bid && r.Source.Collection == cid {
			return r, true
		}
	}
	for _, r := range resources {
		if r.Source.Bucket == bid && r.Source.Collection == "" {
			return r, true
		}
	}
	return kinto.SignerResource{}, false
}

func fill(ref kinto.ResourceRef, cid string) kinto.ResourceRef {
	if ref.Collection == "" {
		ref.Collection = cid
	}
	return ref
}

// ToReviewEnabled reports whether changes from source to destination need a
// review. The server-wide flag applies unless a resource entry for exactly
// this source and destination sets its own.
func ToReviewEnabled(info *kinto.ServerInfo, source, destination kinto.ResourceRef) bool {
	sc, ok := info.Signer()
	if !ok {
		return false
	}
	for _, r := range sc.Resources {
		if r.ToReviewEnabled == nil {
			continue
		}
		if fill(r.Source, source.Collection) == source && fill(r.Destination, destination.Collection) == destination {
			return *r.ToReviewEnabled
		}
	}
	return sc.ToReviewEnabled
}

// IsMember reports whether the current user belongs to the editors or
// reviewers group of ids. groupKey is EditorsGroup or ReviewersGroup; any
// other key panics.
func IsMember(groupKey string, ids kinto.ResourceRef, info *kinto.ServerInfo) bool {
	sc, ok := info.Signer()
	if !ok {
		return false
	}
	tmpl := groupTemplate(groupKey, sc, ids)
	name := strings.ReplaceAll(tmpl, collectionPlaceholder, ids.Collection)
	principal := fmt.Sprintf("/buckets/%s/groups/%s", ids.Bucket, name)
	return slices.Contains(info.Principals(), principal)
}

func groupTemplate(groupKey string, sc kinto.SignerCapability, ids kinto.ResourceRef) string {
	var tmpl, fallback string
	switch groupKey {
	case EditorsGroup:
		tmpl, fallback = sc.EditorsGroup, collectionPlaceholder+"-editors"
	case ReviewersGroup:
		tmpl, fallback = sc.ReviewersGroup, collectionPlaceholder+"-reviewers"
	default:
		panic(fmt.Sprintf("signoff: unknown group key %q", groupKey))
	}
	if r, ok := match(sc.Resources, ids.Bucket, ids.Collection); ok {
		override := r.EditorsGroup
		if groupKey == ReviewersGroup {
			override = r.ReviewersGroup
		}
		if override != "" {
			return override
		}
	}
	if tmpl == "" {
		return fallback
	}
	return tmpl
}
