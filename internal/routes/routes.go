// Package routes names the views of the console and maps them to paths.
package routes

import (
	"fmt"
	"net/url"
	"strings"
)

// Route names.
const (
	Home              = "home"
	Bucket            = "bucket"
	Collection        = "collection"
	CollectionHistory = "collection:history"
	CollectionSignoff = "collection:signoff"
	Record            = "record"
	RecordHistory     = "record:history"
	Group             = "group"
	GroupHistory      = "group:history"
	Auth              = "auth"
)

type route struct {
	name     string
	template string
}

// Longer templates first so Parse matches the most specific route.
var table = []route{
	{RecordHistory, "/buckets/:bid/collections/:cid/records/:rid/history"},
	{Record, "/buckets/:bid/collections/:cid/records/:rid"},
	{CollectionHistory, "/buckets/:bid/collections/:cid/history"},
	{CollectionSignoff, "/buckets/:bid/collections/:cid/signoff"},
	{Collection, "/buckets/:bid/collections/:cid"},
	{GroupHistory, "/buckets/:bid/groups/:gid/history"},
	{Group, "/buckets/:bid/groups/:gid"},
	{Bucket, "/buckets/:bid"},
	{Auth, "/auth/:payload/:token"},
	{Home, "/"},
}

// Params are the path parameters of a route, keyed without the colon.
type Params map[string]string

// URL renders the path of the named route. An unknown name or a missing
// parameter is a programming error and panics.
func URL(name string, params Params) string {
	for _, r := range table {
		if r.name != name {
			continue
		}
		segs := segments(r.template)
		for i, s := range segs {
			if !strings.HasPrefix(s, ":") {
				continue
			}
			v, ok := params[s[1:]]
			if !ok {
				panic(fmt.Sprintf("routes: %s: missing parameter %q", name, s[1:]))
			}
			segs[i] = url.PathEscape(v)
		}
		return "/" + strings.Join(segs, "/")
	}
	panic(fmt.Sprintf("routes: unknown route %q", name))
}

// Parse finds the route matching path. Query strings and fragments are
// ignored, and a leading "#" is accepted for hash-style deep links.
func Parse(path string) (string, Params, bool) {
	path = strings.TrimPrefix(path, "#")
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if !strings.HasPrefix(path, "/") {
		return "", nil, false
	}
	got := segments(path)

	for _, r := range table {
		want := segments(r.template)
		if len(want) != len(got) {
			continue
		}
		params := Params{}
		ok := true
		for i, w := range want {
			if strings.HasPrefix(w, ":") {
				v, err := url.PathUnescape(got[i])
				if err != nil || v == "" {
					ok = false
					break
				}
				params[w[1:]] = v
				continue
			}
			if w != got[i] {
				ok = false
				break
			}
		}
		if ok {
			return r.name, params, true
		}
	}
	return "", nil, false
}

// Names lists every route name.
func Names() []string {
	names := make([]string, len(table))
	for i, r := range table {
		names[i] = r.name
	}
	return names
}

func segments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return []string{}
	}
	return strings.Split(path, "/")
}
