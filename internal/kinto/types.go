package kinto

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ServerInfo is the document served at the API root.
type ServerInfo struct {
	ProjectName    string                     `json:"project_name"`
	ProjectVersion string                     `json:"project_version"`
	HTTPAPIVersion string                     `json:"http_api_version"`
	ProjectDocs    string                     `json:"project_docs,omitempty"`
	URL            string                     `json:"url"`
	Settings       Settings                   `json:"settings"`
	Capabilities   map[string]json.RawMessage `json:"capabilities"`
	User           *User                      `json:"user,omitempty"`
}

// Settings are the public server settings.
type Settings struct {
	Readonly         bool `json:"readonly"`
	BatchMaxRequests int  `json:"batch_max_requests"`
}

// User describes the authenticated identity, absent for anonymous requests.
type User struct {
	ID         string   `json:"id"`
	Bucket     string   `json:"bucket,omitempty"`
	Principals []string `json:"principals"`
}

// HasCapability reports whether the server advertises name.
func (s *ServerInfo) HasCapability(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Capabilities[name]
	return ok
}

// CapabilityNames returns the advertised capabilities in no particular order.
func (s *ServerInfo) CapabilityNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Capabilities))
	for name := range s.Capabilities {
		names = append(names, name)
	}
	return names
}

// Principals returns the current user's principals, or nil when anonymous.
func (s *ServerInfo) Principals() []string {
	if s == nil || s.User == nil {
		return nil
	}
	return s.User.Principals
}

// Signer decodes the "signer" capability. ok is false when the server does
// not advertise it or the block is malformed.
func (s *ServerInfo) Signer() (SignerCapability, bool) {
	var sc SignerCapability
	if s == nil {
		return sc, false
	}
	raw, ok := s.Capabilities["signer"]
	if !ok {
		return sc, false
	}
	if err := json.Unmarshal(raw, &sc); err != nil {
		return sc, false
	}
	return sc, true
}

// OpenIDProviders lists the provider names of the "openid" capability.
func (s *ServerInfo) OpenIDProviders() []string {
	if s == nil {
		return nil
	}
	raw, ok := s.Capabilities["openid"]
	if !ok {
		return nil
	}
	var oc struct {
		Providers []struct {
			Name string `json:"name"`
		} `json:"providers"`
	}
	if err := json.Unmarshal(raw, &oc); err != nil {
		return nil
	}
	names := make([]string, 0, len(oc.Providers))
	for _, p := range oc.Providers {
		names = append(names, p.Name)
	}
	return names
}

// SignerCapability is the configuration block of the signer plugin.
type SignerCapability struct {
	ToReviewEnabled   bool             `json:"to_review_enabled"`
	GroupCheckEnabled bool             `json:"group_check_enabled"`
	EditorsGroup      string           `json:"editors_group"`
	ReviewersGroup    string           `json:"reviewers_group"`
	Resources         []SignerResource `json:"resources"`
}

// SignerResource maps a source collection to its preview and destination.
// An empty Collection applies the entry to every collection of the bucket.
type SignerResource struct {
	Source          ResourceRef  `json:"source"`
	Preview         *ResourceRef `json:"preview,omitempty"`
	Destination     ResourceRef  `json:"destination"`
	ToReviewEnabled *bool        `json:"to_review_enabled,omitempty"`
	EditorsGroup    string       `json:"editors_group,omitempty"`
	ReviewersGroup  string       `json:"reviewers_group,omitempty"`
}

// ResourceRef identifies a bucket or a collection.
type ResourceRef struct {
	Bucket     string `json:"bucket"`
	Collection string `json:"collection,omitempty"`
}

// PermissionEntry is one row of the permissions endpoint.
type PermissionEntry struct {
	ID           string   `json:"id"`
	URI          string   `json:"uri"`
	ResourceName string   `json:"resource_name"`
	BucketID     string   `json:"bucket_id,omitempty"`
	CollectionID string   `json:"collection_id,omitempty"`
	GroupID      string   `json:"group_id,omitempty"`
	RecordID     string   `json:"record_id,omitempty"`
	Permissions  []string `json:"permissions"`
}

// HistoryEntry is one change-log entry.
type HistoryEntry struct {
	ID           string          `json:"id"`
	LastModified int64           `json:"last_modified"`
	URI          string          `json:"uri"`
	Date         string          `json:"date"`
	Action       string          `json:"action"`
	ResourceName string          `json:"resource_name"`
	UserID       string          `json:"user_id"`
	BucketID     string          `json:"bucket_id,omitempty"`
	CollectionID string          `json:"collection_id,omitempty"`
	GroupID      string          `json:"group_id,omitempty"`
	RecordID     string          `json:"record_id,omitempty"`
	Target       json.RawMessage `json:"target,omitempty"`
}

// Cursor locates a page of a paginated listing. It is the server-issued
// next-page URL and can be stored and replayed as is.
type Cursor string

// HistoryPage is one page of history entries.
type HistoryPage struct {
	Entries     []HistoryEntry
	HasNextPage bool
	Next        Cursor
	Total       int // -1 when the server did not report a total
}

// Collection is the collection metadata relevant to the review workflow.
type Collection struct {
	ID                    string `json:"id"`
	LastModified          int64  `json:"last_modified"`
	Status                string `json:"status,omitempty"`
	LastEditBy            string `json:"last_edit_by,omitempty"`
	LastEditDate          string `json:"last_edit_date,omitempty"`
	LastReviewRequestBy   string `json:"last_review_request_by,omitempty"`
	LastReviewRequestDate string `json:"last_review_request_date,omitempty"`
	LastReviewBy          string `json:"last_review_by,omitempty"`
	LastReviewDate        string `json:"last_review_date,omitempty"`
	LastReviewerComment   string `json:"last_reviewer_comment,omitempty"`
	LastEditorComment     string `json:"last_editor_comment,omitempty"`
	LastSignatureBy       string `json:"last_signature_by,omitempty"`
	LastSignatureDate     string `json:"last_signature_date,omitempty"`
}

// RecordChange is a record listed with only its change markers.
type RecordChange struct {
	ID           string `json:"id"`
	LastModified int64  `json:"last_modified"`
	Deleted      bool   `json:"deleted,omitempty"`
}

// parseETag extracts the numeric timestamp of an ETag such as `"1234"`.
func parseETag(etag string) (int64, bool) {
	etag = strings.TrimPrefix(strings.TrimSpace(etag), "W/")
	etag = strings.Trim(etag, `"`)
	if etag == "" {
		return 0, false
	}
	ts, err := strconv.ParseInt(etag, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
