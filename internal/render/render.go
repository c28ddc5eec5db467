// Package render formats command results for the terminal.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/fakeyudi/kintoadm/internal/auth"
	"github.com/fakeyudi/kintoadm/internal/history"
	"github.com/fakeyudi/kintoadm/internal/kinto"
	"github.com/fakeyudi/kintoadm/internal/notify"
	"github.com/fakeyudi/kintoadm/internal/session"
	"github.com/fakeyudi/kintoadm/internal/signoff"
	"github.com/fakeyudi/kintoadm/internal/storage"
)

// Output formats.
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Renderer writes command results to w.
type Renderer interface {
	History(w io.Writer, target history.Target, s history.State) error
	Signoff(w io.Writer, bid, cid string, si *signoff.Info) error
	Status(w io.Writer, sess session.Session) error
	Permissions(w io.Writer, perms []kinto.PermissionEntry) error
	Servers(w io.Writer, entries []storage.ServerEntry) error
	Notifications(w io.Writer, list []notify.Notification) error
}

// New returns the renderer for format.
func New(format string) (Renderer, error) {
	switch format {
	case FormatMarkdown, "md", "":
		return &MarkdownRenderer{}, nil
	case FormatJSON:
		return &JSONRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown format %q: must be %q or %q", format, FormatMarkdown, FormatJSON)
	}
}

// StatusView is the secret-free summary of a session.
type StatusView struct {
	State        string     `json:"state"`
	Server       string     `json:"server,omitempty"`
	Auth         string     `json:"auth,omitempty"`
	User         string     `json:"user,omitempty"`
	Principals   []string   `json:"principals,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// NewStatusView summarises sess without its secrets.
func NewStatusView(sess session.Session) StatusView {
	v := StatusView{State: sess.State.String()}
	if sess.Auth != nil {
		v.Server = sess.Auth.ServerURL()
		v.Auth = auth.Display(sess.Auth)
		if tok, ok := sess.Auth.(auth.Token); ok {
			v.ExpiresAt = tok.ExpiresAt
		}
	}
	if sess.ServerInfo != nil {
		if sess.ServerInfo.User != nil {
			v.User = sess.ServerInfo.User.ID
		}
		v.Principals = sess.ServerInfo.Principals()
		v.Capabilities = sess.ServerInfo.CapabilityNames()
		slices.Sort(v.Capabilities)
	}
	return v
}

// JSONRenderer renders results as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) write(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func (r *JSONRenderer) History(w io.Writer, target history.Target, s history.State) error {
	entries := s.Data
	if entries == nil {
		entries = []kinto.HistoryEntry{}
	}
	return r.write(w, struct {
		Kind        history.Kind         `json:"kind"`
		Data        []kinto.HistoryEntry `json:"data"`
		HasNextPage bool                 `json:"hasNextPage"`
		Total       int                  `json:"total"`
	}{target.Kind, entries, s.HasNextPage, s.Total})
}

func (r *JSONRenderer) Signoff(w io.Writer, bid, cid string, si *signoff.Info) error {
	if si == nil {
		return r.write(w, struct {
			Bucket     string `json:"bucket"`
			Collection string `json:"collection"`
			Available  bool   `json:"available"`
		}{bid, cid, false})
	}
	return r.write(w, struct {
		Available        bool               `json:"available"`
		Source           kinto.ResourceRef  `json:"source"`
		Preview          *kinto.ResourceRef `json:"preview,omitempty"`
		Destination      kinto.ResourceRef  `json:"destination"`
		Status           string             `json:"status"`
		Collection       *kinto.Collection  `json:"collection,omitempty"`
		ChangesOnPreview *signoff.Changes   `json:"changesOnPreview,omitempty"`
		ChangesOnSource  *signoff.Changes   `json:"changesOnSource,omitempty"`
	}{true, si.Collections.Source, si.Preview, si.Destination, si.Status, si.Metadata, si.ChangesOnPreview, si.ChangesOnSource})
}

func (r *JSONRenderer) Status(w io.Writer, sess session.Session) error {
	return r.write(w, NewStatusView(sess))
}

func (r *JSONRenderer) Permissions(w io.Writer, perms []kinto.PermissionEntry) error {
	if perms == nil {
		perms = []kinto.PermissionEntry{}
	}
	return r.write(w, perms)
}

func (r *JSONRenderer) Servers(w io.Writer, entries []storage.ServerEntry) error {
	if entries == nil {
		entries = []storage.ServerEntry{}
	}
	return r.write(w, entries)
}

func (r *JSONRenderer) Notifications(w io.Writer, list []notify.Notification) error {
	type item struct {
		Type    notify.Type `json:"type"`
		Message string      `json:"message"`
		Details string      `json:"details,omitempty"`
		Time    time.Time   `json:"time"`
	}
	out := make([]item, len(list))
	for i, n := range list {
		out[i] = item{n.Type, n.Message, n.DetailText(), n.Time}
	}
	return r.write(w, out)
}
