package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fakeyudi/kintoadm/internal/history"
	"github.com/fakeyudi/kintoadm/internal/kinto"
	"github.com/fakeyudi/kintoadm/internal/notify"
	"github.com/fakeyudi/kintoadm/internal/session"
	"github.com/fakeyudi/kintoadm/internal/signoff"
	"github.com/fakeyudi/kintoadm/internal/storage"
)

// MarkdownRenderer renders results as human-readable Markdown.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) History(w io.Writer, target history.Target, s history.State) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# History — %s\n\n", describe(target))

	if len(s.Data) == 0 {
		sb.WriteString("_No history entries._\n")
	} else {
		sb.WriteString("| Date | Action | Resource | Author |\n")
		sb.WriteString("|------|--------|----------|--------|\n")
		for _, e := range s.Data {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", e.Date, e.Action, resource(e), e.UserID)
		}
	}
	sb.WriteString("\n")

	switch {
	case s.Total >= 0:
		fmt.Fprintf(&sb, "Showing %d of %d entries.", len(s.Data), s.Total)
	default:
		fmt.Fprintf(&sb, "Showing %d entries.", len(s.Data))
	}
	if s.HasNextPage {
		sb.WriteString(" More available, use --all to load everything.")
	}
	sb.WriteString("\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

func (r *MarkdownRenderer) Signoff(w io.Writer, bid, cid string, si *signoff.Info) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Sign-off — %s/%s\n\n", bid, cid)
	if si == nil {
		sb.WriteString("_Sign-off is not configured for this collection._\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	sb.WriteString("## Collections\n\n")
	fmt.Fprintf(&sb, "- Source: %s\n", refString(si.Collections.Source))
	if si.Preview != nil {
		fmt.Fprintf(&sb, "- Preview: %s\n", refString(*si.Preview))
	}
	fmt.Fprintf(&sb, "- Destination: %s\n\n", refString(si.Destination))

	sb.WriteString("## Status\n\n")
	status := si.Status
	if status == "" {
		status = "unknown"
	}
	fmt.Fprintf(&sb, "- Status: %s\n", status)
	if m := si.Metadata; m != nil {
		writeBy(&sb, "Last edit", m.LastEditBy, m.LastEditDate)
		writeBy(&sb, "Review requested", m.LastReviewRequestBy, m.LastReviewRequestDate)
		writeBy(&sb, "Last review", m.LastReviewBy, m.LastReviewDate)
		writeBy(&sb, "Last signature", m.LastSignatureBy, m.LastSignatureDate)
		if m.LastEditorComment != "" {
			fmt.Fprintf(&sb, "- Editor comment: %s\n", m.LastEditorComment)
		}
		if m.LastReviewerComment != "" {
			fmt.Fprintf(&sb, "- Reviewer comment: %s\n", m.LastReviewerComment)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Pending Changes\n\n")
	target := "destination"
	c := si.ChangesOnSource
	if si.ChangesOnPreview != nil {
		target, c = "preview", si.ChangesOnPreview
	}
	if c.Pending() {
		fmt.Fprintf(&sb, "- %d updated, %d deleted since %d (not yet in %s)\n", c.Updated, c.Deleted, c.Since, target)
	} else {
		fmt.Fprintf(&sb, "_No changes pending for %s._\n", target)
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func (r *MarkdownRenderer) Status(w io.Writer, sess session.Session) error {
	v := NewStatusView(sess)
	var sb strings.Builder
	sb.WriteString("# Session\n\n")
	fmt.Fprintf(&sb, "- State: %s\n", v.State)
	if v.Server == "" {
		sb.WriteString("- Not logged in.\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}
	fmt.Fprintf(&sb, "- Server: %s\n", v.Server)
	fmt.Fprintf(&sb, "- Auth: %s\n", v.Auth)
	if v.User != "" {
		fmt.Fprintf(&sb, "- User: %s\n", v.User)
	}
	if v.ExpiresAt != nil {
		fmt.Fprintf(&sb, "- Expires: %s\n", v.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
	}
	if len(v.Capabilities) > 0 {
		fmt.Fprintf(&sb, "- Capabilities: %s\n", strings.Join(v.Capabilities, ", "))
	}
	if len(v.Principals) > 0 {
		sb.WriteString("\n## Principals\n\n")
		for _, p := range v.Principals {
			fmt.Fprintf(&sb, "- %s\n", p)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func (r *MarkdownRenderer) Permissions(w io.Writer, perms []kinto.PermissionEntry) error {
	var sb strings.Builder
	sb.WriteString("# Permissions\n\n")
	if len(perms) == 0 {
		sb.WriteString("_No permissions._\n")
	} else {
		sb.WriteString("| Resource | URI | Permissions |\n")
		sb.WriteString("|----------|-----|-------------|\n")
		for _, p := range perms {
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", p.ResourceName, p.URI, strings.Join(p.Permissions, ", "))
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func (r *MarkdownRenderer) Servers(w io.Writer, entries []storage.ServerEntry) error {
	var sb strings.Builder
	sb.WriteString("# Recent Servers\n\n")
	if len(entries) == 0 {
		sb.WriteString("_No servers recorded._\n")
	} else {
		for i, e := range entries {
			fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, e.Server, e.AuthType)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func (r *MarkdownRenderer) Notifications(w io.Writer, list []notify.Notification) error {
	var sb strings.Builder
	for _, n := range list {
		fmt.Fprintf(&sb, "[%s] %s", n.Type, n.Message)
		if d := n.DetailText(); d != "" {
			fmt.Fprintf(&sb, ": %s", d)
		}
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func describe(t history.Target) string {
	switch t.Kind {
	case history.KindGroup:
		return fmt.Sprintf("group %s/%s", t.Bucket, t.Group)
	case history.KindRecord:
		return fmt.Sprintf("record %s/%s/%s", t.Bucket, t.Collection, t.Record)
	default:
		return fmt.Sprintf("collection %s/%s", t.Bucket, t.Collection)
	}
}

func resource(e kinto.HistoryEntry) string {
	switch e.ResourceName {
	case "record":
		return "record " + e.RecordID
	case "group":
		return "group " + e.GroupID
	case "collection":
		return "collection " + e.CollectionID
	case "":
		return e.URI
	default:
		return e.ResourceName
	}
}

func refString(r kinto.ResourceRef) string {
	return r.Bucket + "/" + r.Collection
}

func writeBy(sb *strings.Builder, label, by, date string) {
	if by == "" {
		return
	}
	if date != "" {
		fmt.Fprintf(sb, "- %s: %s on %s\n", label, by, date)
		return
	}
	fmt.Fprintf(sb, "- %s: %s\n", label, by)
}
