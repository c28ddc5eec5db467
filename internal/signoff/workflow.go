package signoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/fakeyudi/kintoadm/internal/kinto"
	"github.com/fakeyudi/kintoadm/internal/notify"
)

// ErrActionNotAllowed is returned when a review action does not apply to the
// collection's current status.
var ErrActionNotAllowed = errors.New("action not allowed")

// Workflow loads sign-off state and performs review actions, reporting the
// outcome of each on the notification bus.
type Workflow struct {
	client Client
	bus    *notify.Bus
	logger arbor.ILogger
}

// NewWorkflow returns a Workflow using client.
func NewWorkflow(client Client, bus *notify.Bus, logger arbor.ILogger) *Workflow {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Workflow{client: client, bus: bus, logger: logger}
}

// Load computes the sign-off state of bid/cid. Failures are reported on the
// bus; a nil Info with a nil error means the collection is not signed.
func (w *Workflow) Load(ctx context.Context, info *kinto.ServerInfo, bid, cid string) (*Info, error) {
	si, err := Compute(ctx, w.client, info, bid, cid)
	if err != nil {
		w.bus.Error("Error fetching sign-off information", err)
		return nil, err
	}
	if si == nil {
		w.logger.Debug().Str("bucket", bid).Str("collection", cid).Msg("Collection is not signed")
	}
	return si, nil
}

// RequestReview submits a work in progress for review.
func (w *Workflow) RequestReview(ctx context.Context, si *Info, comment string) (*kinto.Collection, error) {
	if si.Status != StatusWorkInProgress {
		return nil, w.refuse("request review", si, StatusWorkInProgress)
	}
	data := map[string]any{"status": StatusToReview}
	if comment != "" {
		data["last_editor_comment"] = comment
	}
	return w.apply(ctx, si, data, "Review requested", "Couldn't request review")
}

// Approve accepts changes under review so the signer publishes them.
func (w *Workflow) Approve(ctx context.Context, si *Info) (*kinto.Collection, error) {
	if si.Status != StatusToReview {
		return nil, w.refuse("approve", si, StatusToReview)
	}
	return w.apply(ctx, si, map[string]any{"status": StatusToSign}, "Changes approved", "Couldn't approve changes")
}

// Decline sends changes under review back to the editors with a comment.
func (w *Workflow) Decline(ctx context.Context, si *Info, comment string) (*kinto.Collection, error) {
	if si.Status != StatusToReview {
		return nil, w.refuse("decline", si, StatusToReview)
	}
	data := map[string]any{
		"status":                StatusWorkInProgress,
		"last_reviewer_comment": comment,
	}
	return w.apply(ctx, si, data, "Changes declined", "Couldn't decline changes")
}

// Rollback discards the pending changes of the source collection.
func (w *Workflow) Rollback(ctx context.Context, si *Info) (*kinto.Collection, error) {
	if !si.Pending().Pending() {
		err := fmt.Errorf("%w: rollback: no pending changes", ErrActionNotAllowed)
		w.bus.Warning("Nothing to roll back", err)
		return nil, err
	}
	return w.apply(ctx, si, map[string]any{"status": StatusToRollback}, "Changes rolled back", "Couldn't roll back changes")
}

func (w *Workflow) refuse(action string, si *Info, want string) error {
	err := fmt.Errorf("%w: %s requires status %q, collection is %q", ErrActionNotAllowed, action, want, si.Status)
	w.bus.Warning("Cannot "+action, err)
	return err
}

func (w *Workflow) apply(ctx context.Context, si *Info, data map[string]any, okMsg, failMsg string) (*kinto.Collection, error) {
	src := si.Collections.Source
	col, err := w.client.PatchCollection(ctx, src.Bucket, src.Collection, data)
	if err != nil {
		w.bus.Error(failMsg, err)
		return nil, err
	}
	w.logger.Info().
		Str("bucket", src.Bucket).
		Str("collection", src.Collection).
		Str("status", col.Status).
		Msg(okMsg)
	w.bus.Success(okMsg, nil)
	return col, nil
}
