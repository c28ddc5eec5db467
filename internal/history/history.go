// Package history pages through the change log of a collection, group or
// record. A Pager accumulates pages in server order (newest first); the
// position in the log is an explicit Cursor so it can be persisted and
// replayed with FetchPage.
package history

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/fakeyudi/kintoadm/internal/kinto"
	"github.com/fakeyudi/kintoadm/internal/notify"
)

// PageSize is the number of entries requested per page.
const PageSize = 200

// Kind is the type of resource whose history is listed.
type Kind string

const (
	KindCollection Kind = "collection"
	KindGroup      Kind = "group"
	KindRecord     Kind = "record"
)

// Target identifies the resource whose history is listed.
type Target struct {
	Kind       Kind
	Bucket     string
	Collection string // collection and record history
	Group      string // group history
	Record     string // record history
}

// Filters returns the history query filters selecting t.
func Filters(t Target) url.Values {
	q := url.Values{}
	switch t.Kind {
	case KindCollection:
		q.Set("collection_id", t.Collection)
	case KindGroup:
		q.Set("resource_name", "group")
		q.Set("group_id", t.Group)
	case KindRecord:
		q.Set("resource_name", "record")
		q.Set("collection_id", t.Collection)
		q.Set("record_id", t.Record)
	default:
		panic(fmt.Sprintf("history: unknown kind %q", t.Kind))
	}
	return q
}

// Fetcher is the part of the API client the pager reads from.
type Fetcher interface {
	ListHistory(ctx context.Context, bid string, filters url.Values, limit int) (*kinto.HistoryPage, error)
	FetchHistoryPage(ctx context.Context, cursor kinto.Cursor) (*kinto.HistoryPage, error)
}

// FetchPage fetches the page cursor points at.
func FetchPage(ctx context.Context, f Fetcher, cursor kinto.Cursor) (*kinto.HistoryPage, error) {
	return f.FetchHistoryPage(ctx, cursor)
}

// State is what a view renders. The zero State means nothing loaded yet.
type State struct {
	Data        []kinto.HistoryEntry
	HasNextPage bool
	Total       int // -1 when unknown
	Loaded      bool
}

// Pager accumulates history pages for one Target.
//
// Next calls are expected one at a time; two overlapping Next calls both read
// the same cursor and append the same page twice. The mutex only guards the
// state, it does not serialise fetches.
type Pager struct {
	mu       sync.Mutex
	fetcher  Fetcher
	bus      *notify.Bus
	logger   arbor.ILogger
	target   Target
	pageSize int

	state  State
	cursor kinto.Cursor
}

// NewPager returns a Pager for target. Nothing is fetched until Load.
func NewPager(f Fetcher, bus *notify.Bus, target Target, logger arbor.ILogger) *Pager {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Pager{
		fetcher:  f,
		bus:      bus,
		logger:   logger,
		target:   target,
		pageSize: PageSize,
	}
}

// SetPageSize overrides the number of entries requested per page. Values
// below 1 restore PageSize.
func (p *Pager) SetPageSize(n int) {
	if n < 1 {
		n = PageSize
	}
	p.pageSize = n
}

// Target returns the resource this pager lists.
func (p *Pager) Target() Target {
	return p.target
}

// State returns a copy of the accumulated state.
func (p *Pager) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.state
	s.Data = slices.Clone(s.Data)
	return s
}

// Cursor returns the position of the next page, empty when exhausted.
func (p *Pager) Cursor() kinto.Cursor {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

// Load fetches the first page, replacing any previous state.
func (p *Pager) Load(ctx context.Context) error {
	page, err := p.fetcher.ListHistory(ctx, p.target.Bucket, Filters(p.target), p.pageSize)
	if err != nil {
		return p.fail(err)
	}

	p.mu.Lock()
	p.state = State{
		Data:        append([]kinto.HistoryEntry{}, page.Entries...),
		HasNextPage: page.HasNextPage,
		Total:       page.Total,
		Loaded:      true,
	}
	p.cursor = page.Next
	p.mu.Unlock()

	p.logger.Debug().
		Str("kind", string(p.target.Kind)).
		Int("entries", len(page.Entries)).
		Msg("History loaded")
	return nil
}

// Next fetches the page after the last one and appends it. It is a no-op
// once the last page has been reached.
func (p *Pager) Next(ctx context.Context) error {
	p.mu.Lock()
	if !p.state.HasNextPage || p.cursor == "" {
		p.mu.Unlock()
		return nil
	}
	cursor := p.cursor
	p.mu.Unlock()

	page, err := FetchPage(ctx, p.fetcher, cursor)
	if err != nil {
		return p.fail(err)
	}

	p.mu.Lock()
	p.state.Data = append(p.state.Data, page.Entries...)
	p.state.HasNextPage = page.HasNextPage
	if page.Total >= 0 {
		p.state.Total = page.Total
	}
	p.cursor = page.Next
	p.mu.Unlock()
	return nil
}

// fail reports err on the notification bus and leaves the state unchanged.
func (p *Pager) fail(err error) error {
	msg := fmt.Sprintf("Error fetching %s history", p.target.Kind)
	p.bus.Error(msg, err)
	return fmt.Errorf("%s: %w", msg, err)
}

// Collect calls Next until the history is exhausted or maxPages pages are
// loaded in total. maxPages <= 0 means no limit. The pager must be loaded.
func Collect(ctx context.Context, p *Pager, maxPages int) error {
	pages := 1
	for p.State().HasNextPage {
		if maxPages > 0 && pages >= maxPages {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Next(ctx); err != nil {
			return err
		}
		pages++
	}
	return nil
}
