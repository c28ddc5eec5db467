// Package tui provides a Bubble Tea TUI for browsing one collection: its
// history, its sign-off state and the session's notifications.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/kintoadm/internal/auth"
	"github.com/fakeyudi/kintoadm/internal/history"
	"github.com/fakeyudi/kintoadm/internal/notify"
	"github.com/fakeyudi/kintoadm/internal/session"
	"github.com/fakeyudi/kintoadm/internal/signoff"
	"github.com/fakeyudi/kintoadm/internal/storage"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	actionCreateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	actionUpdateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	actionDeleteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	noteStyles = map[notify.Type]lipgloss.Style{
		notify.TypeInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
		notify.TypeSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true),
		notify.TypeWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		notify.TypeDanger:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabHistory tabID = iota
	tabSignoff
	tabNotifications
	tabSession
	tabCount
)

var tabNames = [tabCount]string{
	"History", "Sign-off", "Notifications", "Session",
}

// ── Messages ────────────────────

type historyMsg struct {
	state history.State
	err   error
}

type signoffMsg struct {
	info *signoff.Info
	err  error
}

type actionMsg struct {
	err error
}

type notificationsMsg []notify.Notification

type storeChangedMsg struct{}

// ── Model ────────────────────

// Deps are the collaborators the TUI drives.
type Deps struct {
	Pager    *history.Pager
	Workflow *signoff.Workflow
	// LoadSignoff computes the sign-off state of the browsed collection.
	LoadSignoff func(ctx context.Context) (*signoff.Info, error)
	// Session returns the current session, re-reading persisted state.
	Session func() session.Session
	Bus     *notify.Bus
	// Store is watched for changes made by other processes. Optional.
	Store *storage.Store
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	deps      Deps
	notesCh   <-chan []notify.Notification
	storeCh   <-chan struct{}
	title     string
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool

	hist          history.State
	loadingPage   bool
	info          *signoff.Info
	signoffLoaded bool
	busy          bool
	notes         []notify.Notification
	sess          session.Session

	// Decline comment entry.
	commenting bool
	comment    textinput.Model
}

// New creates a new TUI model browsing the pager's target.
func New(deps Deps) Model {
	t := deps.Pager.Target()
	ti := textinput.New()
	ti.Placeholder = "reason for declining"
	ti.CharLimit = 500
	m := Model{
		deps:    deps,
		title:   fmt.Sprintf("%s/%s", t.Bucket, t.Collection),
		comment: ti,
	}
	if deps.Session != nil {
		m.sess = deps.Session()
	}
	if deps.Bus != nil {
		m.notes = deps.Bus.List()
	}
	return m
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadHistory(),
		m.loadSignoff(),
		waitNotifications(m.notesCh),
		waitStore(m.storeCh),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.commenting {
			return m.updateComment(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
			return m, nil
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
			return m, nil
		case "1", "2", "3", "4":
			m.activeTab = tabID(msg.String()[0] - '1')
			return m, nil
		case "n":
			if m.activeTab == tabHistory && m.hist.HasNextPage && !m.loadingPage && !m.loggedOut() {
				m.loadingPage = true
				m.refresh(tabHistory)
				return m, m.nextPage()
			}
		case "r":
			if m.loggedOut() {
				return m, nil
			}
			m.loadingPage = true
			m.refresh(tabHistory)
			return m, tea.Batch(m.loadHistory(), m.loadSignoff())
		case "c":
			if m.activeTab == tabNotifications && m.deps.Bus != nil {
				m.deps.Bus.Clear()
				return m, nil
			}
		}
		if m.activeTab == tabSignoff {
			if cmd := m.signoffKey(msg.String()); cmd != nil {
				m.busy = true
				m.refresh(tabSignoff)
				return m, cmd
			}
			if m.commenting {
				return m, textinput.Blink
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil

	case historyMsg:
		m.loadingPage = false
		if msg.err == nil {
			m.hist = msg.state
		}
		m.refresh(tabHistory)
		return m, nil

	case signoffMsg:
		m.busy = false
		if msg.err == nil {
			m.info = msg.info
			m.signoffLoaded = true
		}
		m.refresh(tabSignoff)
		return m, nil

	case actionMsg:
		return m, m.loadSignoff()

	case notificationsMsg:
		m.notes = msg
		m.refresh(tabNotifications)
		return m, waitNotifications(m.notesCh)

	case storeChangedMsg:
		if m.deps.Session != nil {
			m.sess = m.deps.Session()
		}
		if m.loggedOut() {
			m.commenting = false
			m.comment.Blur()
			m.comment.Reset()
		}
		for t := tabID(0); t < tabCount; t++ {
			m.refresh(t)
		}
		return m, waitStore(m.storeCh)
	}
	return m, nil
}

func (m Model) updateComment(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.commenting = false
		m.comment.Blur()
		m.comment.Reset()
		return m, nil
	case "enter":
		comment := m.comment.Value()
		m.commenting = false
		m.comment.Blur()
		m.comment.Reset()
		if m.loggedOut() {
			return m, nil
		}
		m.busy = true
		m.refresh(tabSignoff)
		return m, m.runAction(func(ctx context.Context, si *signoff.Info) error {
			_, err := m.deps.Workflow.Decline(ctx, si, comment)
			return err
		})
	}
	var cmd tea.Cmd
	m.comment, cmd = m.comment.Update(msg)
	return m, cmd
}

// loggedOut reports whether the session ended while browsing. The pager and
// workflow keep the client of the old credentials, so nothing may be sent
// through them afterwards.
func (m *Model) loggedOut() bool {
	return m.deps.Session != nil && m.sess.Auth == nil
}

// signoffKey maps a key on the sign-off tab to a review action. Decline
// switches to comment entry and returns nil.
func (m *Model) signoffKey(key string) tea.Cmd {
	if m.info == nil || m.busy || m.deps.Workflow == nil || m.loggedOut() {
		return nil
	}
	wf := m.deps.Workflow
	switch key {
	case "v":
		return m.runAction(func(ctx context.Context, si *signoff.Info) error {
			_, err := wf.RequestReview(ctx, si, "")
			return err
		})
	case "a":
		return m.runAction(func(ctx context.Context, si *signoff.Info) error {
			_, err := wf.Approve(ctx, si)
			return err
		})
	case "x":
		return m.runAction(func(ctx context.Context, si *signoff.Info) error {
			_, err := wf.Rollback(ctx, si)
			return err
		})
	case "d":
		m.commenting = true
		m.comment.Focus()
	}
	return nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  kintoadm  " + m.title)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == tabNotifications && len(m.notes) > 0 {
			label = fmt.Sprintf(" %d %s (%d) ", i+1, tabNames[i], len(m.notes))
		}
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-4 jump  r reload  q quit"
	switch m.activeTab {
	case tabHistory:
		if m.hist.HasNextPage {
			hint += "  n next page"
		}
	case tabSignoff:
		hint += "  v request review  a approve  d decline  x rollback"
	case tabNotifications:
		hint += "  c clear"
	}
	if m.commenting {
		hint = "  " + m.comment.View() + "  enter send  esc cancel"
	}
	if m.loggedOut() {
		hint = "  logged out: log in again and restart browse  q quit"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + pct,
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Commands ───────────────────

func (m Model) loadHistory() tea.Cmd {
	pager := m.deps.Pager
	return func() tea.Msg {
		err := pager.Load(context.Background())
		return historyMsg{state: pager.State(), err: err}
	}
}

func (m Model) nextPage() tea.Cmd {
	pager := m.deps.Pager
	return func() tea.Msg {
		err := pager.Next(context.Background())
		return historyMsg{state: pager.State(), err: err}
	}
}

func (m Model) loadSignoff() tea.Cmd {
	load := m.deps.LoadSignoff
	if load == nil {
		return nil
	}
	return func() tea.Msg {
		info, err := load(context.Background())
		return signoffMsg{info: info, err: err}
	}
}

func (m Model) runAction(fn func(ctx context.Context, si *signoff.Info) error) tea.Cmd {
	si := m.info
	return func() tea.Msg {
		return actionMsg{err: fn(context.Background(), si)}
	}
}

func waitNotifications(ch <-chan []notify.Notification) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		list, ok := <-ch
		if !ok {
			return nil
		}
		return notificationsMsg(list)
	}
}

func waitStore(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) refresh(t tabID) {
	if !m.ready {
		return
	}
	m.viewports[t].SetContent(m.renderTab(t))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabHistory:
		return m.renderHistory()
	case tabSignoff:
		return m.renderSignoff()
	case tabNotifications:
		return m.renderNotifications()
	case tabSession:
		return m.renderSession()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func row(sb *strings.Builder, label, value string) {
	sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-18s", label)) + "  " + value + "\n")
}

func (m *Model) renderHistory() string {
	var sb strings.Builder
	count := fmt.Sprintf("%d", len(m.hist.Data))
	if m.hist.Total >= 0 && m.hist.Loaded {
		count = fmt.Sprintf("%d of %d", len(m.hist.Data), m.hist.Total)
	}
	sb.WriteString(heading("History (" + count + ")"))
	if !m.hist.Loaded {
		sb.WriteString(dimStyle.Render("  loading…") + "\n")
		return sb.String()
	}
	if len(m.hist.Data) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, e := range m.hist.Data {
		ts := timeStyle.Render(shortDate(e.Date))
		var badge string
		switch e.Action {
		case "create":
			badge = actionCreateStyle.Render(fmt.Sprintf("%-7s", e.Action))
		case "delete":
			badge = actionDeleteStyle.Render(fmt.Sprintf("%-7s", e.Action))
		default:
			badge = actionUpdateStyle.Render(fmt.Sprintf("%-7s", e.Action))
		}
		target := e.ResourceName
		if e.RecordID != "" {
			target += " " + e.RecordID
		}
		fmt.Fprintf(&sb, "  %s  %s  %s  %s\n", ts, badge, target, dimStyle.Render(e.UserID))
	}
	switch {
	case m.loadingPage:
		sb.WriteString("\n" + dimStyle.Render("  loading next page…") + "\n")
	case m.hist.HasNextPage:
		sb.WriteString("\n" + dimStyle.Render("  press n for more") + "\n")
	}
	return sb.String()
}

func (m *Model) renderSignoff() string {
	var sb strings.Builder
	sb.WriteString(heading("Sign-off"))
	if !m.signoffLoaded {
		sb.WriteString(dimStyle.Render("  loading…") + "\n")
		return sb.String()
	}
	if m.info == nil {
		sb.WriteString(dimStyle.Render("  (sign-off is not configured for this collection)") + "\n")
		return sb.String()
	}
	si := m.info
	row(&sb, "Source:", si.Collections.Source.Bucket+"/"+si.Collections.Source.Collection)
	if si.Preview != nil {
		row(&sb, "Preview:", si.Preview.Bucket+"/"+si.Preview.Collection)
	}
	row(&sb, "Destination:", si.Destination.Bucket+"/"+si.Destination.Collection)
	row(&sb, "Status:", si.Status)
	if md := si.Metadata; md != nil {
		if md.LastEditBy != "" {
			row(&sb, "Last edit:", md.LastEditBy+" "+dimStyle.Render(md.LastEditDate))
		}
		if md.LastReviewRequestBy != "" {
			row(&sb, "Review requested:", md.LastReviewRequestBy+" "+dimStyle.Render(md.LastReviewRequestDate))
		}
		if md.LastReviewerComment != "" {
			row(&sb, "Reviewer comment:", md.LastReviewerComment)
		}
	}

	sb.WriteString(heading("Pending Changes"))
	target := "destination"
	c := si.ChangesOnSource
	if si.ChangesOnPreview != nil {
		target, c = "preview", si.ChangesOnPreview
	}
	if c.Pending() {
		row(&sb, "Updated:", fmt.Sprintf("%d", c.Updated))
		row(&sb, "Deleted:", fmt.Sprintf("%d", c.Deleted))
		row(&sb, "Not yet in:", target)
	} else {
		sb.WriteString(dimStyle.Render("  (no changes pending for "+target+")") + "\n")
	}
	if m.busy {
		sb.WriteString("\n" + dimStyle.Render("  working…") + "\n")
	}
	return sb.String()
}

func (m *Model) renderNotifications() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Notifications (%d)", len(m.notes))))
	if len(m.notes) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, n := range m.notes {
		ts := timeStyle.Render(n.Time.Format("15:04:05"))
		badge := noteStyles[n.Type].Render(fmt.Sprintf("%-8s", strings.ToUpper(string(n.Type))))
		fmt.Fprintf(&sb, "  %s  %s  %s\n", ts, badge, n.Message)
		if d := n.DetailText(); d != "" {
			sb.WriteString(dimStyle.Render("                      "+d) + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderSession() string {
	var sb strings.Builder
	sb.WriteString(heading("Session"))
	row(&sb, "State:", m.sess.State.String())
	if m.sess.Auth == nil {
		sb.WriteString(dimStyle.Render("  (not logged in)") + "\n")
		return sb.String()
	}
	row(&sb, "Server:", m.sess.Auth.ServerURL())
	row(&sb, "Auth:", auth.Display(m.sess.Auth))
	if info := m.sess.ServerInfo; info != nil {
		if info.User != nil {
			row(&sb, "User:", info.User.ID)
		}
		row(&sb, "Server version:", info.ProjectVersion)
	}
	row(&sb, "Permissions:", fmt.Sprintf("%d", len(m.sess.Permissions)))
	return sb.String()
}

// shortDate renders an ISO date as local "2006-01-02 15:04".
func shortDate(s string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Local().Format("2006-01-02 15:04")
		}
	}
	return s
}

// Run starts the TUI and blocks until the user quits. Notifications posted on
// the bus and writes to the store are delivered to the program while it runs.
func Run(ctx context.Context, deps Deps) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := New(deps)
	if deps.Bus != nil {
		notes := make(chan []notify.Notification, 1)
		unsubscribe := deps.Bus.Subscribe(func(list []notify.Notification) {
			latest(notes, list)
		})
		defer unsubscribe()
		m.notesCh = notes
	}
	if deps.Store != nil {
		changed := make(chan struct{}, 1)
		go func() {
			_ = deps.Store.Watch(ctx, func() { latest(changed, struct{}{}) })
		}()
		m.storeCh = changed
	}

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// latest replaces any undelivered value in ch with v.
func latest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
