package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/fakeyudi/kintoadm/internal/auth"
	"github.com/fakeyudi/kintoadm/internal/config"
	"github.com/fakeyudi/kintoadm/internal/kinto"
	"github.com/fakeyudi/kintoadm/internal/logging"
	"github.com/fakeyudi/kintoadm/internal/notify"
	"github.com/fakeyudi/kintoadm/internal/render"
	"github.com/fakeyudi/kintoadm/internal/session"
	"github.com/fakeyudi/kintoadm/internal/storage"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

var (
	logger  arbor.ILogger
	bus     *notify.Bus
	store   *storage.Store
	servers *storage.ServerHistory
	manager *session.Manager

	// stopPrinting detaches the stderr notification printer.
	stopPrinting func()
)

var (
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:           "kintoadm",
	Short:         "Administer a Kinto server from the terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded

		if _, err := render.New(outputFormat); err != nil {
			return err
		}

		logger = logging.New(cfg.Logging, verbose)

		store, err = storage.OpenDefault()
		if err != nil {
			return err
		}
		servers = storage.NewServerHistory(store, cfg.HistoryLimit)

		bus = notify.New(logger)
		printNotifications(cmd.ErrOrStderr())

		manager = session.NewManager(store, servers, bus, func(creds auth.Credentials) session.Client {
			return newClient(creds)
		}, session.WithLogger(logger))
		return nil
	},
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", render.FormatMarkdown, "output format: markdown or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to the console at debug level")
}

// printNotifications echoes every notification raised while the command
// runs. The bus hands listeners the whole list, so only the tail beyond
// what was already printed is written.
func printNotifications(w io.Writer) {
	printed := 0
	md := &render.MarkdownRenderer{}
	stopPrinting = bus.Subscribe(func(list []notify.Notification) {
		if len(list) > printed {
			_ = md.Notifications(w, list[printed:])
		}
		printed = len(list)
	})
}

func renderer() render.Renderer {
	r, err := render.New(outputFormat)
	if err != nil {
		// Validated in PersistentPreRunE.
		panic(err)
	}
	return r
}

// newClient builds an API client honouring the configured timeout and rate limit.
func newClient(creds auth.Credentials) *kinto.Client {
	return kinto.NewClient(creds,
		kinto.WithLogger(logger),
		kinto.WithRateLimit(cfg.RequestsPerSecond()),
		kinto.WithTimeout(cfg.TimeoutDuration()),
	)
}

var errNotLoggedIn = errors.New("not logged in: run \"kintoadm login\" first")

// requireSession resumes the persisted session and returns it with a client
// for its credentials.
func requireSession(ctx context.Context) (session.Session, *kinto.Client, error) {
	ok, err := manager.Resume(ctx)
	if !ok && err == nil {
		return session.Session{}, nil, errNotLoggedIn
	}
	if err != nil {
		return session.Session{}, nil, err
	}
	sess := manager.Snapshot()
	if sess.Auth == nil {
		return session.Session{}, nil, errNotLoggedIn
	}
	return sess, newClient(sess.Auth), nil
}
