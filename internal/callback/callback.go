// Package callback serves the loopback endpoint an OpenID login redirects
// to. The server appends the token to the callback URL; the handler turns it
// into credentials and hands them to whoever started the login.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ternarybob/arbor"

	"github.com/fakeyudi/kintoadm/internal/auth"
	"github.com/fakeyudi/kintoadm/internal/notify"
	"github.com/fakeyudi/kintoadm/internal/routes"
)

// DefaultAddr is the loopback address the callback server listens on.
const DefaultAddr = "127.0.0.1:0"

// Result is the outcome of one callback.
type Result struct {
	Credentials auth.Token
	Payload     auth.Payload
	// Redirect is the route the browser was sent to: the preserved deep link
	// when it names a known route, otherwise home.
	Redirect string
	Err      error
}

// Handler handles callback requests.
type Handler struct {
	bus     *notify.Bus
	logger  arbor.ILogger
	now     func() time.Time
	results chan Result
}

// NewHandler returns a Handler delivering at most one pending Result at a
// time; callbacks arriving while one is unread are answered but dropped.
func NewHandler(bus *notify.Bus, logger arbor.ILogger) *Handler {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Handler{
		bus:     bus,
		logger:  logger,
		now:     time.Now,
		results: make(chan Result, 1),
	}
}

// Results delivers each completed callback.
func (h *Handler) Results() <-chan Result {
	return h.results
}

// Router builds the HTTP routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/auth/{payload}/{token}", h.handleAuth)
	r.Get("/", h.handleLanding)
	r.Get("/*", h.handleLanding)
	return r
}

func (h *Handler) handleAuth(w http.ResponseWriter, r *http.Request) {
	res := h.authenticate(chi.URLParam(r, "payload"), chi.URLParam(r, "token"))
	h.deliver(res)
	http.Redirect(w, r, res.Redirect, http.StatusFound)
}

func (h *Handler) authenticate(rawPayload, rawToken string) Result {
	fail := func(err error) Result {
		h.bus.Error("Couldn't proceed with authentication.", err)
		h.logger.Warn().Err(err).Msg("Rejected authentication callback")
		return Result{Redirect: routes.URL(routes.Home, nil), Err: err}
	}

	payload, err := auth.DecodePayload(rawPayload)
	if err != nil {
		return fail(err)
	}
	tok, err := auth.DecodeToken(rawToken)
	if err != nil {
		return fail(err)
	}
	creds, err := auth.TokenCredentials(payload, tok, h.now())
	if err != nil {
		return fail(err)
	}

	redirect := routes.URL(routes.Home, nil)
	if name, params, ok := routes.Parse(payload.RedirectURL); ok && name != routes.Auth {
		redirect = routes.URL(name, params)
	}
	h.logger.Info().
		Str("server", creds.Server).
		Str("auth_type", creds.Type).
		Str("redirect", redirect).
		Msg("Authentication callback accepted")
	return Result{Credentials: creds, Payload: payload, Redirect: redirect}
}

func (h *Handler) deliver(res Result) {
	select {
	case h.results <- res:
	default:
		h.logger.Debug().Msg("Dropping callback result, previous one unread")
	}
}

func (h *Handler) handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "kintoadm: %s\nYou can close this window and return to the terminal.\n", r.URL.Path)
}

// Server is a running callback endpoint.
type Server struct {
	*Handler
	listener net.Listener
	srv      *http.Server
}

// Listen starts a callback server on addr.
func Listen(addr string, bus *notify.Bus, logger arbor.ILogger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h := NewHandler(bus, logger)
	s := &Server{
		Handler:  h,
		listener: ln,
		srv:      &http.Server{Handler: h.Router(), ReadHeaderTimeout: 10 * time.Second},
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error().Err(err).Msg("Callback server stopped")
		}
	}()
	return s, nil
}

// URL is the base URL of the server.
func (s *Server) URL() string {
	return "http://" + s.listener.Addr().String()
}

// CallbackURL is the URL handed to the login endpoint; the server appends
// the token to it.
func (s *Server) CallbackURL(payload string) string {
	return s.URL() + "/auth/" + payload + "/"
}

// Wait blocks until a callback arrives or ctx is done.
func (s *Server) Wait(ctx context.Context) (Result, error) {
	select {
	case res := <-s.results:
		return res, res.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close stops the server, letting in-flight requests finish.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
