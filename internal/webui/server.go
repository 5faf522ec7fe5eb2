package webui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultListen is the default bind address. Loopback only: the page
// accepts the account password, so exposing it wider is an explicit
// decision.
const DefaultListen = "127.0.0.1:8080"

// shutdownGrace bounds how long Run waits for in-flight requests after
// cancellation.
const shutdownGrace = 5 * time.Second

// Server is the status and input HTTP server that runs beside the
// sync loop.
type Server struct {
	addr     string
	exchange *Exchange
	metrics  *Metrics
	logger   *slog.Logger
}

// NewServer assembles a server. Metrics may be nil to disable the
// /metrics endpoint.
func NewServer(addr string, exchange *Exchange, metrics *Metrics, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultListen
	}

	return &Server{addr: addr, exchange: exchange, metrics: metrics, logger: logger}
}

// Run serves until the context is cancelled, then drains and returns.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	s.logger.Info("web UI listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)

		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("webui: %w", err)
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/status", s.handleStatus)
	r.Post("/password", s.handlePassword)
	r.Post("/code", s.handleCode)
	r.Post("/resume", s.handleResume)
	r.Post("/cancel", s.handleCancel)
	r.Get("/ws", s.handleWS)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(s.exchange.Snapshot()); err != nil {
		s.logger.Warn("encoding status", slog.String("error", err.Error()))
	}
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, "password", s.exchange.SubmitPassword)
}

func (s *Server) handleCode(w http.ResponseWriter, r *http.Request) {
	s.handleSubmit(w, r, "code", s.exchange.SubmitCode)
}

// handleSubmit accepts the value as a form field or a JSON body with
// the same key, so both the built-in page and curl one-liners work.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, field string, submit func(string) error) {
	value := r.PostFormValue(field)

	if value == "" && r.Header.Get("Content-Type") == "application/json" {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			value = body[field]
		}
	}

	if value == "" {
		http.Error(w, field+" is required", http.StatusBadRequest)

		return
	}

	if err := submit(value); err != nil {
		if errors.Is(err, ErrNotWaiting) {
			http.Error(w, err.Error(), http.StatusConflict)

			return
		}

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.exchange.Wake()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("cancel requested through web UI")
	s.exchange.Cancel()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// indexTemplate is deliberately plain: one page, no assets, renders
// anywhere.
var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>icloud-go</title>
<meta http-equiv="refresh" content="10">
<style>
body { font-family: sans-serif; margin: 2em; max-width: 40em; }
table { border-collapse: collapse; }
td, th { border: 1px solid #ccc; padding: 0.3em 0.8em; text-align: left; }
form { margin: 1em 0; }
</style>
</head>
<body>
<h1>icloud-go</h1>

{{if eq .State "need_password"}}
<p><strong>Password required for {{.Username}}.</strong></p>
<form method="post" action="/password">
  <input type="password" name="password" autofocus>
  <button type="submit">Sign in</button>
</form>
{{else if eq .State "need_mfa"}}
<p><strong>Two-factor code required for {{.Username}}.</strong></p>
<form method="post" action="/code">
  <input type="text" name="code" inputmode="numeric" autofocus>
  <button type="submit">Verify</button>
</form>
{{else}}
<p>State: {{.State}}</p>
{{end}}

<table>
<tr><th>Account</th><th>Stage</th><th>Downloaded</th><th>Existed</th><th>Errors</th></tr>
{{range .Accounts}}
<tr><td>{{.Username}}</td><td>{{.Stage}}</td><td>{{.Downloaded}}</td><td>{{.Existed}}</td><td>{{.Errors}}</td></tr>
{{end}}
</table>

<form method="post" action="/resume"><button type="submit">Next pass now</button></form>
<form method="post" action="/cancel"><button type="submit">Cancel run</button></form>
</body>
</html>
`))

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err := indexTemplate.Execute(w, s.exchange.Snapshot()); err != nil {
		s.logger.Warn("rendering status page", slog.String("error", err.Error()))
	}
}
