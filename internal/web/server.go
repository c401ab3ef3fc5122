// Package web serves the memory-bridge dashboard: session links, bridge
// and outbox health, persisted memory markers, and the most recent
// retrieval's diagnostics. It mirrors the teacher's embedded-template,
// goldmark-rendered-markdown dashboard shape, generalized from a
// monitoring-session viewer to a memory-bridge operator console.
package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joestump/memctl/internal/activityhub"
	"github.com/joestump/memctl/internal/bridge"
	"github.com/joestump/memctl/internal/config"
	"github.com/joestump/memctl/internal/linkregistry"
	"github.com/joestump/memctl/internal/retrieval"
	"github.com/joestump/memctl/internal/statedb"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Server is the HTTP server for the memory-bridge dashboard.
type Server struct {
	cfg      config.Config
	hub      *activityhub.Hub
	br       *bridge.Bridge
	registry *linkregistry.Registry
	state    *statedb.DB
	pipeline *retrieval.Pipeline

	mux    *http.ServeMux
	tmpl   *template.Template
	server *http.Server
}

// New builds a dashboard Server for one (agentId, endpoint) bridge/pipeline
// pair. state and hub may be nil: memory-marker and live-activity views
// degrade to "unavailable" rather than erroring.
func New(cfg config.Config, hub *activityhub.Hub, br *bridge.Bridge, registry *linkregistry.Registry, state *statedb.DB, pipeline *retrieval.Pipeline) *Server {
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		br:       br,
		registry: registry,
		state:    state,
		pipeline: pipeline,
		mux:      http.NewServeMux(),
	}

	s.parseTemplates()
	s.registerRoutes()

	port := cfg.DashboardPort
	if port == 0 {
		port = 8989
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE needs no write timeout
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving HTTP requests. It blocks until the server is shut down.
func (s *Server) Start() error {
	log.Printf("memctl dashboard listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) parseTemplates() {
	funcMap := template.FuncMap{
		"fmtTime": func(t time.Time) string {
			if t.IsZero() {
				return "--"
			}
			return t.Format("2006-01-02 15:04:05 UTC")
		},
		"fmtMs": func(ms int64) string {
			if ms == 0 {
				return "--"
			}
			d := time.Duration(ms) * time.Millisecond
			if d < time.Second {
				return fmt.Sprintf("%dms", ms)
			}
			return d.Truncate(time.Second).String()
		},
		"fmtPct": func(v float64) string {
			return fmt.Sprintf("%.0f%%", v*100)
		},
		"confidenceClass": func(v float64) string {
			switch {
			case v >= 0.7:
				return "status-healthy"
			case v >= 0.4:
				return "status-degraded"
			default:
				return "status-down"
			}
		},
		"renderMarkdown": func(md string) template.HTML {
			gm := goldmark.New(goldmark.WithExtensions(extension.GFM))
			var buf bytes.Buffer
			if err := gm.Convert([]byte(md), &buf); err != nil {
				return template.HTML(template.HTMLEscapeString(md))
			}
			return template.HTML(buf.String())
		},
	}

	s.tmpl = template.Must(
		template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html"),
	)
}

func (s *Server) registerRoutes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /sessions", s.handleSessions)
	s.mux.HandleFunc("GET /memories", s.handleMemories)
	s.mux.HandleFunc("GET /diagnostics", s.handleDiagnostics)
	s.mux.HandleFunc("GET /events", s.handleEventsStream)

	s.mux.HandleFunc("GET /api/v1/status", s.handleAPIStatus)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleAPISessions)
	s.mux.HandleFunc("GET /api/v1/memories", s.handleAPIMemories)
}

// render executes a content template wrapped in the shared layout.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		log.Printf("template %s: %v", name, err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}

	layoutData := struct {
		Page    string
		Content template.HTML
	}{
		Page:    name,
		Content: template.HTML(buf.String()),
	}
	if err := s.tmpl.ExecuteTemplate(w, "layout.html", layoutData); err != nil {
		log.Printf("layout+%s: %v", name, err)
		http.Error(w, "template error", http.StatusInternalServerError)
	}
}
