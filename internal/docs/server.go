package docs

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gurisko/workbench/internal/logging"
)

var layout = template.Must(template.New("page").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>{{.Title}} · {{.Workbench}}</title>
<style>body{font-family:system-ui,sans-serif;max-width:60rem;margin:2rem auto;padding:0 1rem;line-height:1.5}
nav{float:right;width:14rem;margin-left:2rem;font-size:.9rem}pre{background:#f4f4f4;padding:.75rem;overflow:auto}
table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.25rem .5rem}</style></head>
<body><nav><strong>{{.Workbench}}</strong><ul>{{range .Pages}}<li><a href="/p/{{.Slug}}">{{.Title}}</a></li>{{end}}</ul></nav>
<main>{{.Content}}</main></body></html>`))

type view struct {
	Workbench string
	Title     string
	Pages     []*Page
	Content   template.HTML
}

// Server serves rendered docs over HTTP.
type Server struct {
	dir       string
	workbench string
	engine    *gin.Engine
	log       *slog.Logger
}

// NewServer builds the router for docs under dir.
func NewServer(dir, workbenchName string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{dir: dir, workbench: workbenchName, engine: gin.New(), log: logging.New("docs")}
	s.engine.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/", func(c *gin.Context) { c.Redirect(http.StatusFound, "/p/index") })
	s.engine.GET("/p/*slug", s.handlePage)
	s.engine.GET("/raw/*slug", s.handleRaw)
	s.engine.GET("/api/pages", s.handleList)
	s.engine.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handlePage(c *gin.Context) {
	slug := strings.TrimPrefix(c.Param("slug"), "/")
	page, err := Load(s.dir, slug)
	if err != nil {
		s.writeError(c, err)
		return
	}
	pages, err := List(s.dir)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var buf strings.Builder
	if err := layout.Execute(&buf, view{
		Workbench: s.workbench,
		Title:     page.Title,
		Pages:     pages,
		Content:   template.HTML(Render(page.Body)),
	}); err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(buf.String()))
}

func (s *Server) handleRaw(c *gin.Context) {
	page, err := Load(s.dir, strings.TrimPrefix(c.Param("slug"), "/"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", page.Body)
}

func (s *Server) handleList(c *gin.Context) {
	pages, err := List(s.dir)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages})
}

func (s *Server) writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrPageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.log.Error("docs request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// ready, when non-nil, receives the bound address once listening.
func (s *Server) Serve(ctx context.Context, addr string, ready func(addr string)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Serve(ln) }()
	if ready != nil {
		ready(ln.Addr().String())
	}

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown docs server: %w", err)
	}
	return nil
}
