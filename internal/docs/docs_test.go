package docs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDocs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"index.md":          "# Acme workbench\n\nWelcome.\n",
		"guides/setup.md":   "---\ntitle: Local setup\nowner: platform\n---\n\n## Steps\n\n| a | b |\n|---|---|\n| 1 | 2 |\n",
		"architecture.md":   "No heading here.\n",
		".drafts/secret.md": "# Hidden\n",
		"notes.txt":         "not markdown",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestList(t *testing.T) {
	pages, err := List(writeDocs(t))
	require.NoError(t, err)

	var slugs, titles []string
	for _, p := range pages {
		slugs = append(slugs, p.Slug)
		titles = append(titles, p.Title)
	}
	assert.Equal(t, []string{"index", "architecture", "guides/setup"}, slugs)
	assert.Equal(t, []string{"Acme workbench", "architecture", "Local setup"}, titles)
	assert.Equal(t, "platform", pages[2].Meta["owner"])
}

func TestLoad_RejectsTraversal(t *testing.T) {
	dir := writeDocs(t)
	_, err := Load(dir, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestLoad_AcceptsMarkdownLinks(t *testing.T) {
	p, err := Load(writeDocs(t), "guides/setup.md")
	require.NoError(t, err)
	assert.Equal(t, "guides/setup", p.Slug)
	assert.Equal(t, "Local setup", p.Title)
}

func TestRender(t *testing.T) {
	html := Render([]byte("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"))
	assert.Contains(t, html, "<h1>Title</h1>")
	assert.Contains(t, html, "<table>")
}

func TestServer_Routes(t *testing.T) {
	srv := httptest.NewServer(NewServer(writeDocs(t), "acme").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/p/guides/setup")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "<h2>Steps</h2>")
	assert.Contains(t, string(body), "Local setup")
	assert.NotContains(t, string(body), "owner: platform")

	resp, err = http.Get(srv.URL + "/p/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/pages")
	require.NoError(t, err)
	var listing struct {
		Pages []Page `json:"pages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	resp.Body.Close()
	assert.Len(t, listing.Pages, 3)

	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "root redirects to the index page")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	s := NewServer(writeDocs(t), "acme")
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0", func(a string) { addrCh <- a }) }()

	addr := <-addrCh
	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
