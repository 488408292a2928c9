package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/YuminosukeSato/newsclf/internal/config"
	"github.com/YuminosukeSato/newsclf/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFetcher() *Fetcher {
	cfg := config.Default().Scraper
	cfg.RateLimit = 1000
	cfg.Timeout = 5 * time.Second
	return New(cfg)
}

func TestFetch(t *testing.T) {
	pages := map[string]string{
		"/og": `<html><head><meta property="og:title" content=" Senate  passes budget "><title>Site</title></head>
<body><nav><p>Menu</p></nav><article><p>First   paragraph.</p><p></p><p>Second paragraph.</p></article></body></html>`,
		"/main":  `<html><head><title>Title tag</title></head><body><main><p>Main text.</p></main><p>Footer</p></body></html>`,
		"/body":  `<html><body><h1>Heading</h1><div><p>Loose text.</p></div></body></html>`,
		"/empty": `<html><head><title>Nothing</title></head><body><div>no paragraphs</div></body></html>`,
	}
	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.Header.Get("User-Agent"))
		page, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := testFetcher()
	tests := []struct {
		path      string
		wantTitle string
		wantText  string
	}{
		{"/og", "Senate passes budget", "First paragraph.\nSecond paragraph."},
		{"/main", "Title tag", "Main text."},
		{"/body", "Heading", "Loose text."},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			a, err := f.Fetch(context.Background(), srv.URL+tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, a.Title)
			assert.Equal(t, tt.wantText, a.Text)
			assert.Equal(t, srv.URL+tt.path, a.URL)
		})
	}
	assert.Contains(t, gotUA.Load(), "newsclf")

	_, err := f.Fetch(context.Background(), srv.URL+"/empty")
	assert.True(t, errors.Is(err, ErrNoContent))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "404")
}

func TestFetchInvalidURL(t *testing.T) {
	f := testFetcher()
	for _, u := range []string{"", "ftp://example.com/a", "/relative", "http://"} {
		_, err := f.Fetch(context.Background(), u)
		var verr *errors.ValidationError
		assert.True(t, errors.As(err, &verr), u)
	}
}

func TestFetchCancelled(t *testing.T) {
	cfg := config.Default().Scraper
	cfg.RateLimit = 0.001
	f := New(cfg)
	// drain the single burst token
	require.NoError(t, f.limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, "http://example.invalid/")
	assert.Error(t, err)
}
