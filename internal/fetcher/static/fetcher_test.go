package static

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scraperd/scraperd/internal/scraper"
)

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "scraperd-test", Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "hello")
	require.False(t, resp.Rendered)
	require.Greater(t, resp.Duration, time.Duration(0))
}

func TestFetch_RotatesUserAgents(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.UserAgent())
		mu.Unlock()
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := New(Config{
		UserAgents: []string{"agent-one", "agent-two"},
		Timeout:    5 * time.Second,
	})
	for i := 0; i < 4; i++ {
		_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
	}

	require.Equal(t, []string{"agent-one", "agent-two", "agent-one", "agent-two"}, seen)
}

func TestFetch_FollowsRedirects(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>landed</html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL + "/start"})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/final", resp.FinalURL)
}

func TestFetch_HTTPStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})

	var fe *scraper.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, scraper.FetchHTTPStatus, fe.Kind)
	require.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	require.True(t, fe.Retryable())
}

func TestFetch_NotFoundNotRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})

	var fe *scraper.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, scraper.FetchHTTPStatus, fe.Kind)
	require.False(t, fe.Retryable())
}

func TestFetch_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
		_, _ = w.Write([]byte("slow"))
	}))
	defer srv.Close()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), scraper.FetchRequest{
		URL:     srv.URL,
		Timeout: 100 * time.Millisecond,
	})

	var fe *scraper.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, scraper.FetchTimeout, fe.Kind)
	require.True(t, fe.Retryable())
}

func TestFetch_NetworkError(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: 2 * time.Second})
	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: "http://127.0.0.1:1"})

	var fe *scraper.FetchError
	require.ErrorAs(t, err, &fe)
	require.True(t, fe.Kind == scraper.FetchNetwork || fe.Kind == scraper.FetchTimeout)
}

func TestClassifyTransport(t *testing.T) {
	t.Parallel()

	fe := classifyTransport("u", context.DeadlineExceeded)
	require.Equal(t, scraper.FetchTimeout, fe.Kind)

	fe = classifyTransport("u", errors.New("connection refused"))
	require.Equal(t, scraper.FetchNetwork, fe.Kind)
}
