package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractReadableTextStripsChrome(t *testing.T) {
	page := `<html><head><style>.x{color:red}</style><script>alert(1)</script></head>
<body>
<nav>Home | About</nav>
<article><h1>Heading</h1><p>First paragraph.</p><p>Second paragraph.</p></article>
<footer>Copyright</footer>
</body></html>`

	text := ExtractReadableText(page)
	assert.Contains(t, text, "Heading")
	assert.Contains(t, text, "First paragraph.")
	assert.Contains(t, text, "Second paragraph.")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
	assert.NotContains(t, text, "Home | About")
	assert.NotContains(t, text, "Copyright")
}

func TestFetcherCachesByURLHash(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("<html><body><p>cached page body</p></body></html>"))
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	fetcher := NewFetcher(cacheDir, 7)

	first, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Contains(t, first, "cached page body")

	second, err := fetcher.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, hits)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, ".txt", filepath.Ext(entries[0].Name()))
}

func TestFetcherErrorOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	fetcher := NewFetcher("", 7)
	_, err := fetcher.Fetch(context.Background(), server.URL)
	assert.Error(t, err)
}

func TestDetectArxivID(t *testing.T) {
	cases := map[string]string{
		"https://arxiv.org/abs/2301.12345":    "2301.12345",
		"https://arxiv.org/pdf/2301.12345v2":  "2301.12345",
		"http://arxiv.org/abs/math.GT/0309136": "math.GT/0309136",
		"2301.12345":                          "2301.12345",
	}
	for input, want := range cases {
		got, ok := DetectArxivID(input)
		assert.True(t, ok, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}

	_, ok := DetectArxivID("https://example.com/papers/2023")
	assert.False(t, ok)
}

func TestCleanLaTeX(t *testing.T) {
	source := `% a comment
\documentclass{article}
\begin{document}
\section{Introduction}
This is \textbf{bold} prose with math $x^2 + y$ inline.
\end{document}`

	text := CleanLaTeX(source)
	assert.Contains(t, text, "Introduction")
	assert.Contains(t, text, "prose")
	assert.NotContains(t, text, "documentclass")
	assert.NotContains(t, text, "a comment")
	assert.NotContains(t, text, "x^2")
	assert.NotContains(t, text, "{")
}
