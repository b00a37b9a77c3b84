package tools

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const fetchTimeout = 45 * time.Second

// Fetcher retrieves web pages and extracts readable text. Responses are
// cached on disk by URL hash with an age bound.
type Fetcher struct {
	client   *http.Client
	cacheDir string
	maxAge   time.Duration
}

// NewFetcher creates a fetcher. cacheDir may be empty to disable caching;
// expirationDays bounds cache entry age.
func NewFetcher(cacheDir string, expirationDays int) *Fetcher {
	if expirationDays <= 0 {
		expirationDays = 7
	}
	return &Fetcher{
		client:   &http.Client{Timeout: fetchTimeout},
		cacheDir: cacheDir,
		maxAge:   time.Duration(expirationDays) * 24 * time.Hour,
	}
}

// Fetch returns the readable text of a page, consulting the cache first.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if cached, ok := f.readCache(pageURL); ok {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL %s: %w", pageURL, err)
	}
	req.Header.Set("User-Agent", "maestro-research/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch of %s returned %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", pageURL, err)
	}

	text := ExtractReadableText(string(body))
	if text == "" {
		return "", fmt.Errorf("no readable text extracted from %s", pageURL)
	}

	f.writeCache(pageURL, text)
	return text, nil
}

func (f *Fetcher) cachePath(pageURL string) string {
	sum := sha1.Sum([]byte(pageURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:])+".txt")
}

func (f *Fetcher) readCache(pageURL string) (string, bool) {
	if f.cacheDir == "" {
		return "", false
	}
	path := f.cachePath(pageURL)
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) > f.maxAge {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (f *Fetcher) writeCache(pageURL, text string) {
	if f.cacheDir == "" {
		return
	}
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(f.cachePath(pageURL), []byte(text), 0o644)
}

// skipElements are tags whose text never contributes to readable content.
var skipElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "header": true, "footer": true, "aside": true,
	"iframe": true, "svg": true, "form": true,
}

// blockElements introduce paragraph breaks in the extracted text.
var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "blockquote": true, "pre": true, "br": true,
}

// ExtractReadableText parses HTML and returns its visible text with
// paragraph structure preserved.
func ExtractReadableText(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipElements[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteString("\n\n")
		}
	}
	walk(doc)

	// Collapse runs of blank lines left by nested block elements.
	lines := strings.Split(b.String(), "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// FetcherTool exposes the fetcher through the tool registry.
type FetcherTool struct {
	fetcher *Fetcher
}

type fetcherArgs struct {
	URL string `json:"url" jsonschema:"description=Page URL to fetch"`
}

// NewFetcherTool wraps a fetcher.
func NewFetcherTool(fetcher *Fetcher) *FetcherTool {
	return &FetcherTool{fetcher: fetcher}
}

func (t *FetcherTool) GetName() string { return "web_page_fetcher" }

func (t *FetcherTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Fetch a web page and extract its readable text.",
		Parameters:  schemaFor(&fetcherArgs{}),
	}
}

// Execute fetches the page.
func (t *FetcherTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	started := time.Now()

	var params fetcherArgs
	if err := decodeArgs(args, &params); err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}
	if params.URL == "" {
		return errorResult(t.GetName(), "url is required", started), nil
	}

	text, err := t.fetcher.Fetch(ctx, params.URL)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}
	return successResult(t.GetName(), text, nil, started), nil
}
