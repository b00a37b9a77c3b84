package tools

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
)

const arxivCacheAge = 7 * 24 * time.Hour

// arXiv id forms: modern 2301.12345(v2), legacy math.GT/0309136(v1).
var (
	arxivModernID = regexp.MustCompile(`(\d{4}\.\d{4,5})(v\d+)?`)
	arxivLegacyID = regexp.MustCompile(`([a-z\-]+(?:\.[A-Z]{2})?/\d{7})(v\d+)?`)
)

// Emitter receives progress events from tools. Implementations route them
// to the event bus; a nil emitter drops them.
type Emitter interface {
	Emit(kind string, fields map[string]any)
}

// ArxivFetcher resolves arXiv papers to cleaned text. It tries the ar5iv
// HTML rendering first, then the LaTeX source, then the PDF.
type ArxivFetcher struct {
	client   *http.Client
	cacheDir string
	emitter  Emitter
}

// ArxivResult is the fetched paper.
type ArxivResult struct {
	Text     string         `json:"text"`
	Title    string         `json:"title"`
	Metadata map[string]any `json:"metadata"`
}

// NewArxivFetcher creates a fetcher; cacheDir may be empty to disable the
// seven-day cache, emitter may be nil.
func NewArxivFetcher(cacheDir string, emitter Emitter) *ArxivFetcher {
	return &ArxivFetcher{
		client:   &http.Client{Timeout: 60 * time.Second},
		cacheDir: cacheDir,
		emitter:  emitter,
	}
}

// DetectArxivID extracts an arXiv id from a URL or bare string, or returns
// false when none is present.
func DetectArxivID(s string) (string, bool) {
	if strings.Contains(s, "arxiv.org") || !strings.Contains(s, "/") {
		if m := arxivModernID.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	if strings.Contains(s, "arxiv.org") {
		if m := arxivLegacyID.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// Fetch retrieves a paper by arXiv id.
func (f *ArxivFetcher) Fetch(ctx context.Context, arxivID string) (*ArxivResult, error) {
	f.emit(events.KindArxivFetchStart, map[string]any{"arxiv_id": arxivID})

	if cached, ok := f.readCache(arxivID); ok {
		f.emit(events.KindArxivFetchComplete, map[string]any{
			"arxiv_id": arxivID, "fetch_method": "cache",
		})
		return cached, nil
	}

	title, _ := f.fetchTitle(ctx, arxivID)

	type attempt struct {
		method string
		run    func(context.Context, string) (string, error)
	}
	attempts := []attempt{
		{"ar5iv_html", f.fetchHTML},
		{"latex_source", f.fetchLaTeX},
		{"pdf", f.fetchPDF},
	}

	var lastErr error
	for _, a := range attempts {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text, err := a.run(ctx, arxivID)
		if err != nil {
			lastErr = err
			continue
		}
		result := &ArxivResult{
			Text:  text,
			Title: title,
			Metadata: map[string]any{
				"arxiv_id":     arxivID,
				"fetch_method": a.method,
			},
		}
		f.writeCache(arxivID, result)
		f.emit(events.KindArxivFetchComplete, map[string]any{
			"arxiv_id": arxivID, "fetch_method": a.method,
		})
		return result, nil
	}
	return nil, fmt.Errorf("all fetch methods failed for arXiv %s: %w", arxivID, lastErr)
}

func (f *ArxivFetcher) emit(kind string, fields map[string]any) {
	if f.emitter != nil {
		f.emitter.Emit(kind, fields)
	}
}

func (f *ArxivFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "maestro-research/1.0")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

func (f *ArxivFetcher) fetchTitle(ctx context.Context, arxivID string) (string, error) {
	data, err := f.get(ctx, "https://export.arxiv.org/api/query?id_list="+arxivID)
	if err != nil {
		return "", err
	}
	var feed struct {
		Entries []struct {
			Title string `xml:"title"`
		} `xml:"entry"`
	}
	if err := xml.Unmarshal(data, &feed); err != nil || len(feed.Entries) == 0 {
		return "", fmt.Errorf("no metadata for %s", arxivID)
	}
	return strings.Join(strings.Fields(feed.Entries[0].Title), " "), nil
}

func (f *ArxivFetcher) fetchHTML(ctx context.Context, arxivID string) (string, error) {
	data, err := f.get(ctx, "https://ar5iv.labs.arxiv.org/html/"+arxivID)
	if err != nil {
		return "", err
	}
	text := ExtractReadableText(string(data))
	if len(text) < 500 {
		return "", fmt.Errorf("ar5iv rendering too short for %s", arxivID)
	}
	return text, nil
}

func (f *ArxivFetcher) fetchLaTeX(ctx context.Context, arxivID string) (string, error) {
	data, err := f.get(ctx, "https://arxiv.org/e-print/"+arxivID)
	if err != nil {
		return "", err
	}
	text, err := extractLaTeXText(data)
	if err != nil {
		return "", err
	}
	if len(text) < 500 {
		return "", fmt.Errorf("latex source too short for %s", arxivID)
	}
	return text, nil
}

func (f *ArxivFetcher) fetchPDF(ctx context.Context, arxivID string) (string, error) {
	data, err := f.get(ctx, "https://arxiv.org/pdf/"+arxivID)
	if err != nil {
		return "", err
	}
	return ExtractPDFText(data)
}

// ExtractPDFText pulls plain text from PDF bytes.
func ExtractPDFText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	var b strings.Builder
	for page := 1; page <= reader.NumPage(); page++ {
		p := reader.Page(page)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("no text extracted from PDF")
	}
	return out, nil
}

// extractLaTeXText unpacks a gzipped (possibly tarred) source archive and
// strips LaTeX markup from the .tex files.
func extractLaTeXText(data []byte) (string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("source is not gzipped: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(io.LimitReader(gz, 32<<20))
	if err != nil {
		return "", fmt.Errorf("failed to decompress source: %w", err)
	}

	var texFiles []string
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Not a tar archive; treat the payload as a single .tex file.
			texFiles = []string{string(raw)}
			break
		}
		if strings.HasSuffix(hdr.Name, ".tex") {
			content, err := io.ReadAll(io.LimitReader(tr, 8<<20))
			if err == nil {
				texFiles = append(texFiles, string(content))
			}
		}
	}
	if len(texFiles) == 0 {
		texFiles = []string{string(raw)}
	}
	return CleanLaTeX(strings.Join(texFiles, "\n\n")), nil
}

var (
	latexComments = regexp.MustCompile(`(?m)(^|[^\\])%.*$`)
	latexEnvs     = regexp.MustCompile(`\\(begin|end)\{[^}]*\}`)
	latexCommands = regexp.MustCompile(`\\[a-zA-Z]+\*?(\[[^\]]*\])?`)
	latexBraces   = regexp.MustCompile(`[{}]`)
	latexMath     = regexp.MustCompile(`\$\$?[^$]*\$\$?`)
)

// CleanLaTeX strips comments, commands, environments, and inline math from
// LaTeX source, leaving the prose.
func CleanLaTeX(source string) string {
	out := latexComments.ReplaceAllString(source, "$1")
	out = latexMath.ReplaceAllString(out, " ")
	out = latexEnvs.ReplaceAllString(out, " ")
	out = latexCommands.ReplaceAllString(out, " ")
	out = latexBraces.ReplaceAllString(out, "")

	lines := strings.Split(out, "\n")
	var kept []string
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func (f *ArxivFetcher) cachePath(arxivID string) string {
	safe := strings.ReplaceAll(arxivID, "/", "_")
	return filepath.Join(f.cacheDir, "arxiv_"+safe+".json")
}

func (f *ArxivFetcher) readCache(arxivID string) (*ArxivResult, bool) {
	if f.cacheDir == "" {
		return nil, false
	}
	path := f.cachePath(arxivID)
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) > arxivCacheAge {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var result ArxivResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (f *ArxivFetcher) writeCache(arxivID string, result *ArxivResult) {
	if f.cacheDir == "" {
		return
	}
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = os.WriteFile(f.cachePath(arxivID), data, 0o644)
}

// ArxivTool exposes the arXiv fetcher through the tool registry.
type ArxivTool struct {
	fetcher *ArxivFetcher
}

type arxivArgs struct {
	URL string `json:"url" jsonschema:"description=arXiv URL or bare paper id"`
}

// NewArxivTool wraps an arXiv fetcher.
func NewArxivTool(fetcher *ArxivFetcher) *ArxivTool {
	return &ArxivTool{fetcher: fetcher}
}

func (t *ArxivTool) GetName() string { return "arxiv_fetcher" }

func (t *ArxivTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.GetName(),
		Description: "Fetch the full text of an arXiv paper by URL or id.",
		Parameters:  schemaFor(&arxivArgs{}),
	}
}

// Execute detects the id and fetches the paper.
func (t *ArxivTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	started := time.Now()

	var params arxivArgs
	if err := decodeArgs(args, &params); err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}

	id, ok := DetectArxivID(params.URL)
	if !ok {
		return errorResult(t.GetName(), fmt.Sprintf("no arXiv id found in %q", params.URL), started), nil
	}

	result, err := t.fetcher.Fetch(ctx, id)
	if err != nil {
		return errorResult(t.GetName(), err.Error(), started), nil
	}
	return successResult(t.GetName(), result.Text, result, started), nil
}
