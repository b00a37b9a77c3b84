package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/murtaza-nasir/maestro-sub003/pkg/ingest"
	"github.com/murtaza-nasir/maestro-sub003/pkg/research"
)

// IngestCmd ingests documents into the vector store.
type IngestCmd struct {
	Paths        []string      `arg:"" help:"Files or directories to ingest." type:"path"`
	Watch        bool          `help:"Keep watching the given directories for new or changed files."`
	Settle       time.Duration `help:"Quiet period before a watched file is ingested." default:"2s"`
	ChunkSize    int           `name:"chunk-size" help:"Chunk size in tokens." default:"512"`
	ChunkOverlap int           `name:"chunk-overlap" help:"Chunk overlap in tokens." default:"64"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := a.newRetrieval(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	ingestor := a.newIngestor(r, c.ChunkSize, c.ChunkOverlap)

	files, dirs, err := collectPaths(c.Paths)
	if err != nil {
		return err
	}

	failed := 0
	for _, path := range files {
		if err := ingestOne(ctx, ingestor, path); err != nil {
			color.Red("✗ %s: %v", path, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to ingest", failed, len(files))
	}

	if c.Watch {
		if len(dirs) == 0 {
			return fmt.Errorf("--watch requires at least one directory argument")
		}
		for _, dir := range dirs {
			dir := dir
			go func() {
				if err := ingestor.Watch(ctx, dir, c.Settle); err != nil && ctx.Err() == nil {
					a.logger.Error("watch failed", "dir", dir, "error", err)
				}
			}()
			color.Cyan("watching %s", dir)
		}
		<-ctx.Done()
	}
	return nil
}

func ingestOne(ctx context.Context, ingestor *ingest.Ingestor, path string) error {
	doc, err := ingestor.IngestFile(ctx, path)
	if err != nil {
		return err
	}
	color.Green("✓ %s (%s, %d chunks)", path, doc.DocID, doc.ChunkCount)
	return nil
}

// collectPaths expands directory arguments into their supported files and
// returns the directories separately for watch mode.
func collectPaths(paths []string) (files, dirs []string, err error) {
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		dirs = append(dirs, path)
		walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && ingest.SupportedExtension(p) {
				files = append(files, p)
			}
			return nil
		})
		if walkErr != nil {
			return nil, nil, walkErr
		}
	}
	return files, dirs, nil
}

// QueryCmd runs one hybrid search and prints the matching chunks.
type QueryCmd struct {
	Query string `arg:"" help:"Search query."`
	Limit int    `help:"Maximum chunks to return." default:"5"`
}

func (c *QueryCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := a.newRetrieval(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	searcher := research.NewDocumentSearcher(r.store, r.embedder, r.sparse)
	candidates, err := searcher.Search(ctx, c.Query, c.Limit)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		color.Yellow("no matches")
		return nil
	}

	for i, cand := range candidates {
		color.New(color.Bold).Printf("%d. %s [%s]\n", i+1, cand.Title, cand.DocID)
		fmt.Printf("%s\n\n", cand.Snippet)
	}
	return nil
}

// InspectStoreCmd reports vector store health and size.
type InspectStoreCmd struct{}

func (c *InspectStoreCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := a.newRetrieval(ctx)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.store.CheckHealth(ctx); err != nil {
		color.Red("store unhealthy: %v", err)
		return err
	}
	count, err := r.store.Count(ctx)
	if err != nil {
		return err
	}

	color.Green("store healthy")
	fmt.Printf("type:   %s\n", a.cfg.VectorStore.Type)
	fmt.Printf("chunks: %d\n", count)
	return nil
}
