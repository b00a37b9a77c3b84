package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/murtaza-nasir/maestro-sub003/pkg/agents"
	"github.com/murtaza-nasir/maestro-sub003/pkg/controller"
	"github.com/murtaza-nasir/maestro-sub003/pkg/mission"
	"github.com/murtaza-nasir/maestro-sub003/pkg/report"
	"github.com/murtaza-nasir/maestro-sub003/pkg/research"
	"github.com/murtaza-nasir/maestro-sub003/pkg/taskman"
)

// RunResearchCmd runs one mission end to end and exports the report.
type RunResearchCmd struct {
	Question  string `help:"Research question." xor:"input"`
	InputFile string `name:"input-file" help:"File whose contents are the research question." type:"path" xor:"input"`
	OutputDir string `name:"output-dir" help:"Directory for exported reports." type:"path" default:"."`
	Format    string `help:"Report format." enum:"markdown,pdf,docx,all" default:"markdown"`

	UseLocalRag  bool `name:"use-local-rag" help:"Search the local document store." default:"true" negatable:""`
	UseWebSearch bool `name:"use-web-search" help:"Search the web." default:"true" negatable:""`
}

func (c *RunResearchCmd) Run(cli *CLI) error {
	if c.Format == "pdf" {
		return fmt.Errorf("pdf export is not supported; choose markdown, docx, or all")
	}

	question := strings.TrimSpace(c.Question)
	if c.InputFile != "" {
		data, err := os.ReadFile(c.InputFile)
		if err != nil {
			return err
		}
		question = strings.TrimSpace(string(data))
	}
	if question == "" {
		return fmt.Errorf("a research question is required: pass --question or --input-file")
	}

	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}

	var webSearch research.Searcher
	var webFetch research.Fetcher
	if c.UseWebSearch {
		web, err := a.newWebStack()
		if err != nil {
			return err
		}
		webSearch, webFetch = web.searcher, web.content
	}

	var docSearch research.Searcher
	if c.UseLocalRag {
		r, err := a.newRetrieval(ctx)
		if err != nil {
			return err
		}
		defer r.Close()
		docSearch = research.NewDocumentSearcher(r.store, r.embedder, r.sparse)
	}
	if webSearch == nil && docSearch == nil {
		return fmt.Errorf("both web search and local RAG are disabled; nothing to research with")
	}

	team := agents.NewTeam(a.missions, dispatcher, a.resolver, webSearch, webFetch, docSearch, nil, a.logger)
	ctl := controller.New(a.missions, taskman.NewManager(a.logger), a.resolver, nil, team.Phases(), a.logger)

	m := a.missions.CreateMission("cli", question)
	color.Cyan("mission %s started", m.ID)

	if err := ctl.Start(ctx, m.ID); err != nil {
		color.Red("mission %s failed: %v", m.ID, err)
		return fmt.Errorf("mission failed")
	}

	snap, err := a.missions.Get(m.ID)
	if err != nil {
		return err
	}
	if snap.Status != mission.StatusCompleted {
		color.Red("mission %s ended with status %s", m.ID, snap.Status)
		return fmt.Errorf("mission did not complete")
	}

	if err := exportReport(c.OutputDir, c.Format, snap); err != nil {
		return err
	}
	printStats(snap)
	return nil
}

func exportReport(outputDir, format string, snap *mission.Mission) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	base := filepath.Join(outputDir, "report_"+snap.ID)

	if format == report.FormatMarkdown || format == report.FormatAll {
		path := base + ".md"
		if err := report.ExportMarkdown(path, snap.FinalReport); err != nil {
			return err
		}
		color.Green("✓ %s", path)
	}
	if format == report.FormatDocx || format == report.FormatAll {
		path := base + ".docx"
		if err := report.ExportDocx(path, snap.FinalReport); err != nil {
			return err
		}
		color.Green("✓ %s", path)
	}
	return nil
}

func printStats(snap *mission.Mission) {
	fmt.Printf("cost: $%.4f  tokens: %d prompt / %d completion  searches: %d web / %d document\n",
		snap.Stats.TotalCost, snap.Stats.PromptTokens, snap.Stats.CompletionTokens,
		snap.Stats.WebSearches, snap.Stats.DocumentSearches)
}
