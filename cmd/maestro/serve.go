package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"

	"github.com/murtaza-nasir/maestro-sub003/pkg/agents"
	"github.com/murtaza-nasir/maestro-sub003/pkg/controller"
	"github.com/murtaza-nasir/maestro-sub003/pkg/events"
	"github.com/murtaza-nasir/maestro-sub003/pkg/research"
	"github.com/murtaza-nasir/maestro-sub003/pkg/server"
	"github.com/murtaza-nasir/maestro-sub003/pkg/session"
	"github.com/murtaza-nasir/maestro-sub003/pkg/taskman"
)

// ServeCmd starts the HTTP/WebSocket server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)." default:"0"`
}

// Run wires the full platform: model dispatch, both retrieval modes, the
// mission phase team, the controller, the writing assistant and the event
// bus. A retrieval mode whose backend is unreachable is disabled with a
// warning rather than refusing to start.
func (c *ServeCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Port != 0 {
		a.cfg.Server.Port = c.Port
	}

	dispatcher, err := a.newDispatcher()
	if err != nil {
		return err
	}

	var webSearch research.Searcher
	var webFetch research.Fetcher
	web, err := a.newWebStack()
	if err != nil {
		a.logger.Warn("web search disabled", "error", err)
	} else {
		webSearch, webFetch = web.searcher, web.content
	}

	var docSearch research.Searcher
	ret, err := a.newRetrieval(ctx)
	if err != nil {
		a.logger.Warn("document search disabled", "error", err)
	} else {
		defer ret.Close()
		docSearch = research.NewDocumentSearcher(ret.store, ret.embedder, ret.sparse)
	}

	bus := events.NewBus(a.logger)
	team := agents.NewTeam(a.missions, dispatcher, a.resolver, webSearch, webFetch, docSearch, bus, a.logger)
	ctl := controller.New(a.missions, taskman.NewManager(a.logger), a.resolver, bus, team.Phases(), a.logger)

	var webPipeline, docPipeline *research.Pipeline
	if webSearch != nil {
		webPipeline = research.NewPipeline(dispatcher, webSearch, webFetch, a.resolver, research.ModeWeb, a.logger)
	}
	if docSearch != nil {
		docPipeline = research.NewPipeline(dispatcher, docSearch, nil, a.resolver, research.ModeDocument, a.logger)
	}
	assistant := session.NewAssistant(a.sessions, dispatcher, webPipeline, docPipeline, bus, a.logger)

	srv := server.New(a.cfg.Server, bus, a.missions, ctl, a.sessions, assistant, a.store, a.logger)
	srv.SetTools(a.newToolRegistry(dispatcher, web, ret))

	color.Green("maestro server ready")
	fmt.Printf("   API:     http://%s:%d/api\n", a.cfg.Server.Host, a.cfg.Server.Port)
	fmt.Printf("   Health:  http://%s:%d/health\n", a.cfg.Server.Host, a.cfg.Server.Port)
	fmt.Printf("   Metrics: http://%s:%d/metrics\n", a.cfg.Server.Host, a.cfg.Server.Port)

	return srv.Run(ctx)
}
