// Command kaijutsu runs the collaboration kernel: a document/block store,
// the hook listener for external tool lifecycle events, an MCP server
// exposing block operations, and (optionally) a terminal viewer. Adapted
// from the teacher's cmd/temporal entrypoint's wiring style — one binary,
// urfave/cli subcommands selecting which surface to run.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"kaijutsu/blockstore"
	"kaijutsu/config"
	"kaijutsu/domain"
	"kaijutsu/eventbus"
	"kaijutsu/hook"
	"kaijutsu/kernel"
	"kaijutsu/logger"
	"kaijutsu/mcpadapter"
	"kaijutsu/srv/jetstream"
	"kaijutsu/srv/sqlite"
	"kaijutsu/tui"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	_ "modernc.org/sqlite"
)

func main() {
	log.Logger = logger.Get()

	cmd := &cli.Command{
		Name:  "kaijutsu",
		Usage: "collaboration core: documents, blocks, and the kernel that mediates writes to them",
		Commands: []*cli.Command{
			serveCommand(),
			viewCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("kaijutsu: fatal error")
	}
}

func openStorage() (*sql.DB, *sqlite.Storage, error) {
	dataHome, err := config.DataHome()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving data home: %w", err)
	}
	dbPath := filepath.Join(dataHome, "kaijutsu.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite database at %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		return nil, nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	storage := sqlite.NewStorage(db)
	if err := storage.MigrateUp("kaijutsu"); err != nil {
		return nil, nil, fmt.Errorf("migrating sqlite database: %w", err)
	}
	return db, storage, nil
}

// hydrateDocument loads a document and its blocks from storage into store,
// merging blocks in dependency order (root blocks before their children)
// since blockstore.Store.MergeOps rejects a batch whose parent isn't
// already known.
func hydrateDocument(ctx context.Context, storage *sqlite.Storage, store *blockstore.Store, id domain.ContextId) error {
	kind, parent, err := storage.LoadDocument(ctx, id)
	if err != nil {
		return err
	}
	doc := domain.NewDocument(id, kind, parent)
	store.RegisterDocument(doc)

	states, err := storage.LoadBlockStates(ctx, id)
	if err != nil {
		return fmt.Errorf("loading block states for %s: %w", id, err)
	}

	byId := make(map[domain.BlockId]blockstore.BlockState, len(states))
	for _, bs := range states {
		byId[bs.Id] = bs
	}

	applied := make(map[domain.BlockId]bool, len(states))
	for len(applied) < len(states) {
		progressed := false
		for _, bs := range states {
			if applied[bs.Id] {
				continue
			}
			if bs.ParentId != nil {
				if _, ok := byId[*bs.ParentId]; ok && !applied[*bs.ParentId] {
					continue
				}
			}
			if err := store.MergeOps(id, blockstore.DocBatch{Blocks: []blockstore.BlockState{bs}}); err != nil {
				return fmt.Errorf("hydrating block %s: %w", bs.Id, err)
			}
			applied[bs.Id] = true
			progressed = true
		}
		if !progressed {
			return fmt.Errorf("hydrating document %s: block graph has no valid root order", id)
		}
	}
	return nil
}

// persistOnEvent subscribes to bus and writes every touched block's
// current state back to storage, keeping the durable log current without
// requiring every caller of blockstore to remember to persist.
func persistOnEvent(ctx context.Context, bus eventbus.Streamer, store *blockstore.Store, storage *sqlite.Storage, id domain.ContextId) (func(), error) {
	events, unsub, err := bus.Subscribe(ctx, id)
	if err != nil {
		return nil, err
	}
	go func() {
		for ev := range events {
			if ev.BlockId == nil {
				continue
			}
			// A full-state batch carries each block's text oplog as well as
			// its header and order key.
			batch, err := store.OpsSince(id, 0)
			if err != nil {
				continue
			}
			for _, bs := range batch.Blocks {
				if bs.Id != *ev.BlockId {
					continue
				}
				if err := storage.PersistBlockState(context.Background(), bs); err != nil {
					log.Error().Err(err).Str("blockId", ev.BlockId.String()).Msg("kaijutsu: failed to persist block after event")
				}
			}
		}
	}()
	return unsub, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the kernel for one document: hook listener plus MCP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "context", Usage: "existing context id to resume; a new conversation is created if omitted"},
			&cli.StringFlag{Name: "principal", Usage: "principal id this process authenticates as"},
			&cli.BoolFlag{Name: "nats", Usage: "publish events through the embedded JetStream server instead of the in-process bus"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(config.ConfigPath())
			if err != nil {
				return err
			}

			db, storage, err := openStorage()
			if err != nil {
				return err
			}
			defer db.Close()

			store := blockstore.New()

			var contextId domain.ContextId
			if s := cmd.String("context"); s != "" {
				contextId = domain.ContextId(s)
				if err := hydrateDocument(ctx, storage, store, contextId); err != nil {
					return err
				}
			} else {
				doc := store.CreateDocument(domain.ContextKindConversation, "")
				contextId = doc.Id
				if err := storage.PersistDocument(ctx, doc); err != nil {
					return err
				}
			}

			principal := domain.PrincipalId(cmd.String("principal"))
			if principal == "" {
				principal = domain.NewPrincipalId()
			}

			k := kernel.New()
			k.SetConsentMode(contextId, cfg.ConsentMode())
			for _, name := range cfg.EquippedTools {
				if err := k.Tools.Equip(name); err != nil {
					log.Warn().Err(err).Str("tool", name).Msg("kaijutsu: failed to equip configured tool")
				}
			}

			var bus eventbus.Streamer = eventbus.New()
			if cmd.Bool("nats") {
				natsServer, err := jetstream.GetOrNewServer()
				if err != nil {
					return fmt.Errorf("starting embedded jetstream server: %w", err)
				}
				if err := natsServer.Start(ctx); err != nil {
					return fmt.Errorf("starting embedded jetstream server: %w", err)
				}
				defer natsServer.Stop()

				nc, err := jetstream.GetConnection(natsServer.ClientURL())
				if err != nil {
					return fmt.Errorf("connecting to embedded jetstream server: %w", err)
				}
				defer nc.Close()

				jsBus, err := jetstream.NewBus(nc)
				if err != nil {
					return fmt.Errorf("creating jetstream bus: %w", err)
				}
				bus = jsBus
			}

			unsub, err := persistOnEvent(ctx, bus, store, storage, contextId)
			if err != nil {
				return fmt.Errorf("subscribing for persistence: %w", err)
			}
			defer unsub()

			runtimeDir, err := config.RuntimeDir()
			if err != nil {
				return err
			}
			// config.RuntimeDir already ends in kaijutsu/, which SocketPath
			// appends itself, so hand it the base directory.
			socketPath := hook.SocketPath(filepath.Dir(runtimeDir), os.Getppid())
			listener := hook.New(socketPath, k.Drift, func(hookCtx context.Context, req hook.Request) error {
				log.Info().Str("contextId", string(req.ContextId)).Str("tool", req.ToolName).Str("kind", string(req.Kind)).Msg("kaijutsu: hook event")
				return nil
			}, mcpadapter.Names)

			go func() {
				if err := listener.Serve(ctx); err != nil {
					log.Error().Err(err).Msg("kaijutsu: hook listener stopped")
				}
			}()
			defer listener.Close()

			server := mcpadapter.NewDocumentServer(store, k, contextId, principal)

			log.Info().Str("contextId", string(contextId)).Str("principal", string(principal)).Str("socket", socketPath).Msg("kaijutsu: serving")

			runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return server.Run(runCtx, &mcpsdk.StdioTransport{})
		},
	}
}

func viewCommand() *cli.Command {
	return &cli.Command{
		Name:  "view",
		Usage: "render a document's block tree in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "context", Required: true, Usage: "context id to view"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, storage, err := openStorage()
			if err != nil {
				return err
			}

			store := blockstore.New()
			contextId := domain.ContextId(cmd.String("context"))
			if err := hydrateDocument(ctx, storage, store, contextId); err != nil {
				return err
			}

			bus := eventbus.New()
			model := tui.NewDocumentModel(contextId, store, bus)
			program := tea.NewProgram(model)
			_, err = program.Run()
			return err
		},
	}
}
