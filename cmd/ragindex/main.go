// Package main is the ragindex CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/ragindex/internal/cli"
	"github.com/hyperjump/ragindex/internal/config"
	"github.com/hyperjump/ragindex/internal/models"
	"github.com/hyperjump/ragindex/internal/server"
	"github.com/hyperjump/ragindex/internal/snapshot"
	"github.com/hyperjump/ragindex/internal/storage"
	"github.com/hyperjump/ragindex/internal/watcher"
	"github.com/hyperjump/ragindex/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/ragindex/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present, and a missing default file yields
// the built-in defaults. Returns the config and the path that was loaded
// (empty when running on defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg, err := config.Default()
			return cfg, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runQuery("search")
	case "ask":
		runQuery("ask")
	case "ingest", "index":
		runIngest()
	case "delete":
		runDelete()
	case "rebuild":
		runRebuild()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("ragindex version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds a logger, exiting on failure.
func setup(configPath string, debug bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *debug),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if components.Index.EnsureIndex(ctx) {
		logger.Info("vector index ready", zap.Int("vectors", components.Index.Stats().VectorCount))
	}
	if n, err := components.Indexer.PruneMissingFiles(ctx); err != nil {
		logger.Warn("prune missing files failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("pruned documents of deleted files", zap.Int("count", n))
	}

	dirWatcher := watcher.NewDirWatcher(components.Indexer, cfg.Watch.Directories, cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(), watcher.WithLogger(logger))
	if err := dirWatcher.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer dirWatcher.Stop()
	go dirWatcher.SyncExistingFiles()

	if cfg.Index.WatchSnapshots {
		snapWatcher := watcher.NewSnapshotWatcher(cfg.Storage.IndexDir, snapshot.VersionFile, components.Index,
			watcher.WithLogger(logger))
		if err := snapWatcher.Start(ctx); err != nil {
			logger.Warn("snapshot watcher disabled", zap.Error(err))
		} else {
			defer snapWatcher.Stop()
		}
	}

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Storage,
		components.Index,
		components.Worker,
		cfg,
		logger,
		server.WithWatch(dirWatcher, resolvedConfigPath),
	)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// printQueryUsage prints search/ask usage.
func printQueryUsage(fs *flag.FlagSet, command string) {
	fmt.Fprintf(fs.Output(), "Usage: ragindex %s [flags] <query>\n\n", command)
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  ragindex %[1]s machine learning
  ragindex %[1]s "machine learning"          # same as above
  ragindex %[1]s --top-k 10 neural networks
  ragindex %[1]s --server "" your query       # query the local store directly
`, command)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// runQuery handles "search" and "ask".
func runQuery(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = query the local store directly)")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printQueryUsage(fs, command) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printQueryUsage(fs, command)
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	query := &models.SearchQuery{Query: queryStr, TopK: *topK}

	if *serverURL != "" {
		client := newAPIClient(*serverURL)
		if command == "ask" {
			var resp models.AskResponse
			exitOnErr("Ask failed", client.post("/api/v1/ask", query, &resp))
			exitOnErr("Output failed", cli.WriteAnswer(os.Stdout, &resp, format))
			return
		}
		var resp models.SearchResponse
		exitOnErr("Search failed", client.post("/api/v1/search", query, &resp))
		exitOnErr("Output failed", cli.WriteSearchResults(os.Stdout, &resp, format))
		return
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	if command == "ask" {
		resp, err := components.Engine.Ask(ctx, query)
		exitOnErr("Ask failed", err)
		exitOnErr("Output failed", cli.WriteAnswer(os.Stdout, resp, format))
		return
	}
	resp, err := components.Engine.Retrieve(ctx, query)
	exitOnErr("Search failed", err)
	exitOnErr("Output failed", cli.WriteSearchResults(os.Stdout, resp, format))
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = read the local store directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseFormat(*outputFormat)
	exitOnErr("Invalid output", err)

	var status cli.Status
	if *serverURL != "" {
		exitOnErr("Status failed", newAPIClient(*serverURL).get("/api/v1/status", &status))
		exitOnErr("Output failed", cli.WriteStatus(os.Stdout, &status, format))
		return
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, false)
	exitOnErr("Failed to initialize", err)
	defer components.Close()

	status.Documents, err = components.Storage.CountDocuments(ctx)
	exitOnErr("Count documents failed", err)
	status.Chunks, err = components.Storage.CountChunks(ctx)
	exitOnErr("Count chunks failed", err)
	status.EmbeddedChunks, err = components.Storage.CountEmbeddedChunks(ctx)
	exitOnErr("Count embedded chunks failed", err)
	components.Index.EnsureIndex(ctx)
	status.Index = components.Index.Stats()
	if diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.IndexDir); err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	status.Config = map[string]interface{}{
		"embedding_provider":   cfg.Embedding.Provider,
		"embedding_dimensions": cfg.Embedding.Dimensions,
		"index_backend":        cfg.Index.Backend,
		"database_path":        cfg.Storage.DatabasePath,
		"index_dir":            cfg.Storage.IndexDir,
	}
	exitOnErr("Output failed", cli.WriteStatus(os.Stdout, &status, format))
}

// runIngest indexes files and directories into the local store, then
// rebuilds the vector index once.
func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	prune := fs.Bool("prune", false, "delete documents whose source file no longer exists")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 && !*prune {
		fmt.Println("Usage: ragindex ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}
	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	total := 0
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		exitOnErr("Failed to stat path", err)
		if info.IsDir() {
			n, err := components.Indexer.IndexDirectory(ctx, path, cfg.Watch.Extensions)
			exitOnErr("Indexing directory failed", err)
			fmt.Printf("Indexed %d file(s) from %s\n", n, path)
			total += n
			continue
		}
		// Single file: no extension filter
		exitOnErr("Indexing failed", components.Indexer.IndexFile(ctx, path, nil))
		fmt.Printf("Indexed %s\n", path)
		total++
	}
	if *prune {
		n, err := components.Indexer.PruneMissingFiles(ctx)
		exitOnErr("Prune failed", err)
		fmt.Printf("Pruned %d document(s)\n", n)
		total += n
	}
	if total > 0 && !components.Index.Rebuild(ctx) {
		fmt.Fprintln(os.Stderr, "Index rebuild failed; the next query will retry")
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: ragindex delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	exitOnErr("Deletion failed", components.Indexer.DeleteDocument(ctx, docID))
	components.Index.Rebuild(ctx)
	fmt.Printf("Document deleted: %s\n", docID)
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = rebuild the local index directly)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		var out struct {
			Pending int `json:"pending_tasks"`
		}
		exitOnErr("Rebuild failed", newAPIClient(*serverURL).post("/api/v1/index/rebuild", nil, &out))
		fmt.Printf("Rebuild queued (%d pending task(s))\n", out.Pending)
		return
	}

	cfg, _, logger := setup(*configPath, false)
	defer logger.Sync()
	ctx := context.Background()
	components, err := initializeComponents(ctx, cfg, logger, false)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()
	if !components.Index.Rebuild(ctx) {
		fmt.Fprintln(os.Stderr, "Rebuild failed")
		os.Exit(1)
	}
	st := components.Index.Stats()
	fmt.Printf("Index rebuilt: %d vector(s), version %.6f\n", st.VectorCount, st.Version)
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: ragindex watch <add|remove|list> [path]")
		fmt.Println("  ragindex watch add <path>     Add directory to watch")
		fmt.Println("  ragindex watch remove <path>  Remove directory from watch")
		fmt.Println("  ragindex watch list           List watched directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	_ = fs.Parse(os.Args[3:])
	client := newAPIClient(*serverURL)
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fmt.Println("Usage: ragindex watch add <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		exitOnErr("Add failed", client.post("/api/v1/watch/directories",
			map[string]interface{}{"path": path, "sync": true}, nil))
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fmt.Println("Usage: ragindex watch remove <path>")
			os.Exit(1)
		}
		path, _ := filepath.Abs(fs.Arg(0))
		exitOnErr("Remove failed", client.deleteWatch(path))
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		exitOnErr("List failed", client.get("/api/v1/watch/directories", &out))
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fmt.Printf("Unknown watch subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func exitOnErr(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ragindex - local retrieval-augmented generation index

Usage:
  ragindex server [flags]                 Start the HTTP server
  ragindex search [flags] <query>         Retrieve relevant chunks
  ragindex ask [flags] <question>         Answer a question from retrieved chunks
  ragindex ingest [flags] <path>...       Index files or directories
  ragindex delete [flags] <id>            Delete a document
  ragindex rebuild [flags]                Rebuild the vector index
  ragindex status [flags]                 Show store and index status
  ragindex watch <add|remove|list>        Manage watched directories
  ragindex version                        Show version
  ragindex help                           Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/ragindex/config.yaml)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to work on the local store.
  --output string    Output format: text, compact, or json (search, ask, status)
  --top-k int        Number of chunks to retrieve (search, ask)

Server Flags:
  --debug            Enable debug logging

Ingest Flags:
  --prune            Delete documents whose source file no longer exists

Environment:
  OPENAI_API_KEY, OPENAI_BASE_URL, EMBEDDING_PROVIDER, EMBEDDING_MODEL, LLM_MODEL,
  EMBEDDING_DIM, SEARCH_TOP_K, CHUNK_SIZE, CHUNK_OVERLAP, FAISS_NLIST, FAISS_NPROBE,
  FAISS_MIN_TRAIN, INDEX_BACKEND. A .env file in the working directory is loaded first.

Examples:
  ragindex server
  ragindex ingest ~/notes
  ragindex search "machine learning algorithms"
  ragindex ask --output json "what is a vector index?"
  ragindex status
  ragindex watch add /path/to/docs`)
}
