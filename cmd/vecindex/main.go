// Command vecindex indexes a project's source into a vector index and
// serves semantic search over it, either as a one-shot CLI or as an MCP
// tool for a calling agent.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/vecindex/engine/builtin"
	"github.com/vecindex/engine/internal/config"
	"github.com/vecindex/engine/internal/filereader"
	"github.com/vecindex/engine/internal/logging"
	"github.com/vecindex/engine/internal/mcpserver"
	"github.com/vecindex/engine/internal/refresh"
	"github.com/vecindex/engine/internal/retrieve"
	"github.com/vecindex/engine/internal/watch"
	"github.com/vecindex/engine/pkg/provider"
	"github.com/vecindex/engine/pkg/types"
)

var (
	version = "dev"

	projectDir string
	logLevel   string
	logFormat  string

	cfg *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vecindex",
	Short: "Semantic code search backed by a per-tag vector index",
	Long: `vecindex computes embeddings for source files and serves
nearest-neighbor search over them, scoped by branch, directory, and
embedding-provider tags.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, warnings, err := config.Load(projectDir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		for _, w := range warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
		if logLevel != "" {
			loaded.Logging.Level = logLevel
		}
		if logFormat != "" {
			loaded.Logging.Format = logFormat
		}
		logging.Setup(loaded.Logging)
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectDir, "project", ".", "project root directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override configured log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override configured log format (text, json)")

	rootCmd.AddCommand(refreshCmd, searchCmd, statusCmd, watchCmd, serveCmd, versionCmd)

	refreshCmd.Flags().String("branch", "main", "branch tag")
	refreshCmd.Flags().String("directory", "", "directory tag")

	searchCmd.Flags().Int("limit", 0, "maximum results (default from config)")
	searchCmd.Flags().String("branch", "main", "branch tag to search")
	searchCmd.Flags().String("directory", "", "restrict results to files under this directory prefix")

	watchCmd.Flags().String("branch", "main", "branch tag")
	watchCmd.Flags().String("directory", "", "directory tag")

	serveCmd.Flags().String("branch", "main", "branch tag to search")
	serveCmd.Flags().String("directory", "", "directory tag to search")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("vecindex", version)
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Compute embeddings for changed files and update the vector index",
	RunE: func(cmd *cobra.Command, args []string) error {
		branch, _ := cmd.Flags().GetString("branch")
		directory, _ := cmd.Flags().GetString("directory")
		return runRefresh(cmd.Context(), branch, directory)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a one-shot semantic search",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		branch, _ := cmd.Flags().GetString("branch")
		directory, _ := cmd.Flags().GetString("directory")
		return runSearch(cmd.Context(), args[0], limit, branch, directory)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the resolved configuration and index location",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the project directory and incrementally refresh on change",
	RunE: func(cmd *cobra.Command, args []string) error {
		branch, _ := cmd.Flags().GetString("branch")
		directory, _ := cmd.Flags().GetString("directory")
		return runWatch(cmd.Context(), branch, directory)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve search_code as an MCP tool over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		branch, _ := cmd.Flags().GetString("branch")
		directory, _ := cmd.Flags().GetString("directory")
		return runServe(branch, directory)
	},
}

// buildCoordinator constructs the storage, embedding, and chunking
// collaborators from the resolved config and wires them into a refresh
// coordinator.
func buildCoordinator() (*refresh.Coordinator, provider.EmbeddingProvider, error) {
	embedder, err := provider.DefaultRegistry.CreateEmbedding(cfg.Embedding.Provider, provider.EmbeddingConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Endpoint:  cfg.Embedding.Endpoint,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	chunker, err := provider.DefaultRegistry.CreateChunking(cfg.Chunking.Strategy, provider.ChunkingConfig{
		Strategy:     cfg.Chunking.Strategy,
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating chunker: %w", err)
	}

	vs, err := provider.DefaultRegistry.CreateVectorStore(cfg.VectorStore.Provider, provider.VectorStoreConfig{
		Provider: cfg.VectorStore.Provider,
		Path:     config.VectorDBPath(projectDir),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating vector store: %w", err)
	}

	cache, err := provider.DefaultRegistry.CreateCache(cfg.Cache.Provider, provider.CacheConfig{
		Provider: cfg.Cache.Provider,
		Path:     config.CacheDBPath(projectDir),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating embedding cache: %w", err)
	}

	var remote provider.RemoteCache
	if cfg.RemoteCache.Enabled {
		remote, err = provider.DefaultRegistry.CreateRemoteCache("http", provider.RemoteCacheConfig{
			Enabled:  cfg.RemoteCache.Enabled,
			Endpoint: cfg.RemoteCache.Endpoint,
			APIKey:   cfg.RemoteCache.APIKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating remote cache client: %w", err)
		}
	}

	reader := filereader.New()

	return refresh.New(vs, cache, remote, reader, chunker, embedder), embedder, nil
}

func runRefresh(ctx context.Context, branch, directory string) error {
	coordinator, embedder, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer embedder.Close()

	tag := types.Tag{Branch: branch, Directory: directory, ArtifactID: types.ArtifactID(embedder.ID())}

	m := loadManifest(projectDir)
	diff, seen := computeDiff(projectDir, cfg, m)

	if len(diff.Compute) == 0 && len(diff.Del) == 0 {
		fmt.Println("nothing to refresh")
		return nil
	}
	fmt.Printf("refreshing: %d changed, %d removed\n", len(diff.Compute), len(diff.Del))

	markComplete := func(items []types.RefreshItem, kind types.ResultKind) {
		for _, item := range items {
			if kind == types.ResultDelete {
				delete(m.Files, item.Path)
				continue
			}
			m.Files[item.Path] = item.CacheKey
		}
	}

	var lastErr error
	for ev := range coordinator.Update(ctx, tag, diff, markComplete, cfg.RemoteCache.RepoName) {
		if ev.Err != nil {
			fmt.Fprintln(os.Stderr, "error:", ev.Err)
			lastErr = ev.Err
			continue
		}
		if ev.Item != nil {
			fmt.Printf("[%s] %.0f%% %s\n", ev.Phase, ev.Progress*100, ev.Item.Path)
		}
		if ev.Done {
			fmt.Println("refresh complete")
		}
	}
	if lastErr != nil {
		return lastErr
	}

	for path, key := range seen {
		if _, ok := m.Files[path]; !ok {
			m.Files[path] = key
		}
	}
	return saveManifest(projectDir, m)
}

func runSearch(ctx context.Context, query string, limit int, branch, directory string) error {
	embedder, err := provider.DefaultRegistry.CreateEmbedding(cfg.Embedding.Provider, provider.EmbeddingConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Endpoint:  cfg.Embedding.Endpoint,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	defer embedder.Close()

	vs, err := provider.DefaultRegistry.CreateVectorStore(cfg.VectorStore.Provider, provider.VectorStoreConfig{
		Provider: cfg.VectorStore.Provider,
		Path:     config.VectorDBPath(projectDir),
	})
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}

	cache, err := provider.DefaultRegistry.CreateCache(cfg.Cache.Provider, provider.CacheConfig{
		Provider: cfg.Cache.Provider,
		Path:     config.CacheDBPath(projectDir),
	})
	if err != nil {
		return fmt.Errorf("creating embedding cache: %w", err)
	}

	if limit == 0 {
		limit = cfg.Retrieval.DefaultLimit
	}

	retriever := retrieve.New(vs, cache, embedder)
	retriever.PerTagSearchCap = cfg.Retrieval.PerTagSearchCap

	tags := []retrieve.TagRef{{Branch: branch, Directory: directory}}
	chunks, err := retriever.Retrieve(ctx, query, limit, tags, types.ArtifactID(embedder.ID()), directory)
	if err != nil {
		return fmt.Errorf("searching: %w", err)
	}

	out, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runStatus() error {
	fmt.Println("project:", projectDir)
	fmt.Println("config:", config.ConfigPath(projectDir))
	fmt.Println("cache db:", config.CacheDBPath(projectDir))
	fmt.Println("vector db:", config.VectorDBPath(projectDir))
	fmt.Println("embedding provider:", cfg.Embedding.Provider, cfg.Embedding.Model)
	fmt.Println("vector store:", cfg.VectorStore.Provider)
	fmt.Println("remote cache enabled:", cfg.RemoteCache.Enabled)
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "config error:", e)
		}
		return fmt.Errorf("%d configuration errors", len(errs))
	}
	return nil
}

func runWatch(ctx context.Context, branch, directory string) error {
	coordinator, embedder, err := buildCoordinator()
	if err != nil {
		return err
	}
	defer embedder.Close()

	tag := types.Tag{Branch: branch, Directory: directory, ArtifactID: types.ArtifactID(embedder.ID())}

	w, err := watch.New(watch.Config{
		ProjectDir:  projectDir,
		Config:      cfg,
		Coordinator: coordinator,
		Tag:         tag,
		RepoName:    cfg.RemoteCache.RepoName,
	})
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return w.Watch(ctx)
}

func runServe(branch, directory string) error {
	embedder, err := provider.DefaultRegistry.CreateEmbedding(cfg.Embedding.Provider, provider.EmbeddingConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Endpoint:  cfg.Embedding.Endpoint,
		APIKey:    cfg.Embedding.APIKey,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	defer embedder.Close()

	vs, err := provider.DefaultRegistry.CreateVectorStore(cfg.VectorStore.Provider, provider.VectorStoreConfig{
		Provider: cfg.VectorStore.Provider,
		Path:     config.VectorDBPath(projectDir),
	})
	if err != nil {
		return fmt.Errorf("creating vector store: %w", err)
	}

	cache, err := provider.DefaultRegistry.CreateCache(cfg.Cache.Provider, provider.CacheConfig{
		Provider: cfg.Cache.Provider,
		Path:     config.CacheDBPath(projectDir),
	})
	if err != nil {
		return fmt.Errorf("creating embedding cache: %w", err)
	}

	retriever := retrieve.New(vs, cache, embedder)
	retriever.PerTagSearchCap = cfg.Retrieval.PerTagSearchCap

	srv := mcpserver.New(mcpserver.Config{
		Retriever:  retriever,
		ArtifactID: types.ArtifactID(embedder.ID()),
		Tags:       []retrieve.TagRef{{Branch: branch, Directory: directory}},
	})

	return srv.ServeStdio()
}
