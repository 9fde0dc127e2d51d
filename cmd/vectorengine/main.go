// Command vectorengine is a thin cobra front-end over the engine's
// in-process packages: a directory on disk holds exactly one collection's
// persisted state (metadata.json, hnsw.bin, vectors.bin, quantized.qvec,
// sparse.json, graph.json), loaded fresh by every invocation and saved back after any
// mutating command. It is a rework of cmd/sqvect's embed/search/collection
// command tree against the collection aggregate instead of the SQLite store.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/sqvect/v2/internal/logging"
	"github.com/liliang-cn/sqvect/v2/pkg/cachemanager"
	"github.com/liliang-cn/sqvect/v2/pkg/collection"
	"github.com/liliang-cn/sqvect/v2/pkg/fusion"
	"github.com/liliang-cn/sqvect/v2/pkg/persistence"
	"github.com/liliang-cn/sqvect/v2/pkg/vectortypes"
)

var (
	dataDir   string
	dimension int
	metric    string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "vectorengine",
	Short: "CLI for a single on-disk vector collection",
	Long:  "A command-line interface for inserting, searching, and inspecting a directory-backed vector collection.",
}

func newLogger() logging.Logger {
	if verbose {
		return logging.NewStd(logging.LevelDebug)
	}
	return logging.NewStd(logging.LevelWarn)
}

func parseMetric(s string) (vectortypes.Metric, error) {
	switch strings.ToLower(s) {
	case "", "cosine":
		return vectortypes.MetricCosine, nil
	case "euclidean":
		return vectortypes.MetricEuclidean, nil
	case "dot":
		return vectortypes.MetricDot, nil
	default:
		return 0, fmt.Errorf("unknown metric %q (want cosine, euclidean, or dot)", s)
	}
}

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", part, err)
		}
		vec = append(vec, float32(val))
	}
	return vec, nil
}

// peekConfig reads just enough of an existing collection directory's
// metadata.json to recover its CollectionConfig, falling back to flag-built
// defaults for a directory that doesn't exist yet.
func peekConfig() (vectortypes.CollectionConfig, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, "metadata.json"))
	if err != nil {
		m, merr := parseMetric(metric)
		if merr != nil {
			return vectortypes.CollectionConfig{}, merr
		}
		if dimension <= 0 {
			return vectortypes.CollectionConfig{}, fmt.Errorf("collection %q does not exist yet; pass --dimensions to create it", dataDir)
		}
		cfg := vectortypes.DefaultCollectionConfig(dimension)
		cfg.Metric = m
		return cfg, nil
	}

	var doc struct {
		Config vectortypes.CollectionConfig
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return vectortypes.CollectionConfig{}, fmt.Errorf("reading %s: %w", dataDir, err)
	}
	return doc.Config, nil
}

func openCollection() (*collection.Collection, error) {
	cfg, err := peekConfig()
	if err != nil {
		return nil, err
	}
	return persistence.Load("cli", cfg, nil, dataDir, newLogger())
}

func saveCollection(c *collection.Collection) error {
	return persistence.Save(c, dataDir)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty collection directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dimension <= 0 {
			return fmt.Errorf("--dimensions is required")
		}
		m, err := parseMetric(metric)
		if err != nil {
			return err
		}
		cfg := vectortypes.DefaultCollectionConfig(dimension)
		cfg.Metric = m
		c, err := collection.New("cli", cfg, nil)
		if err != nil {
			return fmt.Errorf("creating collection: %w", err)
		}
		if err := saveCollection(c); err != nil {
			return fmt.Errorf("saving collection: %w", err)
		}
		fmt.Printf("initialized collection at %s (dimension=%d, metric=%s)\n", dataDir, dimension, m)
		return nil
	},
}

var insertCmd = &cobra.Command{
	Use:   "insert <id>",
	Short: "Insert or replace a vector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		vectorStr, _ := cmd.Flags().GetString("vector")
		metadataStr, _ := cmd.Flags().GetString("metadata")
		if vectorStr == "" {
			return fmt.Errorf("--vector is required")
		}
		vec, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		payload := vectortypes.Payload{}
		if metadataStr != "" {
			var plain map[string]any
			if err := json.Unmarshal([]byte(metadataStr), &plain); err != nil {
				return fmt.Errorf("invalid --metadata JSON: %w", err)
			}
			payload = vectortypes.Payload{Kind: vectortypes.PayloadPlain, Plain: plain}
		}

		c, err := openCollection()
		if err != nil {
			return err
		}
		wasNew, err := c.UpsertReporting(context.Background(), vectortypes.Vector{ID: id, Data: vec, Payload: payload})
		if err != nil {
			return fmt.Errorf("upsert failed: %w", err)
		}
		if err := saveCollection(c); err != nil {
			return fmt.Errorf("saving collection: %w", err)
		}
		if wasNew {
			fmt.Printf("inserted %q\n", id)
		} else {
			fmt.Printf("replaced %q\n", id)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch a vector by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCollection()
		if err != nil {
			return err
		}
		v, err := c.Get(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get failed: %w", err)
		}
		data, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a vector by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCollection()
		if err != nil {
			return err
		}
		existed, err := c.DeleteReporting(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		if err := saveCollection(c); err != nil {
			return fmt.Errorf("saving collection: %w", err)
		}
		if existed {
			fmt.Printf("deleted %q\n", args[0])
		} else {
			fmt.Printf("%q was not present\n", args[0])
		}
		return nil
	},
}

var indexDocCmd = &cobra.Command{
	Use:   "index-document <id> <text>",
	Short: "Register text under id for BM25 search",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCollection()
		if err != nil {
			return err
		}
		if err := c.IndexDocument(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("index-document failed: %w", err)
		}
		if err := saveCollection(c); err != nil {
			return fmt.Errorf("saving collection: %w", err)
		}
		fmt.Printf("indexed text for %q\n", args[0])
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find the nearest neighbors of a vector",
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		k, _ := cmd.Flags().GetInt("top-k")
		if vectorStr == "" {
			return fmt.Errorf("--vector is required")
		}
		vec, err := parseVector(vectorStr)
		if err != nil {
			return err
		}

		c, err := openCollection()
		if err != nil {
			return err
		}
		results, err := c.Search(context.Background(), vec, k)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		printResults(cmd, results)
		return nil
	},
}

var hybridSearchCmd = &cobra.Command{
	Use:   "hybrid-search",
	Short: "Fuse a dense vector search with a BM25 text search",
	RunE: func(cmd *cobra.Command, args []string) error {
		vectorStr, _ := cmd.Flags().GetString("vector")
		text, _ := cmd.Flags().GetString("text")
		k, _ := cmd.Flags().GetInt("top-k")
		algoStr, _ := cmd.Flags().GetString("algo")
		alpha, _ := cmd.Flags().GetFloat64("alpha")
		if vectorStr == "" || text == "" {
			return fmt.Errorf("--vector and --text are both required")
		}
		vec, err := parseVector(vectorStr)
		if err != nil {
			return err
		}
		algo, err := parseAlgorithm(algoStr)
		if err != nil {
			return err
		}

		c, err := openCollection()
		if err != nil {
			return err
		}
		results, err := c.HybridSearch(context.Background(), vec, text, k, algo, float32(alpha))
		if err != nil {
			return fmt.Errorf("hybrid search failed: %w", err)
		}
		printResults(cmd, results)
		return nil
	},
}

func parseAlgorithm(s string) (fusion.Algorithm, error) {
	switch strings.ToLower(s) {
	case "", "rrf":
		return fusion.ReciprocalRankFusion, nil
	case "weighted":
		return fusion.WeightedCombination, nil
	case "alpha":
		return fusion.AlphaBlending, nil
	default:
		return 0, fmt.Errorf("unknown fusion algorithm %q (want rrf, weighted, or alpha)", s)
	}
}

func printResults(cmd *cobra.Command, results []vectortypes.ScoredVector) {
	outputJSON, _ := cmd.Flags().GetBool("json")
	if outputJSON {
		data, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("found %d results:\n", len(results))
	for i, r := range results {
		fmt.Printf("%d. %s (score: %.4f)\n", i+1, r.ID, r.Score)
	}
}

var scrollCmd = &cobra.Command{
	Use:   "scroll",
	Short: "Page through every vector in insertion order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cursor, _ := cmd.Flags().GetString("cursor")
		pageSize, _ := cmd.Flags().GetInt("page-size")

		c, err := openCollection()
		if err != nil {
			return err
		}
		page, next, err := c.Scroll(context.Background(), cursor, pageSize, nil)
		if err != nil {
			return fmt.Errorf("scroll failed: %w", err)
		}
		for _, v := range page {
			fmt.Println(v.ID)
		}
		if next != "" {
			fmt.Printf("next cursor: %s\n", next)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display collection statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCollection()
		if err != nil {
			return err
		}
		cfg := c.Config()
		fmt.Printf("collection: %s\n", dataDir)
		fmt.Printf("  vectors:   %d\n", c.Count())
		fmt.Printf("  dimension: %d\n", cfg.Dimension)
		fmt.Printf("  metric:    %s\n", cfg.Metric)
		fmt.Printf("  sparse docs: %d\n", len(c.SparseIndex().Documents()))
		if g := c.Graph(); g != nil {
			fmt.Printf("  graph nodes: %d, edges: %d\n", len(g.Nodes()), len(g.Edges()))
		}
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "cache-stats",
	Short: "Report the quantized-vector cache budget for this collection",
	RunE: func(cmd *cobra.Command, args []string) error {
		budget, _ := cmd.Flags().GetUint64("cache-budget")

		c, err := openCollection()
		if err != nil {
			return err
		}
		codes := c.ExportCodes().Codes
		var used uint64
		for _, code := range codes {
			used += uint64(len(code))
		}

		mgr := cachemanager.New(budget, cachemanager.Options{})
		decision, allocErr := mgr.TryAllocate(used)
		stats := mgr.Stats()

		fmt.Printf("quantized payload: %s\n", humanize.Bytes(used))
		fmt.Printf("cache budget:       %s\n", humanize.Bytes(stats.MaxBytes))
		fmt.Printf("decision:           %s\n", decision)
		if allocErr != nil {
			fmt.Printf("detail:             %v\n", allocErr)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "dir", "d", "./vectordata", "Collection directory path")
	rootCmd.PersistentFlags().IntVarP(&dimension, "dimensions", "n", 0, "Vector dimension (required to create a new collection)")
	rootCmd.PersistentFlags().StringVarP(&metric, "metric", "m", "cosine", "Distance metric for a new collection: cosine, euclidean, or dot")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	insertCmd.Flags().String("vector", "", "Vector values (comma-separated)")
	insertCmd.Flags().String("metadata", "", "Plain payload as JSON")
	insertCmd.MarkFlagRequired("vector")

	searchCmd.Flags().String("vector", "", "Query vector (comma-separated)")
	searchCmd.Flags().Int("top-k", 10, "Number of results")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
	searchCmd.MarkFlagRequired("vector")

	hybridSearchCmd.Flags().String("vector", "", "Query vector (comma-separated)")
	hybridSearchCmd.Flags().String("text", "", "Query text for the BM25 side")
	hybridSearchCmd.Flags().Int("top-k", 10, "Number of results")
	hybridSearchCmd.Flags().String("algo", "rrf", "Fusion algorithm: rrf, weighted, or alpha")
	hybridSearchCmd.Flags().Float64("alpha", 0.5, "Dense-list weight for weighted/alpha fusion")
	hybridSearchCmd.Flags().Bool("json", false, "Output as JSON")

	scrollCmd.Flags().String("cursor", "", "Resume cursor from a previous page")
	scrollCmd.Flags().Int("page-size", 20, "Results per page")

	cacheStatsCmd.Flags().Uint64("cache-budget", 64*1024*1024, "Cache byte budget to evaluate against")

	rootCmd.AddCommand(
		initCmd,
		insertCmd,
		getCmd,
		deleteCmd,
		indexDocCmd,
		searchCmd,
		hybridSearchCmd,
		scrollCmd,
		statsCmd,
		cacheStatsCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
