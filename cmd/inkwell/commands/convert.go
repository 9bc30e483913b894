package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inkwellmd/inkwell/internal/agent"
	"github.com/inkwellmd/inkwell/internal/concurrency"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/imaging"
	"github.com/inkwellmd/inkwell/internal/pipeline"
	"github.com/inkwellmd/inkwell/internal/printer"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

var (
	convertOutput     string
	convertPipeline   string
	convertAgent      string
	convertModel      string
	convertWorkers    int
	convertNoCache    bool
	convertPerPage    bool
	convertCustomDirs []string
)

var convertCmd = &cobra.Command{
	Use:   "convert <path>",
	Short: "Convert a document to markdown",
	Long: `Convert a document (page images) to markdown.

The input may be a single image file, a directory of page images (one
multi-page document, pages sorted by filename), or a directory of
documents (batch mode: each subdirectory is a multi-page document, each
loose image a single-page document).

When neither --pipeline nor --agent is given, the first page is classified
to pick a pipeline automatically.

Examples:
  # Single page with automatic pipeline selection
  inkwell convert scan.png

  # Multi-page document with an explicit pipeline
  inkwell convert ./book-pages --pipeline scanned-book -o book.md

  # Batch conversion, eight documents at a time
  inkwell convert ./inbox --workers 8 -o ./converted`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "Output file (single document) or directory (batch)")
	convertCmd.Flags().StringVar(&convertPipeline, "pipeline", "", "Pipeline to run (skips classification)")
	convertCmd.Flags().StringVar(&convertAgent, "agent", "", "Run a single agent instead of a pipeline")
	convertCmd.Flags().StringVar(&convertModel, "model", "", "Force a single model for every agent")
	convertCmd.Flags().IntVar(&convertWorkers, "workers", 0, "Concurrent documents in batch mode")
	convertCmd.Flags().BoolVar(&convertNoCache, "no-cache", false, "Bypass the result cache")
	convertCmd.Flags().BoolVar(&convertPerPage, "per-page", false, "Write one markdown file per page")
	convertCmd.Flags().StringArrayVar(&convertCustomDirs, "custom-dir", nil, "Extra directory with agent/pipeline definitions (repeatable)")
	rootCmd.AddCommand(convertCmd)
}

// document is one unit of batch work: a file or a directory of pages.
type document struct {
	Name string
	Path string
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if convertPipeline != "" && convertAgent != "" {
		return printer.Error(
			"--pipeline and --agent are mutually exclusive",
			"A conversion runs either a full pipeline or a single agent, not both.",
			[]string{"Drop one of the two flags and retry."},
		)
	}

	overrides := &config.Overrides{CustomDirs: convertCustomDirs}
	if convertModel != "" {
		overrides.Model = &convertModel
	}
	if convertNoCache {
		overrides.CacheDisabled = &convertNoCache
	}
	if convertWorkers > 0 {
		overrides.MaxWorkers = &convertWorkers
	}

	rt, err := newRuntime(overrides)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.settings.APIKey == "" {
		return printer.Error(
			"no API key configured",
			"Inkwell needs an API key to call vision models.",
			[]string{
				"Set the environment variable:\n  export OPENAI_API_KEY=sk-...",
				"Or add api_key to ~/.inkwell/config.yaml",
			},
		)
	}

	docs, err := collectDocuments(args[0])
	if err != nil {
		return err
	}

	if len(docs) == 1 {
		return convertDocument(ctx, rt, docs[0], singleOutputPath(docs[0]))
	}
	return convertBatch(ctx, rt, docs)
}

// convertBatch fans the documents out over the bounded pool. Per-document
// failures are reported and skipped; the batch fails only when nothing
// converted.
func convertBatch(ctx context.Context, rt *runtime, docs []document) error {
	if convertOutput != "" {
		if err := os.MkdirAll(convertOutput, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	printer.Info("Converting %d documents (workers: %d)\n\n", len(docs), rt.settings.MaxWorkers)

	pool := concurrency.NewPool(rt.settings.MaxWorkers)
	errs := pool.Each(ctx, len(docs), func(ctx context.Context, i int) error {
		return convertDocument(ctx, rt, docs[i], batchOutputPath(docs[i]))
	})

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			printer.Warning("%s: %v\n", docs[i].Name, err)
		}
	}

	printer.Info("\n")
	if failed == len(docs) {
		return printer.Error(
			"batch conversion failed",
			fmt.Sprintf("All %d documents failed to convert.", len(docs)),
			[]string{"Re-run with -v to see component logs."},
		)
	}
	printer.Success("Converted %d/%d documents\n", len(docs)-failed, len(docs))
	return nil
}

func convertDocument(ctx context.Context, rt *runtime, doc document, outPath string) error {
	pages, err := imaging.LoadPages(doc.Path)
	if err != nil {
		return err
	}

	board := blackboard.New()
	cfg, err := resolvePipeline(ctx, rt, pages, board)
	if err != nil {
		return err
	}

	if convertPerPage {
		return convertPerPageFiles(ctx, rt, cfg, pages, outPath)
	}

	result, err := rt.engine.Execute(ctx, cfg, pages, board)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outPath, []byte(result.Markdown), 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	printSummary(doc.Name, outPath, result)
	return nil
}

// convertPerPageFiles runs the pipeline once per page and writes
// <stem>_page_N.md for each. The cache keeps repeated single-page runs
// cheap.
func convertPerPageFiles(ctx context.Context, rt *runtime, cfg *config.PipelineConfig, pages []imaging.Page, outPath string) error {
	stem := strings.TrimSuffix(outPath, filepath.Ext(outPath))
	for _, page := range pages {
		single := []imaging.Page{{Number: 1, Path: page.Path, Data: page.Data}}
		result, err := rt.engine.Execute(ctx, cfg, single, blackboard.New())
		if err != nil {
			return fmt.Errorf("page %d: %w", page.Number, err)
		}

		pagePath := fmt.Sprintf("%s_page_%d.md", stem, page.Number)
		if err := os.WriteFile(pagePath, []byte(result.Markdown), 0644); err != nil {
			return fmt.Errorf("page %d: failed to write output: %w", page.Number, err)
		}
		printSummary(filepath.Base(page.Path), pagePath, result)
	}
	return nil
}

// resolvePipeline picks the pipeline to run: an explicit --agent becomes a
// synthetic one-step pipeline, an explicit --pipeline is looked up, and
// otherwise the first page is classified.
func resolvePipeline(ctx context.Context, rt *runtime, pages []imaging.Page, board *blackboard.Blackboard) (*config.PipelineConfig, error) {
	if convertAgent != "" {
		agentCfg, ok := rt.agents.Get(convertAgent)
		if !ok {
			return nil, printer.Error(
				fmt.Sprintf("agent %q not found", convertAgent),
				"No builtin or custom agent has that name.",
				[]string{"List available agents:\n  inkwell agents list"},
			)
		}
		cfg := &config.PipelineConfig{
			Name:  agentCfg.Name,
			Steps: []config.Step{{Name: agentCfg.Name, Agent: agentCfg.Name, Input: agentCfg.Input}},
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if convertPipeline != "" {
		cfg, ok := rt.pipelines.Get(convertPipeline)
		if !ok {
			return nil, printer.Error(
				fmt.Sprintf("pipeline %q not found", convertPipeline),
				"No builtin or custom pipeline has that name.",
				[]string{"List available pipelines:\n  inkwell pipelines list"},
			)
		}
		return cfg, nil
	}

	classifier := agent.NewClassifier(rt.client, rt.settings.ClassifierModel)
	classification, err := classifier.Classify(ctx, pages[0].Data, rt.pipelines, board)
	if err != nil {
		return nil, err
	}
	if verbosity >= 1 {
		printer.Info("Classified as %q (confidence %.2f): %s\n",
			classification.PipelineName, classification.Confidence, classification.Reasoning)
	}

	cfg, ok := rt.pipelines.Get(classification.PipelineName)
	if !ok {
		cfg, ok = rt.pipelines.Get(agent.FallbackPipeline)
		if !ok {
			return nil, fmt.Errorf("fallback pipeline %q not registered", agent.FallbackPipeline)
		}
	}
	return cfg, nil
}

// collectDocuments maps the input path to batch units. A directory that
// directly contains page images is one multi-page document; a directory of
// subdirectories is a batch.
func collectDocuments(path string) ([]document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}
	name := filepath.Base(path)

	if !info.IsDir() {
		return []document{{Name: name, Path: path}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var subdirs, images []string
	for _, entry := range entries {
		switch {
		case entry.IsDir():
			subdirs = append(subdirs, entry.Name())
		case imaging.Supported(entry.Name()):
			images = append(images, entry.Name())
		}
	}

	// No subdirectories: the directory itself is one document.
	if len(subdirs) == 0 {
		if len(images) == 0 {
			return nil, fmt.Errorf("no page images found in %s", path)
		}
		return []document{{Name: name, Path: path}}, nil
	}

	var docs []document
	for _, sub := range subdirs {
		docs = append(docs, document{Name: sub, Path: filepath.Join(path, sub)})
	}
	for _, img := range images {
		docs = append(docs, document{Name: img, Path: filepath.Join(path, img)})
	}
	return docs, nil
}

func singleOutputPath(doc document) string {
	if convertOutput != "" {
		return convertOutput
	}
	return defaultOutputPath(doc.Path)
}

func batchOutputPath(doc document) string {
	if convertOutput != "" {
		stem := strings.TrimSuffix(doc.Name, filepath.Ext(doc.Name))
		return filepath.Join(convertOutput, stem+".md")
	}
	return defaultOutputPath(doc.Path)
}

func defaultOutputPath(inputPath string) string {
	trimmed := strings.TrimSuffix(inputPath, string(filepath.Separator))
	return strings.TrimSuffix(trimmed, filepath.Ext(trimmed)) + ".md"
}

func printSummary(name, outPath string, result *pipeline.Result) {
	printer.Success("%s → %s (steps: %d, cached: %d, tokens: %d)\n",
		name, outPath, len(result.Order), result.CacheHits(), result.Usage.TotalTokens)

	report := result.Confidence
	if report == nil {
		return
	}
	printer.Confidence("  Confidence", report.Overall, report.Level)
	if report.NeedsHumanReview {
		printer.Warning("Output flagged for human review\n")
	}
	if verbosity >= 1 {
		for _, step := range result.Order {
			if sr, ok := report.Steps[step]; ok {
				printer.Confidence("    "+step, sr.CalibratedScore, sr.Level)
			}
		}
	}
}
