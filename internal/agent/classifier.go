package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/inkwellmd/inkwell/internal/imaging"
	"github.com/inkwellmd/inkwell/internal/vlm"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

const (
	// DefaultClassifierModel is the lightweight model used for pipeline
	// selection.
	DefaultClassifierModel = "gpt-4.1-nano"

	// FallbackPipeline is used whenever classification cannot commit to a
	// more specific choice.
	FallbackPipeline = "generic"

	classifierMaxTokens           = 256
	classifierConfidenceThreshold = 0.7
	classifierActor               = "_classifier"
)

// Classification is the classifier's verdict.
type Classification struct {
	PipelineName         string   `json:"pipeline_name"`
	Confidence           float64  `json:"confidence"`
	Reasoning            string   `json:"reasoning"`
	ContentTypesDetected []string `json:"content_types_detected"`
}

// Classifier selects a pipeline from the first page of a document with one
// cheap model call. Every failure path lands on the generic pipeline.
type Classifier struct {
	client ModelCaller
	model  string
}

// NewClassifier builds a classifier. An empty model uses the default.
func NewClassifier(client ModelCaller, model string) *Classifier {
	if model == "" {
		model = DefaultClassifierModel
	}
	return &Classifier{client: client, model: model}
}

// Classify inspects page one and picks a pipeline from the registry.
// Low-confidence or unparseable verdicts fall back to generic; detected
// content types are recorded in the document metadata.
func (c *Classifier) Classify(ctx context.Context, page1 []byte, registry *PipelineRegistry, board *blackboard.Blackboard) (*Classification, error) {
	resp, err := c.client.Complete(ctx, vlm.Request{
		Model:     c.model,
		System:    classificationPrompt(registry),
		User:      "Classify this document. Respond with JSON only.",
		ImageB64:  imaging.ToBase64(page1),
		MaxTokens: classifierMaxTokens,
	})

	var result *Classification
	if err != nil {
		log.Printf("[Classifier] Classification failed: %v. Falling back to %q.", err, FallbackPipeline)
		result = &Classification{
			PipelineName: FallbackPipeline,
			Reasoning:    fmt.Sprintf("classification failed: %v", err),
		}
	} else {
		result = parseClassification(resp.Content, registry)
	}

	if result.Confidence < classifierConfidenceThreshold && result.PipelineName != FallbackPipeline {
		log.Printf("[Classifier] Low classification confidence (%.2f). Using %q.",
			result.Confidence, FallbackPipeline)
		result.PipelineName = FallbackPipeline
	}

	if board != nil && len(result.ContentTypesDetected) > 0 {
		werr := board.Write(blackboard.RegionDocumentMetadata, "content_types",
			result.ContentTypesDetected, classifierActor)
		if werr != nil {
			log.Printf("[Classifier] Failed to record content types: %v", werr)
		}
	}

	return result, nil
}

// classificationPrompt lists the registry's pipelines so the verdict always
// names something that exists.
func classificationPrompt(registry *PipelineRegistry) string {
	var lines []string
	for _, info := range registry.List() {
		lines = append(lines, fmt.Sprintf("- %q: %s", info.Name, info.Description))
	}
	listing := strings.Join(lines, "\n")
	if listing == "" {
		listing = `- "generic": General-purpose extraction`
	}

	return fmt.Sprintf(`You are a document classifier. Given the first page of a document, classify it into the best matching pipeline type.

Available pipelines:
%s

Respond with a JSON object only (no markdown fences):
{
  "pipeline_name": "<name>",
  "confidence": <0.0 to 1.0>,
  "reasoning": "<brief explanation>",
  "content_types_detected": ["<type1>", "<type2>"]
}

Content types include: prose, tables, handwriting, forms, signatures, headers, footers, images, equations.
Be conservative with confidence, only above 0.8 when very certain.`, listing)
}

// parseClassification decodes the model's JSON verdict, tolerating
// markdown fences around it. Anything unparseable or unknown falls back to
// the generic pipeline.
func parseClassification(raw string, registry *PipelineRegistry) *Classification {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if _, rest, found := strings.Cut(text, "\n"); found {
			text = rest
		}
	}
	if strings.HasSuffix(text, "```") {
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	text = strings.TrimSpace(text)

	var result Classification
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		log.Printf("[Classifier] Could not parse classification JSON: %.200s", text)
		return &Classification{
			PipelineName: FallbackPipeline,
			Reasoning:    "failed to parse classification response",
		}
	}
	if result.PipelineName == "" {
		result.PipelineName = FallbackPipeline
	}
	if !registry.Has(result.PipelineName) {
		log.Printf("[Classifier] Classified as unknown pipeline %q, falling back", result.PipelineName)
		result.PipelineName = FallbackPipeline
	}
	return &result
}
