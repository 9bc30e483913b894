package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/imaging"
)

// stepInput is a step's resolved input: the selected page images and the
// text flowing in from its dependencies.
type stepInput struct {
	Pages           []imaging.Page
	PreviousOutput  string
	PreviousOutputs map[string]string
}

// resolveInput applies a step's input mode to its dependency outputs.
// previous_output takes the last declared dependency's text;
// previous_outputs collects all of them and also renders a sectioned
// combination for the prompt.
func resolveInput(mode config.InputMode, pages []imaging.Page, deps []string, results map[string]*StepResult) stepInput {
	in := stepInput{}

	if mode.WantsImage() {
		in.Pages = pages
	}

	if len(deps) == 0 {
		return in
	}

	outputs := make(map[string]string, len(deps))
	for _, dep := range deps {
		if r, ok := results[dep]; ok && r.Markdown != "" {
			outputs[dep] = r.Markdown
		}
	}

	switch mode {
	case config.InputPreviousOutputs:
		in.PreviousOutputs = outputs
		in.PreviousOutput = sectioned(outputs)
	case config.InputPreviousOutput, config.InputImageAndPrevious, config.InputPreviousOutputOnly:
		last := deps[len(deps)-1]
		in.PreviousOutput = outputs[last]
	}
	return in
}

// sectioned renders multiple dependency outputs as one labeled document so
// a single prompt placeholder can carry them all.
func sectioned(outputs map[string]string) string {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var sections []string
	for _, name := range names {
		sections = append(sections, fmt.Sprintf("## Section: %s\n\n%s", name, outputs[name]))
	}
	return strings.Join(sections, "\n\n---\n\n")
}
