package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/inkwellmd/inkwell/internal/agent"
	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/imaging"
	"github.com/inkwellmd/inkwell/pkg/blackboard"
)

// executePageRoute assigns each page to an agent through the router's
// declarative rules, then runs the pages sequentially and joins the
// outputs in page order.
func (e *Engine) executePageRoute(ctx context.Context, pipelineName string, step *config.Step, input stepInput, board *blackboard.Blackboard) (*StepResult, error) {
	if len(input.Pages) == 0 {
		return nil, fmt.Errorf("page_route step received no pages")
	}

	assignments := routePages(step.Router, input.Pages)
	if step.CrossPageAware {
		applyContinuationOverrides(assignments, board)
	}

	pageNums := make([]int, 0, len(assignments))
	for n := range assignments {
		pageNums = append(pageNums, n)
	}
	sort.Ints(pageNums)

	byNumber := make(map[int][]byte, len(input.Pages))
	for _, p := range input.Pages {
		byNumber[p.Number] = p.Data
	}

	sr := &StepResult{Step: step.Name, Agent: "page_route"}
	var parts []string
	for _, pageNum := range pageNums {
		agentName := assignments[pageNum]
		agentCfg, ok := e.agents.Get(agentName)
		if !ok {
			agentCfg, ok = e.agents.Get(step.Router.DefaultAgent)
			if !ok {
				return nil, fmt.Errorf("agent %q not found for page %d", agentName, pageNum)
			}
		}

		res, err := e.runner.Execute(ctx, agent.Task{
			Pipeline:       pipelineName,
			Step:           fmt.Sprintf("%s_page_%d", step.Name, pageNum),
			Agent:          agentCfg,
			PageNum:        pageNum,
			TotalPages:     len(input.Pages),
			ImageData:      byNumber[pageNum],
			PreviousOutput: input.PreviousOutput,
			Board:          board,
		})
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pageNum, err)
		}

		if res.Markdown != "" {
			parts = append(parts, res.Markdown)
		}
		sr.Usage.Add(res.Usage)
		if sr.ModelUsed == "" {
			sr.ModelUsed = res.ModelUsed
		}
		if res.Report != nil {
			if sr.Report == nil || res.Report.CalibratedScore < sr.Report.CalibratedScore {
				sr.Report = res.Report
			}
		}
	}
	sr.Markdown = strings.Join(parts, "\n\n")

	publishOutput(board, step.Name, sr.Markdown)
	return sr, nil
}

// routePages maps each page to an agent: explicit rules first, remaining
// pages to the default agent. Later rules win on overlap.
func routePages(router *config.RouterConfig, pages []imaging.Page) map[int]string {
	total := len(pages)
	assignments := make(map[int]string, total)
	for _, rule := range router.Rules {
		for _, n := range resolvePageNumbers(rule.Pages, total) {
			assignments[n] = rule.Agent
		}
	}
	for _, p := range pages {
		if _, ok := assignments[p.Number]; !ok {
			assignments[p.Number] = router.DefaultAgent
		}
	}
	return assignments
}

// applyContinuationOverrides keeps content that flows across a page break
// with one agent: a page marked continues_on_next_page drags the following
// page onto its own agent, overriding the rules.
func applyContinuationOverrides(assignments map[int]string, board *blackboard.Blackboard) {
	pageNums := make([]int, 0, len(assignments))
	for n := range assignments {
		pageNums = append(pageNums, n)
	}
	sort.Ints(pageNums)

	for _, n := range pageNums {
		obs, ok := board.Page(n)
		if !ok || !obs.ContinuesOnNextPage {
			continue
		}
		if _, ok := assignments[n+1]; ok {
			assignments[n+1] = assignments[n]
		}
	}
}
