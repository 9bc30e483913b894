package pipeline

import (
	"sort"
	"strconv"
	"strings"

	"github.com/inkwellmd/inkwell/internal/config"
	"github.com/inkwellmd/inkwell/internal/imaging"
)

// resolvePageNumbers expands a page selector against the document's page
// count. Entries are 1-based integers (negative counts from the end) or
// half-open "start:end" range strings. The result is clamped to valid
// pages, deduplicated and sorted; a nil selector means every page.
func resolvePageNumbers(selector []any, total int) []int {
	if total <= 0 {
		return nil
	}
	if len(selector) == 0 {
		nums := make([]int, total)
		for i := range nums {
			nums[i] = i + 1
		}
		return nums
	}

	seen := make(map[int]bool)
	for _, item := range selector {
		switch v := item.(type) {
		case int:
			if n, ok := normalizePage(v, total); ok {
				seen[n] = true
			}
		case string:
			for _, n := range resolveRange(v, total) {
				seen[n] = true
			}
		}
	}

	nums := make([]int, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

// normalizePage maps a possibly-negative 1-based page to its absolute
// number, rejecting anything outside the document.
func normalizePage(n, total int) (int, bool) {
	if n < 0 {
		n = total + n + 1
	}
	if n < 1 || n > total {
		return 0, false
	}
	return n, true
}

// resolveRange expands a half-open "start:end" range. Empty bounds default
// to the document edges; negative bounds count from the end.
func resolveRange(raw string, total int) []int {
	startPart, endPart, found := strings.Cut(raw, ":")
	if !found {
		return nil
	}

	start := 1
	if startPart != "" {
		v, err := strconv.Atoi(startPart)
		if err != nil {
			return nil
		}
		if v < 0 {
			v = total + v + 1
		}
		start = v
	}

	end := total + 1 // half-open: past the last page
	if endPart != "" {
		v, err := strconv.Atoi(endPart)
		if err != nil {
			return nil
		}
		if v < 0 {
			v = total + v + 1
		}
		end = v
	}

	var nums []int
	for n := start; n < end; n++ {
		if n >= 1 && n <= total {
			nums = append(nums, n)
		}
	}
	return nums
}

// selectPages filters loaded pages through a step's selector, preserving
// the pages' own numbering.
func selectPages(step *config.Step, pages []imaging.Page) []imaging.Page {
	wanted := resolvePageNumbers(step.Pages, len(pages))
	byNumber := make(map[int]imaging.Page, len(pages))
	for _, p := range pages {
		byNumber[p.Number] = p
	}
	out := make([]imaging.Page, 0, len(wanted))
	for _, n := range wanted {
		if p, ok := byNumber[n]; ok {
			out = append(out, p)
		}
	}
	return out
}
