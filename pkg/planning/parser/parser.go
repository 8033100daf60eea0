// Package parser implements the Plan Parser (C1): decoding the two
// recognized markdown dialects into a normalized ParsedPlan.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	planerrors "github.com/agentflow/controlplane/pkg/shared/errors"
	"github.com/agentflow/controlplane/pkg/planning/types"
)

var (
	simpleStepsTitleRe = regexp.MustCompile(`^#\s*Plan:\s*(.+)$`)
	sectionHeaderRe    = regexp.MustCompile(`^##\s*(Steps|Implementation)\s*$`)
	numberedItemRe     = regexp.MustCompile(`^\d+\.\s*(.+)$`)
	phaseHeaderRe      = regexp.MustCompile(`^##\s*Phase\s+(\d+):\s*(.*)$`)
	subsectionRe       = regexp.MustCompile(`^###\s*(\d+)\.(\d+)\s+(.+)$`)
	filesPrefixRe      = regexp.MustCompile(`^Files(?:\s+to\s+create)?:\s*(.+)$`)
	dependsPrefixRe    = regexp.MustCompile(`^(?:Depends|Dependencies):\s*(.+)$`)
	tagsPrefixRe       = regexp.MustCompile(`^Tags:\s*(.+)$`)
	createPrefixRe     = regexp.MustCompile(`^Create:\s*(.+)$`)
	bulletRe           = regexp.MustCompile(`^[-*]\s+(.+)$`)
	inferredFileRe     = regexp.MustCompile("[`/]([A-Za-z0-9_\\-./]+\\.[A-Za-z]+)")
)

// Parser decodes plan markdown into a ParsedPlan.
type Parser struct {
	log *logrus.Entry
}

// New builds a Parser logging through the given logrus logger (or the
// standard logger if nil).
func New(logger *logrus.Logger) *Parser {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Parser{log: logger.WithField("component", "plan_parser")}
}

// Parse decodes doc into a ParsedPlan, detecting its dialect by structural
// signal. plan_id is a deterministic 12-hex-digit prefix of the SHA-256
// of the first 100 bytes of doc, so that re-parsing identical markdown
// always yields the same plan_id; documents that share their first 100
// bytes share a plan_id.
func (p *Parser) Parse(doc string) (*types.ParsedPlan, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, planerrors.NewPlanParseError("empty body")
	}

	lines := strings.Split(doc, "\n")
	isPhaseBased := detectPhaseBased(lines)
	isSimpleSteps := detectSimpleSteps(lines)

	if !isPhaseBased && !isSimpleSteps {
		return nil, planerrors.NewPlanParseError("no recognizable plan dialect (no title line and no steps section)")
	}

	planID := derivePlanID(doc)

	var (
		steps []types.ParsedStep
		title string
		format types.FormatType
	)

	if isPhaseBased {
		format = types.FormatPhaseBased
		title, steps = parsePhaseBased(lines)
	} else {
		format = types.FormatSimpleSteps
		title, steps = parseSimpleSteps(lines)
	}

	if len(steps) == 0 {
		return nil, planerrors.NewPlanParseError("no steps discovered")
	}

	for i := range steps {
		steps[i].Parallelizable = len(steps[i].Dependencies) == 0
	}

	overview := extractOverview(lines)

	p.log.WithField("plan_id", planID).WithField("format", format).WithField("step_count", len(steps)).Debug("parsed plan")

	return &types.ParsedPlan{
		PlanID:     planID,
		Title:      title,
		Overview:   overview,
		FormatType: format,
		Steps:      steps,
	}, nil
}

func derivePlanID(doc string) string {
	n := len(doc)
	if n > 100 {
		n = 100
	}
	sum := sha256.Sum256([]byte(doc[:n]))
	return hex.EncodeToString(sum[:])[:12]
}

func detectSimpleSteps(lines []string) bool {
	for _, l := range lines {
		if simpleStepsTitleRe.MatchString(strings.TrimSpace(l)) {
			return true
		}
	}
	inSection := false
	for _, l := range lines {
		trimmed := strings.TrimRight(l, " \t")
		if sectionHeaderRe.MatchString(trimmed) {
			inSection = true
			continue
		}
		if strings.HasPrefix(trimmed, "## ") {
			inSection = false
			continue
		}
		if inSection && numberedItemRe.MatchString(strings.TrimSpace(trimmed)) {
			return true
		}
	}
	return false
}

func detectPhaseBased(lines []string) bool {
	hasPhase, hasSubsection := false, false
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if phaseHeaderRe.MatchString(trimmed) {
			hasPhase = true
		}
		if subsectionRe.MatchString(trimmed) {
			hasSubsection = true
		}
	}
	return hasPhase && hasSubsection
}

func extractOverview(lines []string) string {
	for i, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "## Overview") {
			var b strings.Builder
			for j := i + 1; j < len(lines); j++ {
				next := strings.TrimSpace(lines[j])
				if strings.HasPrefix(next, "#") {
					break
				}
				if next == "" {
					continue
				}
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(next)
			}
			return b.String()
		}
	}
	return ""
}

// parseSimpleSteps reads ## Steps / ## Implementation numbered items as
// steps, consuming metadata lines and bullets that follow each numbered
// item until the next numbered item or section header.
func parseSimpleSteps(lines []string) (string, []types.ParsedStep) {
	title := ""
	for _, l := range lines {
		if m := simpleStepsTitleRe.FindStringSubmatch(strings.TrimSpace(l)); m != nil {
			title = strings.TrimSpace(m[1])
			break
		}
	}

	var steps []types.ParsedStep
	inSection := false
	var current *types.ParsedStep
	stepNum := 0

	flush := func() {
		if current != nil {
			applyInferredFiles(current)
			steps = append(steps, *current)
			current = nil
		}
	}

	for _, raw := range lines {
		trimmed := strings.TrimRight(raw, " \t")
		stripped := strings.TrimSpace(trimmed)

		if sectionHeaderRe.MatchString(stripped) {
			inSection = true
			continue
		}
		if strings.HasPrefix(stripped, "## ") || strings.HasPrefix(stripped, "# ") {
			inSection = false
			continue
		}
		if !inSection {
			continue
		}

		if m := numberedItemRe.FindStringSubmatch(stripped); m != nil {
			flush()
			stepNum++
			current = &types.ParsedStep{
				ID:    fmt.Sprintf("step-%d", stepNum),
				Title: strings.TrimSpace(m[1]),
			}
			continue
		}

		if current == nil {
			continue
		}
		applyMetadataLine(current, stripped)
	}
	flush()

	return title, steps
}

// parsePhaseBased reads `## Phase N:` sections with `### N.M Title`
// subsections as steps.
func parsePhaseBased(lines []string) (string, []types.ParsedStep) {
	title := ""
	for _, l := range lines {
		if m := simpleStepsTitleRe.FindStringSubmatch(strings.TrimSpace(l)); m != nil {
			title = strings.TrimSpace(m[1])
			break
		}
	}
	if title == "" {
		for _, l := range lines {
			trimmed := strings.TrimSpace(l)
			if strings.HasPrefix(trimmed, "# ") {
				title = strings.TrimPrefix(trimmed, "# ")
				break
			}
		}
	}

	var steps []types.ParsedStep
	var current *types.ParsedStep
	currentPhase := ""
	stepNum := 0

	flush := func() {
		if current != nil {
			applyInferredFiles(current)
			steps = append(steps, *current)
			current = nil
		}
	}

	for _, raw := range lines {
		trimmed := strings.TrimSpace(raw)

		if m := phaseHeaderRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			currentPhase = strings.TrimSpace(m[2])
			if currentPhase == "" {
				currentPhase = "Phase " + m[1]
			}
			continue
		}

		if m := subsectionRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			stepNum++
			current = &types.ParsedStep{
				ID:    fmt.Sprintf("step-%d", stepNum),
				Title: strings.TrimSpace(m[3]),
				Phase: currentPhase,
			}
			continue
		}

		if strings.HasPrefix(trimmed, "## ") {
			flush()
			continue
		}

		if current == nil {
			continue
		}
		applyMetadataLine(current, trimmed)
	}
	flush()

	return title, steps
}

func applyMetadataLine(step *types.ParsedStep, line string) {
	if line == "" {
		return
	}
	if m := filesPrefixRe.FindStringSubmatch(line); m != nil {
		step.Files = append(step.Files, splitCommaList(m[1])...)
		return
	}
	if m := dependsPrefixRe.FindStringSubmatch(line); m != nil {
		step.Dependencies = append(step.Dependencies, splitCommaList(m[1])...)
		return
	}
	if m := tagsPrefixRe.FindStringSubmatch(line); m != nil {
		for _, t := range splitCommaList(m[1]) {
			step.Tags = append(step.Tags, strings.ToLower(t))
		}
		return
	}
	if m := createPrefixRe.FindStringSubmatch(line); m != nil {
		step.Files = append(step.Files, strings.TrimSpace(m[1]))
		return
	}
	if m := bulletRe.FindStringSubmatch(line); m != nil {
		appendDescription(step, m[1])
		return
	}
	appendDescription(step, line)
}

func appendDescription(step *types.ParsedStep, text string) {
	if step.Description != "" {
		step.Description += " "
	}
	step.Description += text
}

func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyInferredFiles fills Files from description tokens like `path/to.py`
// when the step had no explicit Files:/Create: line.
func applyInferredFiles(step *types.ParsedStep) {
	if len(step.Files) > 0 {
		return
	}
	matches := inferredFileRe.FindAllStringSubmatch(step.Description, -1)
	seen := map[string]bool{}
	for _, m := range matches {
		f := m[1]
		if !seen[f] {
			seen[f] = true
			step.Files = append(step.Files, f)
		}
	}
}
