// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
)

// =============================================================================
// Report
// =============================================================================

// Report is the finished output of a session.
type Report struct {
	// SessionID identifies the session that produced the report.
	SessionID string `json:"session_id"`

	// Question is the user's original question.
	Question string `json:"question"`

	// Text is the Markdown report body.
	Text string `json:"text"`

	// Degraded reports that the narrative synthesis failed and Text is
	// the deterministic evidence summary instead.
	Degraded bool `json:"degraded,omitempty"`

	// DegradedReason explains why synthesis degraded.
	DegradedReason string `json:"degraded_reason,omitempty"`

	// Iterations is the number of planning iterations the session ran.
	Iterations int `json:"iterations"`

	// Trail is the full observation trail behind the report.
	Trail []Observation `json:"trail"`

	// GeneratedAt is when the report was finalized (UTC).
	GeneratedAt time.Time `json:"generated_at"`
}

// =============================================================================
// Synthesizer
// =============================================================================

// Synthesizer turns a finished session into the structured report.
//
// Description:
//
//	One model call under its own timeout, then a structural gate: the
//	response must carry every required heading and every citation must
//	point at an observation that exists. A response that fails the gate,
//	or a model that fails outright, degrades to a deterministic summary
//	of the observation trail. Synthesis only hard-fails when there is
//	nothing to summarize: no observations and no draft conclusions.
//
// Thread Safety: immutable after construction; safe for concurrent use.
type Synthesizer struct {
	client  llm.Client
	timeout time.Duration
}

// NewSynthesizer builds a Synthesizer.
func NewSynthesizer(client llm.Client, timeout time.Duration) (*Synthesizer, error) {
	if client == nil {
		return nil, errors.New("synthesizer: llm client is nil")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("synthesizer: timeout must be positive, got %v", timeout)
	}
	return &Synthesizer{client: client, timeout: timeout}, nil
}

// Synthesize produces the final report for a session.
//
// Inputs:
//   - ctx: Parent context; the model call runs under the synthesis timeout.
//   - s: The finished session.
//   - draft: Final plain-text conclusions from the planning loop, empty
//     when the loop never produced any.
//   - limitHit: Whether evidence gathering stopped at the iteration cap.
//
// Outputs:
//   - *Report: The report, possibly degraded.
//   - error: Only when there is no evidence and no draft to fall back on.
func (sy *Synthesizer) Synthesize(ctx context.Context, s *Session, draft string, limitHit bool) (*Report, error) {
	report := &Report{
		SessionID:   s.ID,
		Question:    s.Question,
		Iterations:  s.Iteration,
		Trail:       s.Trail(),
		GeneratedAt: time.Now().UTC(),
	}

	mctx, cancel := context.WithTimeout(ctx, sy.timeout)
	defer cancel()

	text, err := sy.client.Chat(mctx, synthesisMessages(s, draft, limitHit), synthesisParams())
	if err != nil {
		if len(report.Trail) == 0 && strings.TrimSpace(draft) == "" {
			return nil, Classify(ClassSynthesis,
				fmt.Errorf("synthesis failed with no evidence to fall back on: %w", err))
		}
		return sy.degrade(s, report, draft, limitHit,
			fmt.Sprintf("model synthesis failed: %v", err)), nil
	}

	if cerr := checkReportStructure(text, len(report.Trail)); cerr != nil {
		return sy.degrade(s, report, draft, limitHit, cerr.Error()), nil
	}

	report.Text = text
	slog.Info("report synthesized",
		slog.String("session_id", s.ID),
		slog.Int("observations", len(report.Trail)),
		slog.Int("report_bytes", len(text)))
	return report, nil
}

// degrade finalizes a report on the deterministic fallback path.
func (sy *Synthesizer) degrade(s *Session, report *Report, draft string, limitHit bool, reason string) *Report {
	report.Degraded = true
	report.DegradedReason = reason
	report.Text = buildDegradedReport(s, draft, limitHit)
	slog.Warn("report degraded to evidence summary",
		slog.String("session_id", s.ID),
		slog.String("reason", reason))
	return report
}

// synthesisParams allows mild sampling for narrative flow.
func synthesisParams() llm.GenerationParams {
	temp := float32(0.2)
	return llm.GenerationParams{Temperature: &temp}
}

// =============================================================================
// Structure Gate
// =============================================================================

var citationPattern = regexp.MustCompile(`\[obs (\d+)\]`)

// checkReportStructure verifies the required headings and the citation
// range of a synthesized report.
func checkReportStructure(text string, trailLen int) error {
	for _, section := range reportSections {
		if !strings.Contains(text, "## "+section) {
			return fmt.Errorf("report is missing the %q section", section)
		}
	}

	cites := citationPattern.FindAllStringSubmatch(text, -1)
	if trailLen > 0 && len(cites) == 0 {
		return errors.New("report cites no observations")
	}
	for _, m := range cites {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > trailLen {
			return fmt.Errorf("report cites [obs %s] but only %d observations exist", m[1], trailLen)
		}
	}
	return nil
}

// =============================================================================
// Degraded Fallback
// =============================================================================

// buildDegradedReport renders the deterministic evidence summary used
// when narrative synthesis is unavailable. Duplicate payloads are
// folded; the output carries the same headings as a full report.
func buildDegradedReport(s *Session, draft string, limitHit bool) string {
	var b strings.Builder

	b.WriteString("## Resumo Executivo\n")
	b.WriteString("A síntese narrativa não pôde ser gerada. Este relatório lista as ")
	b.WriteString("evidências coletadas sem interpretação adicional.\n")
	if d := strings.TrimSpace(draft); d != "" {
		fmt.Fprintf(&b, "\nConclusões preliminares do laço de análise:\n%s\n", d)
	}

	b.WriteString("\n## Situação Atual e Tendência\n")
	b.WriteString("Sem síntese narrativa disponível nesta execução. Consulte as ")
	b.WriteString("evidências em Contexto Recente.\n")

	b.WriteString("\n## Métricas-Chave\n")
	for _, metric := range keyMetrics {
		fmt.Fprintf(&b, "- %s: %s\n", metric, notComputableMarker)
	}

	b.WriteString("\n## Contexto Recente\n")
	b.WriteString(renderDegradedTrail(s.Observations))

	b.WriteString("\n## Interpretação Integrada\n")
	b.WriteString("Sem interpretação automática disponível nesta execução.\n")

	b.WriteString("\n## Incertezas e Limitações\n")
	b.WriteString("- A síntese narrativa falhou; as evidências estão listadas sem análise.\n")
	if limitHit {
		b.WriteString("- A coleta de evidências parou no limite de iterações; as evidências podem estar incompletas.\n")
	}
	if s.Facts.MostRecentDataDate != "" {
		fmt.Fprintf(&b, "- A cobertura dos dados termina em %s.\n", s.Facts.MostRecentDataDate)
	}

	b.WriteString("\n## Conclusão\n")
	b.WriteString("Relatório gerado em modo degradado; extraia conclusões diretamente ")
	b.WriteString("das evidências listadas acima.\n")

	return b.String()
}

// renderDegradedTrail lists observations with duplicate payloads folded
// by content hash.
func renderDegradedTrail(observations []Observation) string {
	if len(observations) == 0 {
		return "Nenhuma observação foi coletada.\n"
	}

	var b strings.Builder
	seen := make(map[uint64]bool, len(observations))
	skipped := 0

	for i, o := range observations {
		if !o.Success {
			fmt.Fprintf(&b, "- [obs %d] %s: **Erro** (%s): %s\n", i+1, o.Tool, o.ErrorClass, o.Error)
			continue
		}
		h := fnv.New64a()
		h.Write([]byte(o.Payload))
		sum := h.Sum64()
		if seen[sum] {
			skipped++
			continue
		}
		seen[sum] = true
		fmt.Fprintf(&b, "- [obs %d] %s:\n%s\n", i+1, o.Tool, indentLines(strings.TrimSpace(o.Payload)))
	}

	if skipped > 0 {
		fmt.Fprintf(&b, "\n*Observação: %d resultado(s) duplicado(s) foram omitidos.*\n", skipped)
	}
	return b.String()
}

// indentLines indents every line of a block for list nesting.
func indentLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
