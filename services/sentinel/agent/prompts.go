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
	"fmt"
	"strings"

	"github.com/AleutianAI/SentinelFOSS/services/llm"
)

// =============================================================================
// Report Skeleton
// =============================================================================

// reportSections are the required headings of a finished report, in order.
// The synthesis prompt demands them and the structure check requires them;
// a response missing any heading degrades to the raw-trail summary.
var reportSections = []string{
	"Resumo Executivo",
	"Situação Atual e Tendência",
	"Métricas-Chave",
	"Contexto Recente",
	"Interpretação Integrada",
	"Incertezas e Limitações",
	"Conclusão",
}

// keyMetrics are the indicators the Métricas-Chave section must address,
// each explicitly marked as not computable when the trail lacks it.
var keyMetrics = []string{
	"taxa de aumento de casos",
	"taxa de mortalidade",
	"taxa de ocupação de UTI",
	"taxa de vacinação",
}

// notComputableMarker is the exact phrase for a metric the gathered
// evidence cannot support.
const notComputableMarker = "não calculável a partir das evidências coletadas"

// =============================================================================
// Loop Prompts
// =============================================================================

// systemPrompt builds the system message that seeds every session.
func systemPrompt(facts ContextFacts) string {
	var b strings.Builder
	b.WriteString("You are Aleutian Sentinel, an epidemiological analyst for Brazil's SRAG ")
	b.WriteString("(Severe Acute Respiratory Syndrome) surveillance data.\n\n")

	fmt.Fprintf(&b, "Session: %s\n", facts.SessionID)
	fmt.Fprintf(&b, "The case store's most recent symptom-onset date is %s. ", facts.MostRecentDataDate)
	b.WriteString("This date, not today's calendar date, is the end of data coverage. ")
	b.WriteString("Interpret every relative time expression (\"last 30 days\", \"this month\") ")
	b.WriteString("relative to it.\n\n")

	b.WriteString("Answer the user's question by gathering evidence with the available tools:\n")
	b.WriteString("- Use the case database tool for exact counts, rates, and breakdowns.\n")
	b.WriteString("- Use the news search tool for recent context the database cannot hold.\n")
	b.WriteString("Call one tool at a time and read its result before deciding the next step. ")
	b.WriteString("A failed tool call is information: rephrase or move on rather than repeating ")
	b.WriteString("the identical call. When the gathered evidence answers the question, stop ")
	b.WriteString("calling tools and state your conclusions as plain text.\n\n")

	fmt.Fprintf(&b, "The final report will be written in %s.\n", facts.Locale)
	return b.String()
}

// sqlSystemPrompt builds the system message for SQL generation.
func sqlSystemPrompt(facts ContextFacts, maxRows int) string {
	var b strings.Builder
	b.WriteString("You translate an analytic question into exactly one SQLite SELECT ")
	b.WriteString("statement against the schema below. Output only the SQL statement: ")
	b.WriteString("no prose, no code fences, no trailing semicolon commentary.\n\n")

	b.WriteString("Schema:\n")
	b.WriteString(facts.SchemaSummary)
	b.WriteString("\n")

	b.WriteString("Rules:\n")
	b.WriteString("- A single SELECT statement. No INSERT, UPDATE, DELETE, DDL, PRAGMA, ")
	b.WriteString("ATTACH, WITH, or compound selects.\n")
	b.WriteString("- Reference only the tables and columns listed above.\n")
	fmt.Fprintf(&b, "- The data ends at %s. Anchor every relative date filter at that date ", facts.MostRecentDataDate)
	b.WriteString("using date() arithmetic, never at the current date.\n")
	fmt.Fprintf(&b, "- Include a LIMIT of at most %d.\n", maxRows)
	b.WriteString("- Dates are ISO 8601 text (YYYY-MM-DD); compare them as strings or with date().\n")
	return b.String()
}

// sqlMessages builds the conversation for the first SQL generation attempt.
func sqlMessages(question string, facts ContextFacts, maxRows int) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: sqlSystemPrompt(facts, maxRows)},
		{Role: "user", Content: question},
	}
}

// sqlRegenerationMessages builds the conversation for a bounded correction
// attempt after the guard rejected a statement. The rejection reason names
// the rule without echoing the statement.
func sqlRegenerationMessages(question string, facts ContextFacts, maxRows int, rejected, reason string) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "Your previous statement was rejected: %s\n\n", reason)
	fmt.Fprintf(&b, "Previous statement:\n%s\n\n", rejected)
	b.WriteString("Write a corrected statement that follows every rule.")

	return []llm.Message{
		{Role: "system", Content: sqlSystemPrompt(facts, maxRows)},
		{Role: "user", Content: b.String()},
	}
}

// =============================================================================
// Synthesis Prompt
// =============================================================================

// synthesisMessages builds the final-turn conversation that asks the model
// for the structured report.
func synthesisMessages(s *Session, draft string, limitHit bool) []llm.Message {
	var sys strings.Builder
	sys.WriteString("You write the final epidemiological report for Aleutian Sentinel.\n\n")
	fmt.Fprintf(&sys, "Write the entire report in %s, as Markdown, with exactly these ", s.Facts.Locale)
	sys.WriteString("second-level headings in this order:\n")
	for _, section := range reportSections {
		fmt.Fprintf(&sys, "## %s\n", section)
	}
	sys.WriteString("\nRules:\n")
	sys.WriteString("- Every factual claim cites the observation that supports it as [obs N], ")
	sys.WriteString("where N is the observation number from the evidence list. Never cite a ")
	sys.WriteString("number that does not appear in the list.\n")
	fmt.Fprintf(&sys, "- The %s section addresses each of: %s. ",
		"Métricas-Chave", strings.Join(keyMetrics, ", "))
	fmt.Fprintf(&sys, "When the evidence does not support a metric, write %q for it.\n", notComputableMarker)
	fmt.Fprintf(&sys, "- Data coverage ends at %s; say so when discussing recency.\n", s.Facts.MostRecentDataDate)
	if limitHit {
		sys.WriteString("- Evidence gathering stopped at its iteration limit. State explicitly ")
		sys.WriteString("that the evidence may be incomplete.\n")
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Question: %s\n\n", s.Question)
	user.WriteString("Evidence:\n")
	user.WriteString(renderTrail(s.Observations))
	if draft != "" {
		fmt.Fprintf(&user, "\nDraft conclusions from the analysis loop:\n%s\n", draft)
	}

	return []llm.Message{
		{Role: "system", Content: sys.String()},
		{Role: "user", Content: user.String()},
	}
}

// renderTrail renders the observation trail as a numbered evidence list.
func renderTrail(observations []Observation) string {
	if len(observations) == 0 {
		return "(no tool observations were collected)\n"
	}
	var b strings.Builder
	for i, o := range observations {
		if o.Success {
			fmt.Fprintf(&b, "[obs %d] %s:\n%s\n", i+1, o.Tool, strings.TrimSpace(o.Payload))
		} else {
			fmt.Fprintf(&b, "[obs %d] %s failed (%s): %s\n", i+1, o.Tool, o.ErrorClass, o.Error)
		}
	}
	return b.String()
}
