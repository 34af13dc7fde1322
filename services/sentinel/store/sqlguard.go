// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/SentinelFOSS/services/sentinel/config"
)

// =============================================================================
// Guard Violations
// =============================================================================

// ViolationError describes why a statement was rejected by the SQL guard.
//
// Description:
//
//	Rule is a short machine tag stable enough to branch on; Detail is the
//	human-readable explanation fed back to the model for regeneration. The
//	raw statement never appears in the error so a rejected statement cannot
//	smuggle payloads into logs or prompts.
type ViolationError struct {
	// Rule is the violated rule tag (e.g. "forbidden_keyword").
	Rule string

	// Detail explains the violation without echoing the full statement.
	Detail string
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	return fmt.Sprintf("sql guard: %s: %s", e.Rule, e.Detail)
}

func violation(rule, format string, args ...any) error {
	return &ViolationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// =============================================================================
// Token Model
// =============================================================================

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenKeyword
	tokenString
	tokenNumber
	tokenOperator
	tokenParam
)

// token is one lexical element of a statement. pos is the byte offset into
// the trimmed statement, used for in-place rewrites.
type token struct {
	kind  tokenKind
	text  string
	upper string
	pos   int
}

// sqlKeywords are the read-query keywords the lexer recognizes. Anything
// word-shaped outside this set lexes as an identifier and must pass the
// schema allow-list.
var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"HAVING": true, "ORDER": true, "LIMIT": true, "OFFSET": true, "AS": true,
	"AND": true, "OR": true, "NOT": true, "IN": true, "IS": true, "NULL": true,
	"LIKE": true, "GLOB": true, "BETWEEN": true, "DISTINCT": true, "ALL": true,
	"EXISTS": true, "CASE": true, "WHEN": true, "THEN": true, "ELSE": true,
	"END": true, "JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true,
	"FULL": true, "OUTER": true, "CROSS": true, "NATURAL": true, "ON": true,
	"USING": true, "ASC": true, "DESC": true, "ESCAPE": true, "CAST": true,
	"COLLATE": true, "ISNULL": true, "NOTNULL": true, "TRUE": true,
	"FALSE": true, "CURRENT_DATE": true, "CURRENT_TIME": true,
	"CURRENT_TIMESTAMP": true,
}

// forbiddenKeywords reject a statement outright wherever they appear.
// Write statements, DDL, pragmas, transaction control, and compound
// selects are all outside the read surface of this tool.
var forbiddenKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "DROP": true,
	"CREATE": true, "ALTER": true, "ATTACH": true, "DETACH": true,
	"PRAGMA": true, "VACUUM": true, "REINDEX": true, "REPLACE": true,
	"TRIGGER": true, "TRANSACTION": true, "BEGIN": true, "COMMIT": true,
	"ROLLBACK": true, "SAVEPOINT": true, "RELEASE": true, "EXPLAIN": true,
	"ANALYZE": true, "WITH": true, "UNION": true, "EXCEPT": true,
	"INTERSECT": true, "INTO": true, "INDEXED": true,
}

// allowedFunctions are the scalar and aggregate functions a generated
// statement may call.
var allowedFunctions = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
	"TOTAL": true, "ROUND": true, "ABS": true, "LENGTH": true,
	"LOWER": true, "UPPER": true, "SUBSTR": true, "SUBSTRING": true,
	"TRIM": true, "LTRIM": true, "RTRIM": true, "DATE": true, "TIME": true,
	"DATETIME": true, "JULIANDAY": true, "STRFTIME": true,
	"COALESCE": true, "IFNULL": true, "NULLIF": true, "INSTR": true,
	"PRINTF": true, "GROUP_CONCAT": true,
}

// allowedBareWords are non-schema identifiers permitted in expressions,
// currently the CAST target type names.
var allowedBareWords = map[string]bool{
	"INTEGER": true, "INT": true, "TEXT": true, "REAL": true,
	"NUMERIC": true, "FLOAT": true, "BLOB": true,
}

// =============================================================================
// Guard
// =============================================================================

// Guard validates generated SQL against the declared store schema.
//
// Description:
//
//	Token-level validation, not string matching: the statement is lexed
//	and every identifier is checked against the declared tables, columns,
//	select-list aliases, and a fixed function list. Comments, bind
//	parameters, multiple statements, compound selects, and anything that
//	is not a single SELECT are rejected. A passing statement comes back
//	with its row LIMIT injected or capped.
//
//	The guard is one of two row-cap layers; the store re-enforces the row
//	and byte caps while scanning, so a statement that slips an oversized
//	LIMIT through still cannot blow up an observation.
//
// Thread Safety: Safe for concurrent use (immutable after construction).
type Guard struct {
	schema  *config.StoreSchema
	maxRows int
}

// NewGuard creates a Guard over the declared schema.
//
// Inputs:
//   - schema: The declared read surface. Must not be nil.
//   - maxRows: The row cap injected into statements without a LIMIT.
//
// Outputs:
//   - *Guard: The configured guard.
func NewGuard(schema *config.StoreSchema, maxRows int) *Guard {
	return &Guard{schema: schema, maxRows: maxRows}
}

// Validate checks one generated statement and returns the sanitized form.
//
// Description:
//
//	Rejection order: lexical problems (comments, unterminated strings,
//	stray characters), bind parameters, multiple statements, non-SELECT,
//	forbidden keywords, unknown tables, unknown identifiers, disallowed
//	functions. The sanitized form is the input with a trailing semicolon
//	stripped and the row LIMIT injected (when absent) or capped (when
//	above the configured maximum).
//
// Inputs:
//   - ctx: Context for tracing.
//   - sqlText: The generated statement.
//
// Outputs:
//   - string: The sanitized statement, safe to execute read-only.
//   - error: A *ViolationError describing the first violated rule.
func (g *Guard) Validate(ctx context.Context, sqlText string) (string, error) {
	_, span := storeTracer.Start(ctx, "store.Guard.Validate")
	defer span.End()

	s := strings.TrimSpace(sqlText)
	if strings.HasSuffix(s, ";") {
		s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	}
	if s == "" {
		return "", violation("empty", "statement is empty")
	}

	toks, err := lexSQL(s)
	if err != nil {
		return "", err
	}
	if len(toks) == 0 {
		return "", violation("empty", "statement is empty")
	}

	if err := g.checkShape(toks); err != nil {
		return "", err
	}

	aliases, err := g.collectAliases(toks)
	if err != nil {
		return "", err
	}
	if err := g.checkIdentifiers(toks, aliases); err != nil {
		return "", err
	}

	sanitized, err := g.applyRowLimit(s, toks)
	if err != nil {
		return "", err
	}

	span.SetAttributes(
		attribute.Int("tokens", len(toks)),
		attribute.Bool("limit_injected", len(sanitized) != len(s)),
	)

	return sanitized, nil
}

// checkShape enforces the single-SELECT statement shape.
func (g *Guard) checkShape(toks []token) error {
	if toks[0].kind != tokenKeyword || toks[0].upper != "SELECT" {
		return violation("not_select", "statement must start with SELECT, got %q", toks[0].text)
	}
	for _, t := range toks {
		switch t.kind {
		case tokenParam:
			return violation("parameter", "bind parameters are not allowed, found %q", t.text)
		case tokenOperator:
			if t.text == ";" {
				return violation("multiple_statements", "only a single statement is allowed")
			}
		case tokenKeyword, tokenIdent:
			if forbiddenKeywords[t.upper] {
				return violation("forbidden_keyword", "keyword %s is not allowed", t.upper)
			}
		}
	}
	return nil
}

// collectAliases gathers select-list and table aliases, and rejects
// undeclared tables where they are unambiguous (directly after FROM or
// JOIN). Bare table aliases are recognized; subquery aliases need AS.
func (g *Guard) collectAliases(toks []token) (map[string]bool, error) {
	aliases := make(map[string]bool)
	for i, t := range toks {
		if t.kind != tokenKeyword {
			continue
		}
		switch t.upper {
		case "FROM", "JOIN":
			if i+1 < len(toks) && toks[i+1].kind == tokenIdent {
				if !g.schema.HasTable(toks[i+1].text) {
					return nil, violation("unknown_table", "table %q is not in the declared schema", toks[i+1].text)
				}
				if i+2 < len(toks) && toks[i+2].kind == tokenIdent {
					aliases[strings.ToLower(toks[i+2].text)] = true
				}
			}
		case "AS":
			if i+1 < len(toks) && toks[i+1].kind == tokenIdent {
				aliases[strings.ToLower(toks[i+1].text)] = true
			}
		}
	}
	return aliases, nil
}

// checkIdentifiers verifies every identifier against the schema, the
// collected aliases, and the function allow-list.
func (g *Guard) checkIdentifiers(toks []token, aliases map[string]bool) error {
	for i, t := range toks {
		if t.kind != tokenIdent {
			continue
		}
		if i+1 < len(toks) && toks[i+1].kind == tokenOperator && toks[i+1].text == "(" {
			if !allowedFunctions[t.upper] {
				return violation("function_not_allowed", "function %s is not allowed", t.upper)
			}
			continue
		}
		if g.schema.HasTable(t.text) || g.schema.HasColumn(t.text) {
			continue
		}
		if aliases[strings.ToLower(t.text)] {
			continue
		}
		if allowedBareWords[t.upper] {
			continue
		}
		return violation("unknown_identifier", "identifier %q is not in the declared schema", t.text)
	}
	return nil
}

// applyRowLimit injects LIMIT when absent and caps it when above maxRows.
// Handles both LIMIT n and the LIMIT offset, n form.
func (g *Guard) applyRowLimit(s string, toks []token) (string, error) {
	depth := 0
	limitIdx := -1
	for i, t := range toks {
		if t.kind == tokenOperator {
			switch t.text {
			case "(":
				depth++
			case ")":
				depth--
			}
			continue
		}
		if depth == 0 && t.kind == tokenKeyword && t.upper == "LIMIT" {
			limitIdx = i
			break
		}
	}

	if limitIdx == -1 {
		return s + " LIMIT " + strconv.Itoa(g.maxRows), nil
	}

	if limitIdx+1 >= len(toks) || toks[limitIdx+1].kind != tokenNumber {
		return "", violation("limit_not_literal", "LIMIT must be followed by a number literal")
	}

	countTok := toks[limitIdx+1]
	// LIMIT offset, count puts the row count second.
	if limitIdx+3 < len(toks) &&
		toks[limitIdx+2].kind == tokenOperator && toks[limitIdx+2].text == "," {
		if toks[limitIdx+3].kind != tokenNumber {
			return "", violation("limit_not_literal", "LIMIT must be followed by a number literal")
		}
		countTok = toks[limitIdx+3]
	}

	n, err := strconv.Atoi(countTok.text)
	if err != nil {
		return "", violation("limit_not_literal", "LIMIT value %q is not an integer", countTok.text)
	}
	if n <= g.maxRows {
		return s, nil
	}
	return s[:countTok.pos] + strconv.Itoa(g.maxRows) + s[countTok.pos+len(countTok.text):], nil
}

// =============================================================================
// Lexer
// =============================================================================

// lexSQL splits a statement into tokens. Comments are rejected rather than
// skipped: a generated read query has no business carrying them, and
// rejecting closes the comment-smuggling channel.
func lexSQL(s string) ([]token, error) {
	var toks []token
	i := 0
	n := len(s)

	for i < n {
		c := s[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '-' && i+1 < n && s[i+1] == '-':
			return nil, violation("comment", "comments are not allowed")

		case c == '/' && i+1 < n && s[i+1] == '*':
			return nil, violation("comment", "comments are not allowed")

		case c == '\'':
			start := i
			i++
			closed := false
			for i < n {
				if s[i] == '\'' {
					if i+1 < n && s[i+1] == '\'' {
						i += 2 // escaped quote
						continue
					}
					i++
					closed = true
					break
				}
				i++
			}
			if !closed {
				return nil, violation("unterminated_string", "string literal is not terminated")
			}
			toks = append(toks, token{kind: tokenString, text: s[start:i], pos: start})

		case c == '"':
			start := i
			i++
			for i < n && s[i] != '"' {
				i++
			}
			if i >= n {
				return nil, violation("unterminated_string", "quoted identifier is not terminated")
			}
			i++
			inner := s[start+1 : i-1]
			if inner == "" {
				return nil, violation("bad_character", "empty quoted identifier")
			}
			toks = append(toks, token{kind: tokenIdent, text: inner, upper: strings.ToUpper(inner), pos: start})

		case c == '`' || c == '[':
			return nil, violation("bad_character", "identifier quoting with %q is not allowed", string(c))

		case c == '?' || c == ':' || c == '@' || c == '$':
			start := i
			i++
			for i < n && isIdentByte(s[i]) {
				i++
			}
			toks = append(toks, token{kind: tokenParam, text: s[start:i], pos: start})

		case c >= '0' && c <= '9':
			start := i
			for i < n && (isIdentByte(s[i]) || s[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokenNumber, text: s[start:i], pos: start})

		case isIdentStartByte(c):
			start := i
			for i < n && isIdentByte(s[i]) {
				i++
			}
			text := s[start:i]
			upper := strings.ToUpper(text)
			kind := tokenIdent
			if sqlKeywords[upper] || forbiddenKeywords[upper] {
				kind = tokenKeyword
			}
			toks = append(toks, token{kind: kind, text: text, upper: upper, pos: start})

		case strings.ContainsRune("(),.*=<>!+-/%|;", rune(c)):
			start := i
			i++
			// two-character comparison operators
			if i < n && (s[start] == '<' || s[start] == '>' || s[start] == '!' || s[start] == '|') {
				two := s[start : i+1]
				if two == "<=" || two == ">=" || two == "<>" || two == "!=" || two == "||" {
					i++
				}
			}
			toks = append(toks, token{kind: tokenOperator, text: s[start:i], pos: start})

		default:
			if c < 128 && unicode.IsPrint(rune(c)) {
				return nil, violation("bad_character", "unexpected character %q", string(c))
			}
			return nil, violation("bad_character", "unexpected byte 0x%02x", c)
		}
	}

	return toks, nil
}

func isIdentStartByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentByte(c byte) bool {
	return isIdentStartByte(c) || (c >= '0' && c <= '9')
}
