// Package faults captures raw failures at catch boundaries and enriches
// them with severity, recoverability, and tags. It is the last line of
// defense: Capture never panics, even when classification itself misbehaves.
package faults

import (
	"strings"
)

// Severity grades how bad a captured failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Context identifies where a failure was captured.
type Context struct {
	Component string
	Operation string
	Metadata  map[string]string
}

// Classification is the enrichment derived from a raw error. Recoverable is
// fixed at creation time as a pure function of severity: everything below
// critical is considered retryable.
type Classification struct {
	Severity       Severity
	AffectsTrading bool
	Recoverable    bool
	Tags           []string
}

// Classifier derives a Classification from a raw error and its capture
// context. The keyword-based default is deliberately isolated behind this
// interface so it can be swapped for structured error codes without touching
// the handler.
type Classifier interface {
	Classify(err error, ctx Context) Classification
}

// tradingCriticalComponents are the components whose failures affect live
// trading directly.
var tradingCriticalComponents = map[string]bool{
	"trading":  true,
	"executor": true,
	"wallet":   true,
	"signer":   true,
	"rpc":      true,
}

// KeywordClassifier scans error messages for well-known substrings. Fragile
// by nature, but it matches what upstream callers already emit.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the default message-scanning classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// Classify derives severity, trading impact, recoverability, and tags from
// the error message and capture context.
func (c *KeywordClassifier) Classify(err error, ctx Context) Classification {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	out := Classification{
		Severity: SeverityLow,
		Tags:     []string{ctx.Component},
	}
	if tradingCriticalComponents[ctx.Component] {
		out.AffectsTrading = true
		out.Severity = SeverityMedium
	}

	// Keyword-derived tags; timeouts and connection failures are transient
	// and default to recoverable severities.
	if strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded") {
		out.Tags = append(out.Tags, "timeout")
		out.Severity = maxSeverity(out.Severity, SeverityMedium)
	}
	if strings.Contains(lower, "connection") || strings.Contains(lower, "refused") ||
		strings.Contains(lower, "reset by peer") || strings.Contains(lower, "unreachable") {
		out.Tags = append(out.Tags, "connection")
		out.Severity = maxSeverity(out.Severity, SeverityMedium)
	}
	if strings.Contains(lower, "insufficient funds") || strings.Contains(lower, "signing") {
		out.Tags = append(out.Tags, "wallet")
		out.Severity = maxSeverity(out.Severity, SeverityHigh)
	}

	// An explicit CRITICAL marker in the message always wins.
	if strings.Contains(msg, "CRITICAL") {
		out.Severity = SeverityCritical
	}

	out.Recoverable = out.Severity != SeverityCritical
	return out
}

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

func maxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

var _ Classifier = (*KeywordClassifier)(nil)
