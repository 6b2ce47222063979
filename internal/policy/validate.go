package policy

import (
	"fmt"
	"regexp"
)

// dangerousPattern pairs a case-insensitive regex over the raw script
// text with a description used in the validation issue. The scan is a
// heuristic pre-filter; the isolate is the actual security boundary.
type dangerousPattern struct {
	re   *regexp.Regexp
	desc string
}

var dangerousPatterns = []dangerousPattern{
	{regexp.MustCompile(`(?i)\brequire\s*\(`), "module loading via require()"},
	{regexp.MustCompile(`(?i)\bimport\s*\(`), "dynamic module import"},
	{regexp.MustCompile(`(?im)^\s*import\s+[\w{*]`), "static module import"},
	{regexp.MustCompile(`(?i)\bprocess\s*\.`), "direct process access"},
	{regexp.MustCompile(`(?i)\bglobalThis\b`), "global object access"},
	{regexp.MustCompile(`(?i)\beval\s*\(`), "dynamic evaluation via eval()"},
	{regexp.MustCompile(`(?i)new\s+Function\s*\(`), "dynamic evaluation via Function constructor"},
	{regexp.MustCompile(`(?i)\bsetTimeout\s*\(`), "timer primitive setTimeout"},
	{regexp.MustCompile(`(?i)\bsetInterval\s*\(`), "timer primitive setInterval"},
	{regexp.MustCompile(`(?i)\bXMLHttpRequest\b`), "low-level network primitive XMLHttpRequest"},
	{regexp.MustCompile(`(?i)new\s+WebSocket\s*\(`), "low-level network primitive WebSocket"},
}

// complexityRe counts loop, function, arrow, and conditional constructs.
var complexityRe = regexp.MustCompile(`\bfor\b|\bwhile\b|\bfunction\b|=>|\bif\b`)

// maxComplexity is the construct count beyond which the script is
// flagged.
const maxComplexity = 50

// ValidateScript statically checks the script text against the policy.
// It never executes the script.
func (e *Enforcer) ValidateScript(script string) ValidationResult {
	var issues []ValidationIssue

	if max := e.policy.MaxScriptLength; max > 0 && len(script) > max {
		issues = append(issues, ValidationIssue{
			Message: fmt.Sprintf("script length %d exceeds maximum %d", len(script), max),
		})
	}

	for _, p := range dangerousPatterns {
		if p.re.MatchString(script) {
			issues = append(issues, ValidationIssue{
				Message: fmt.Sprintf("dangerous pattern: %s", p.desc),
			})
		}
	}

	if n := len(complexityRe.FindAllStringIndex(script, -1)); n > maxComplexity {
		issues = append(issues, ValidationIssue{
			Message: fmt.Sprintf("script complexity %d exceeds maximum %d", n, maxComplexity),
		})
	}

	result := ValidationResult{Valid: len(issues) == 0, Issues: issues}
	if !result.Valid {
		for _, issue := range issues {
			e.recordViolation(ViolationScriptValidation, issue.Message)
		}
	}
	return result
}
