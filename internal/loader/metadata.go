package loader

import (
	"regexp"
	"strings"
)

// FrameworkGeneral is assigned when no framework can be inferred.
const FrameworkGeneral = "general"

// frameworkRule matches a framework by document id first and by body second.
type frameworkRule struct {
	framework string
	name      *regexp.Regexp
	body      *regexp.Regexp
}

// frameworkRules are evaluated in order; the first match wins.
var frameworkRules = []frameworkRule{
	{
		framework: "nist-800-53",
		name:      regexp.MustCompile(`nist[_\- ]?800[_\- ]?53|sp[_\-]?800[_\-]?53`),
		body:      regexp.MustCompile(`(?i)\bNIST\s*(SP\s*)?800[\- ]53\b`),
	},
	{
		framework: "fedramp",
		name:      regexp.MustCompile(`fedramp`),
		body:      regexp.MustCompile(`(?i)\bFedRAMP\b`),
	},
	{
		framework: "fisma",
		name:      regexp.MustCompile(`fisma`),
		body:      regexp.MustCompile(`(?i)\bFISMA\b`),
	},
	{
		framework: "cis",
		name:      regexp.MustCompile(`(^|[_\-/])cis([_\-.]|$)|benchmark`),
		body:      regexp.MustCompile(`\bCIS\b`),
	},
	{
		framework: "pci-dss",
		name:      regexp.MustCompile(`pci`),
		body:      regexp.MustCompile(`(?i)\bPCI[\- ]DSS\b`),
	},
	{
		framework: "hipaa",
		name:      regexp.MustCompile(`hipaa`),
		body:      regexp.MustCompile(`(?i)\bHIPAA\b`),
	},
	{
		framework: "soc2",
		name:      regexp.MustCompile(`soc[_\- ]?2`),
		body:      regexp.MustCompile(`(?i)\bSOC\s?2\b`),
	},
	{
		framework: "iso-27001",
		name:      regexp.MustCompile(`iso[_\- ]?27001`),
		body:      regexp.MustCompile(`(?i)\bISO(/IEC)?\s?27001\b`),
	},
}

// InferFramework returns a best-effort compliance framework label for a
// document. A match on the document id (its relative path) wins; otherwise
// the first framework mentioned in the body is used, and "general" when none is.
func InferFramework(id, text string) string {
	name := strings.ToLower(id)
	for _, r := range frameworkRules {
		if r.name.MatchString(name) {
			return r.framework
		}
	}

	best, bestPos := FrameworkGeneral, -1
	for _, r := range frameworkRules {
		loc := r.body.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if bestPos == -1 || loc[0] < bestPos {
			best, bestPos = r.framework, loc[0]
		}
	}
	return best
}

// controlIDPattern matches NIST style control identifiers such as AC-2 or SI-4(5).
var controlIDPattern = regexp.MustCompile(`\b(AC|AT|AU|CA|CM|CP|IA|IR|MA|MP|PE|PL|PM|PS|PT|RA|SA|SC|SI|SR)-\d{1,2}(?:\(\d{1,2}\)|\b)`)

// ControlIDs returns the distinct NIST 800-53 control identifiers mentioned
// in text, in order of first appearance.
func ControlIDs(text string) []string {
	matches := controlIDPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
