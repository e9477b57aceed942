package usecase

import (
	"fmt"
	"sort"
	"strings"

	"medsight/internal/domain"
)

const (
	maxListedItems    = 5
	maxListedEntities = 10

	noStructuredInfo = "No structured information extracted."
	narrativeOnly    = "No specific medical entities found. The document appears to contain narrative text: \n" +
		"*The parser analyzed the text but found no standard medical headers or keywords.*"
)

// emergencyResponse is returned verbatim when the input validator detects
// an emergency. It is never decorated with disclaimers.
const emergencyResponse = `
🚨 EMERGENCY DETECTED 🚨

Your query suggests a potential medical emergency. This AI system is NOT appropriate for emergency medical situations.

IMMEDIATE ACTIONS REQUIRED:
1. Call 911 (or your local emergency number) immediately
2. Go to the nearest emergency room
3. Do not delay seeking immediate medical attention

This system cannot provide emergency medical care or advice.
`

const reflexionNote = "\n\n*Note: This analysis has moderate confidence and should be reviewed by a healthcare professional.*"

// FormatImageAnalysis renders an image analysis as a markdown block.
func FormatImageAnalysis(a *domain.ImageAnalysis) string {
	var b strings.Builder
	b.WriteString("**IMAGING ANALYSIS**\n\n")
	b.WriteString(a.Summary)
	b.WriteString("\n\n")

	if len(a.DetailedFindings) > 0 {
		b.WriteString("**Detailed Findings:**\n")
		for _, f := range a.DetailedFindings[:min(len(a.DetailedFindings), maxListedItems)] {
			fmt.Fprintf(&b, "- %s\n", f.Finding)
		}
	}
	if len(a.Abnormalities) > 0 {
		b.WriteString("\n**Abnormalities Detected:**\n")
		for _, ab := range a.Abnormalities[:min(len(a.Abnormalities), maxListedItems)] {
			fmt.Fprintf(&b, "- %s\n", ab.Description)
		}
	}
	return b.String()
}

// FormatRecordExtraction renders a record extraction as a markdown block.
// Dates and then raw entities stand in when no diagnoses, medications or
// procedures were found.
func FormatRecordExtraction(r *domain.RecordExtraction) string {
	var b strings.Builder
	b.WriteString("**MEDICAL RECORD ANALYSIS**\n\n")
	if r.Summary != "" && r.Summary != noStructuredInfo {
		b.WriteString(r.Summary)
		b.WriteString("\n\n")
	}

	writeList(&b, "Documented Diagnoses", r.Diagnoses)
	writeList(&b, "Current Medications", r.Medications)
	writeList(&b, "Procedures", r.Procedures)
	if len(r.Diagnoses) > 0 || len(r.Medications) > 0 || len(r.Procedures) > 0 {
		return b.String()
	}

	switch {
	case len(r.Dates) > 0:
		dates := append([]string(nil), r.Dates...)
		sort.Strings(dates)
		writeList(&b, "Key Dates Mentioned", dates)
	case len(r.Entities) > 0:
		b.WriteString("**Extracted Entities:**\n")
		seen := make(map[string]bool)
		for _, e := range r.Entities[:min(len(r.Entities), maxListedEntities)] {
			if e.Text == "" || seen[e.Text] {
				continue
			}
			seen[e.Text] = true
			fmt.Fprintf(&b, "- %s: %s\n", e.EntityType, e.Text)
		}
		b.WriteString("\n")
	case r.Summary == noStructuredInfo:
		b.WriteString(narrativeOnly)
	}
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s:**\n", title)
	for _, it := range items[:min(len(items), maxListedItems)] {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}
