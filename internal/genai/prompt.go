package genai

import (
	"fmt"
	"strings"

	"resume-analyzer/internal/extract"
)

// BuildAnalysisPrompt asks the model to rewrite the CV against the job
// posting and emit the four sections between the delimiters the extractor
// knows. The order is requested here but never assumed downstream.
func BuildAnalysisPrompt(cvText, jobText, language string) string {
	sb := &strings.Builder{}
	sb.WriteString("You are an expert career coach and professional resume writer. ")
	fmt.Fprintf(sb, "Rewrite the resume below so it targets the given job posting. Write all output in the language with ISO code %q.\n\n", language)
	sb.WriteString("Respond with exactly four sections, each wrapped in its own delimiters, in this order:\n")
	for _, name := range []string{
		extract.SectionImprovedCV,
		extract.SectionCoverLetter,
		extract.SectionTips,
		extract.SectionChangesOverview,
	} {
		fmt.Fprintf(sb, "---%s_START---\n...\n---%s_END---\n", name, name)
	}
	sb.WriteString("\nSection contents: IMPROVED_CV is the full rewritten resume. ")
	sb.WriteString("COVER_LETTER is a tailored cover letter. ")
	sb.WriteString("TIPS is concrete interview and application advice for this posting. ")
	sb.WriteString("CHANGES_OVERVIEW summarizes every change you made and why.\n")
	sb.WriteString("Do not add any text outside the delimiters.\n\n")
	fmt.Fprintf(sb, "RESUME:\n%s\n\nJOB POSTING:\n%s\n", cvText, jobText)
	return sb.String()
}

// FallbackTexts returns the per-section placeholder used when a section
// cannot be reliably extracted from the model output.
func FallbackTexts() map[string]string {
	return map[string]string{
		extract.SectionImprovedCV:      "The improved resume could not be generated. Please try again.",
		extract.SectionCoverLetter:     "The cover letter could not be generated. Please try again.",
		extract.SectionTips:            "Tips could not be generated for this submission.",
		extract.SectionChangesOverview: "A summary of changes is not available for this submission.",
	}
}
