package extract

import (
	"strings"
)

// Format identifies which marker protocol a model response uses.
type Format int

const (
	// FormatSectioned is the current protocol: every section is wrapped in
	// ---<NAME>_START--- ... ---<NAME>_END--- pairs.
	FormatSectioned Format = iota
	// FormatLegacyFlat is the older heading-based protocol with start
	// markers only; sections run until the next heading.
	FormatLegacyFlat
)

// SectionSpec describes one expected section of the model output.
// EndMarker is empty for formats that only delimit section starts.
type SectionSpec struct {
	Name        string
	StartMarker string
	EndMarker   string
	Fallback    string
}

// Section is the outcome of extracting one spec from the response text.
// Success is true only when content was found between well-formed markers
// (or safely recovered) and met the minimum length; otherwise Content
// carries the caller-supplied fallback.
type Section struct {
	Name    string
	Content string
	Success bool
}

// Section names shared by both marker formats.
const (
	SectionImprovedCV      = "IMPROVED_CV"
	SectionCoverLetter     = "COVER_LETTER"
	SectionTips            = "TIPS"
	SectionChangesOverview = "CHANGES_OVERVIEW"
)

// DefaultMinLength is the threshold under which extracted content is
// considered noise rather than a usable section.
const DefaultMinLength = 10

// Extractor parses model responses that are not guaranteed to honor the
// delimiter protocol. It only ever degrades per section, never fails whole.
type Extractor struct {
	minLength int
}

// New constructs an extractor. minLength <= 0 selects DefaultMinLength.
func New(minLength int) *Extractor {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Extractor{minLength: minLength}
}

// DetectFormat sniffs which marker protocol the response uses. Any current
// start marker wins; everything else is treated as the legacy flat format.
func DetectFormat(text string) Format {
	if strings.Contains(text, "_START---") {
		return FormatSectioned
	}
	return FormatLegacyFlat
}

// SectionedSpecs returns the four-section spec for the current protocol.
// fallbacks maps section name to the placeholder used when extraction fails.
func SectionedSpecs(fallbacks map[string]string) []SectionSpec {
	names := []string{SectionImprovedCV, SectionCoverLetter, SectionTips, SectionChangesOverview}
	specs := make([]SectionSpec, 0, len(names))
	for _, n := range names {
		specs = append(specs, SectionSpec{
			Name:        n,
			StartMarker: "---" + n + "_START---",
			EndMarker:   "---" + n + "_END---",
			Fallback:    fallbacks[n],
		})
	}
	return specs
}

// LegacyFlatSpecs returns the heading-based spec for older responses.
func LegacyFlatSpecs(fallbacks map[string]string) []SectionSpec {
	headings := map[string]string{
		SectionImprovedCV:      "## IMPROVED CV",
		SectionCoverLetter:     "## COVER LETTER",
		SectionTips:            "## TIPS",
		SectionChangesOverview: "## CHANGES OVERVIEW",
	}
	names := []string{SectionImprovedCV, SectionCoverLetter, SectionTips, SectionChangesOverview}
	specs := make([]SectionSpec, 0, len(names))
	for _, n := range names {
		specs = append(specs, SectionSpec{Name: n, StartMarker: headings[n], Fallback: fallbacks[n]})
	}
	return specs
}

// SpecsFor picks the spec set matching the detected format of text.
func SpecsFor(text string, fallbacks map[string]string) []SectionSpec {
	if DetectFormat(text) == FormatLegacyFlat {
		return LegacyFlatSpecs(fallbacks)
	}
	return SectionedSpecs(fallbacks)
}

// Extract produces one Section per spec, in spec order.
//
// Recovery is layered and order-sensitive: the end marker is honored first,
// then a missing end marker is bounded by the nearest following start marker
// of any other section, then the contamination guard truncates content that
// swallowed another section's start marker. Reordering these steps lets
// sections bleed into each other.
func (e *Extractor) Extract(text string, specs []SectionSpec) []Section {
	out := make([]Section, 0, len(specs))
	for i, spec := range specs {
		out = append(out, e.extractOne(text, spec, otherStarts(specs, i)))
	}
	return out
}

func (e *Extractor) extractOne(text string, spec SectionSpec, otherStarts []string) Section {
	fail := Section{Name: spec.Name, Content: spec.Fallback, Success: false}

	start := strings.Index(text, spec.StartMarker)
	if start < 0 {
		return fail
	}
	from := start + len(spec.StartMarker)
	rest := text[from:]

	var content string
	closed := false
	if spec.EndMarker != "" {
		if end := strings.Index(rest, spec.EndMarker); end >= 0 {
			content = rest[:end]
			closed = true
		}
	}
	if !closed {
		// End marker absent: the model truncated or skipped the closing
		// tag. Bound the section at the nearest following start marker.
		end := nearestMarker(rest, otherStarts)
		if end < 0 {
			end = len(rest)
		}
		content = rest[:end]
	}

	content = strings.TrimSpace(content)
	if len(content) < e.minLength {
		return fail
	}

	// Contamination guard: well-formed end marker or not, the content must
	// not swallow another section's opening.
	if cut := nearestMarker(content, otherStarts); cut >= 0 {
		content = strings.TrimSpace(content[:cut])
		if len(content) < e.minLength {
			return fail
		}
	}

	return Section{Name: spec.Name, Content: content, Success: true}
}

// nearestMarker returns the smallest index of any marker in text, or -1.
func nearestMarker(text string, markers []string) int {
	best := -1
	for _, m := range markers {
		if m == "" {
			continue
		}
		if idx := strings.Index(text, m); idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	return best
}

func otherStarts(specs []SectionSpec, skip int) []string {
	out := make([]string, 0, len(specs)-1)
	for i, s := range specs {
		if i == skip {
			continue
		}
		out = append(out, s.StartMarker)
	}
	return out
}
