// Package ocr implements the extraction quality gate and engine router:
// given one or more input files it decides which extraction strategy to
// use, executes it (falling back on failure when permitted), and merges
// multi-file results with a medical-aware page merger.
package ocr

import (
	"strings"
	"unicode"
)

// formFieldMarkers is a crude signal that a page is a structured form
// rather than free-text prose: a high density of colon/underscore runs,
// the kind of layout a "Name: ____  Date: ____" intake sheet produces.
var formFieldMarkers = []string{"unterschrift", "datum:", "signature", "checkbox", "☐", "___"}

// Analyze builds the pure, local probe the router needs before it can
// pick a strategy. It never makes a network call: PDFs are classified
// from the embedded text layer the caller passes in (this package does
// not extract one, and an empty layer yields zero coverage), images are
// classified from crude byte-level proxies —
// there is no image-processing library in this platform's dependency
// set, so resolution/blur/contrast are approximated from file size and
// a pixel-density guess rather than decoded pixel statistics.
func Analyze(filename string, content []byte, embeddedText string) FileAnalysis {
	a := FileAnalysis{
		Filename:  filename,
		SizeBytes: len(content),
	}
	if classifyPDF(filename) {
		a.Kind = FilePDF
		preview := embeddedText
		if strings.TrimSpace(preview) != "" {
			a.EmbeddedTextCoverage = 1.0
		}
		a.HasComplexTables = looksLikeTable(preview)
		a.IsForm = containsAny(preview, formFieldMarkers)
		a.MedicalTermHits = CountMedicalTermHits(preview)
		return a
	}

	a.Kind = FileImage
	a.ResolutionScore = sizeProxy(len(content), 150_000, 2_500_000)
	a.BlurVarianceScore = sizeProxy(len(content), 80_000, 1_500_000)
	a.ContrastScore = 0.6 // no decoded histogram available; a neutral midpoint
	return a
}

func classifyPDF(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".pdf")
}

func containsAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// sizeProxy maps a byte count linearly onto 0..1 between a floor and
// ceiling chosen so a typical phone-camera scan (a few hundred KB to a
// few MB) lands in the middle of the range rather than pinned to an
// extreme.
func sizeProxy(size, floor, ceiling int) float64 {
	if size <= floor {
		return 0.2
	}
	if size >= ceiling {
		return 1.0
	}
	return 0.2 + 0.8*float64(size-floor)/float64(ceiling-floor)
}

// FileKind distinguishes the two input shapes the router reasons about.
type FileKind string

const (
	FilePDF   FileKind = "pdf"
	FileImage FileKind = "image"
)

// FileAnalysis is the lightweight, pure probe the router runs over one
// input file before picking a strategy. None of these fields require an
// external call — they are derived from the file's own bytes/metadata.
type FileAnalysis struct {
	Kind                FileKind
	Filename            string
	SizeBytes           int
	EmbeddedTextCoverage float64 // PDFs only: fraction of pages with a usable text layer
	HasComplexTables    bool
	IsForm              bool
	ResolutionScore     float64 // images only: normalized 0..1 proxy for DPI/resolution
	BlurVarianceScore   float64 // images only: normalized 0..1, higher = sharper
	ContrastScore       float64 // images only: normalized 0..1
	MedicalTermHits     int
}

// QualityScore is a composite 0..1 score plus the floor it was compared
// against and anything worth surfacing to the caller.
type QualityScore struct {
	Score          float64
	Floor          float64
	Issues         []string
	Suggestions    []string
}

// BelowFloor reports whether this file's quality fell under the
// configured floor. The router still proceeds when this is true — the
// quality gate only advises, it never blocks extraction.
func (q QualityScore) BelowFloor() bool { return q.Score < q.Floor }

// AssessQuality computes the composite quality score for an image input.
// PDFs with a usable text layer are not scored (LOCAL_TEXT doesn't need
// image quality).
func AssessQuality(a FileAnalysis, floor float64) QualityScore {
	if a.Kind != FileImage {
		return QualityScore{Score: 1, Floor: floor}
	}

	score := 0.4*a.ResolutionScore + 0.35*a.BlurVarianceScore + 0.25*a.ContrastScore
	q := QualityScore{Score: score, Floor: floor}

	if a.ResolutionScore < 0.4 {
		q.Issues = append(q.Issues, "low_resolution")
		q.Suggestions = append(q.Suggestions, "rescan at a higher DPI")
	}
	if a.BlurVarianceScore < 0.4 {
		q.Issues = append(q.Issues, "blurry_scan")
		q.Suggestions = append(q.Suggestions, "retake the scan holding the camera steady or use a flatbed scanner")
	}
	if a.ContrastScore < 0.3 {
		q.Issues = append(q.Issues, "low_contrast")
		q.Suggestions = append(q.Suggestions, "increase lighting or scanner contrast settings")
	}
	return q
}

// medicalTermProbe is a small, conservative vocabulary used only to bias
// engine selection toward VISION_LLM for clearly clinical documents with
// tabular lab layouts; it is not a medical NLP component.
var medicalTermProbe = []string{
	"diagnose", "befund", "laborwert", "patient", "therapie", "medikament", "referenzbereich",
}

// CountMedicalTermHits is a crude case-insensitive substring probe used by
// callers that extract a quick text preview before full OCR (e.g. the
// embedded-text layer of a PDF) to estimate MedicalTermHits.
func CountMedicalTermHits(preview string) int {
	lower := strings.ToLower(preview)
	hits := 0
	for _, term := range medicalTermProbe {
		hits += strings.Count(lower, term)
	}
	return hits
}

// looksLikeTable is a crude heuristic over a text preview: a high density
// of runs of digits/whitespace per line suggests a tabular lab-value
// layout that the local OCR engine tends to mangle.
func looksLikeTable(preview string) bool {
	lines := strings.Split(preview, "\n")
	tabularLines := 0
	for _, line := range lines {
		digits, spaces := 0, 0
		for _, r := range line {
			switch {
			case unicode.IsDigit(r):
				digits++
			case unicode.IsSpace(r):
				spaces++
			}
		}
		if len(line) > 0 && digits > 3 && (digits+spaces)*2 > len(line) {
			tabularLines++
		}
	}
	return len(lines) > 0 && float64(tabularLines)/float64(len(lines)) > 0.15
}
