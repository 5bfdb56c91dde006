package ocr

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/medlingua/pipeline/domain"
)

// pageResult is one file's extraction outcome, prior to merge.
type pageResult struct {
	filename    string
	text        string
	confidence  float64
	engine      domain.OCREngine
	issues      []string
	suggestions []string
}

// sequenceHint extracts a trailing page/sequence number from a filename
// such as "letter_page_2.pdf" or "scan-03.jpg", used to order multi-file
// batches before extraction when the caller didn't already order them.
var sequenceHint = regexp.MustCompile(`(\d+)\D*$`)

// detectSequence orders a batch by any numeric suffix found in filenames;
// files without a detectable sequence number keep their relative input
// order (stable sort).
func detectSequence(files []InputFile) []InputFile {
	if len(files) <= 1 {
		return files
	}
	type indexed struct {
		file InputFile
		seq  int
		has  bool
		pos  int
	}
	items := make([]indexed, len(files))
	for i, f := range files {
		base := strings.TrimSuffix(f.Filename, filepathExt(f.Filename))
		m := sequenceHint.FindStringSubmatch(base)
		it := indexed{file: f, pos: i}
		if m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				it.seq, it.has = n, true
			}
		}
		items[i] = it
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].has && items[j].has {
			return items[i].seq < items[j].seq
		}
		if items[i].has != items[j].has {
			return items[i].has // sequenced files sort before unsequenced ones
		}
		return items[i].pos < items[j].pos
	})
	out := make([]InputFile, len(items))
	for i, it := range items {
		out[i] = it.file
	}
	return out
}

func filepathExt(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

// sectionMarkers recognizes the medical section headers this merger knows
// how to deduplicate across page boundaries.
var sectionMarkers = []string{
	"patient", "patienteninformation", "befund", "diagnose", "diagnosis",
	"laborwerte", "lab values", "medikation", "medication", "anamnese",
}

// mergeMedical concatenates per-page text, dropping a page's leading
// section header when it repeats the previous page's trailing header —
// the common case of a multi-page scan re-printing "Patient:" /
// "Diagnose:" banners on every sheet.
func mergeMedical(pages []pageResult) Result {
	var sb strings.Builder
	var lastHeader string
	var issues, suggestions []string
	var minConfidence = 1.0
	var engineUsed domain.OCREngine
	metadata := map[string]interface{}{"pages": len(pages)}

	for i, p := range pages {
		lines := strings.Split(strings.TrimSpace(p.text), "\n")
		if len(lines) > 0 {
			header := normalizeHeader(lines[0])
			if i > 0 && header != "" && header == lastHeader && isKnownSection(header) {
				lines = lines[1:]
			}
			if len(lines) > 0 {
				lastHeader = normalizeHeader(lines[len(lines)-1])
			}
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.Join(lines, "\n"))

		issues = append(issues, p.issues...)
		suggestions = append(suggestions, p.suggestions...)
		if p.confidence < minConfidence {
			minConfidence = p.confidence
		}
		engineUsed = p.engine
	}

	return Result{
		Text:          strings.TrimSpace(sb.String()),
		Confidence:    minConfidence,
		EngineUsed:    engineUsed,
		QualityIssues: dedupeStrings(issues),
		Suggestions:   dedupeStrings(suggestions),
		Metadata:      metadata,
	}
}

func normalizeHeader(line string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ":")))
}

func isKnownSection(header string) bool {
	for _, marker := range sectionMarkers {
		if strings.Contains(header, marker) {
			return true
		}
	}
	return false
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
