// Package extract isolates executable automation code from free-form AI output.
//
// AI responses mix commentary, markdown and code with no fixed grammar, so
// extraction is a list of heuristics tried in order of confidence. Extract
// never fails: an empty string means nothing usable was found.
package extract

import (
	"regexp"
	"strings"
)

// RequiredMarker is the first line every generated script is asked to start with.
const RequiredMarker = "# Configuración"

// Minimum sizes used by the heuristics.
const (
	minMarkerSliceLen = 100
	minFilteredLen    = 100
	minCodeLen        = 50
	minIndicators     = 3
	minTrustedFileLen = 100
)

var (
	pythonFenceRe  = regexp.MustCompile("(?s)```python\\s*\\n(.*?)```")
	genericFenceRe = regexp.MustCompile("(?s)```[\\w+-]*[ \\t]*\\n(.*?)```")

	shebangRe   = regexp.MustCompile(`^#!.*\n`)
	generatedRe = regexp.MustCompile(`^# Generated.*\n`)

	// Unindented Python lines that the line filter would not recognise.
	statementRe = regexp.MustCompile(`^(?:(?:def|class|try|except|finally|with|for|while|if|elif|else|return|raise|pass|break|continue|async|await|global|assert|del)\b|@|[)\]}]|[\w.]+\(.*\)$)`)
)

// Substrings that mark a fenced block or a whole response as code.
var strongSignals = []string{"import ", "driver.", "print(", "time.sleep", "# Config"}

// Explanatory sections that follow the code in a marker-led response.
var endMarkers = []string{
	"\n\n## ",
	"\n\n### ",
	"\n\n**",
	"\n\nEste código",
	"\n\nEl código",
	"\n\nThis code",
	"\n\nNota:",
	"\n\nNote:",
	"\n\nRecomendaciones",
	"\n\nHallazgos",
}

// Lines containing any of these are prose, not code.
var skipPhrases = []string{
	"entendido", "voy a generar", "aquí está", "código generado",
	"código python generado", "he ejecutado", "a continuación",
	"test de qa", "resultado del test", "hallazgos", "recomendaciones",
	"##", "**", "prioridad", "evidencia",
	"understood", "here is", "i will generate", "i have executed", "generated code",
}

var codeIndicators = []string{
	"import ", "from ", "def ", "class ", "=", "print(",
	"driver.", "By.", "time.sleep(", "WebDriverWait",
}

// A first line containing one of these means the text opens with chatter.
var conversationalOpeners = []string{
	"entendido", "voy a", "aquí está", "generado", "he ejecutado",
	"understood", "here is", "i will", "generated",
}

// Automation keywords a downloaded file must mention to be trusted.
var automationKeywords = []string{"driver", "selenium", "print(", "time.sleep"}

// Extract returns the executable payload of raw, or "" when none is found.
func Extract(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	// 1. ```python fence
	if m := pythonFenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}

	// 2. any fence carrying a code signal
	for _, m := range genericFenceRe.FindAllStringSubmatch(raw, -1) {
		candidate := strings.TrimSpace(m[1])
		if containsAny(candidate, strongSignals) {
			return candidate
		}
	}

	// Output of a previous extraction passes through unchanged.
	if isCleanPayload(raw) {
		return strings.TrimSpace(raw)
	}

	// 3. required marker up to the first explanatory section
	if code := sliceFromMarker(raw); len(code) > minMarkerSliceLen {
		return code
	}

	// 4. keep code-shaped lines only
	if code := filterLines(raw); len(code) > minFilteredLen && LooksLikeCode(code) {
		return code
	}

	// 5. whole text if it still smells like code
	if containsAny(raw, strongSignals) {
		return raw
	}

	return ""
}

// LooksLikeCode reports whether text has at least three distinct code
// indicators and does not open with conversational prose.
func LooksLikeCode(text string) bool {
	if len(text) < minCodeLen {
		return false
	}

	count := 0
	for _, ind := range codeIndicators {
		if strings.Contains(text, ind) {
			count++
		}
	}
	if count < minIndicators {
		return false
	}

	firstLine, _, _ := strings.Cut(text, "\n")
	return !containsAny(strings.ToLower(strings.TrimSpace(firstLine)), conversationalOpeners)
}

// CleanDownloaded strips a leading shebang and "# Generated" banner from a
// generated file.
func CleanDownloaded(code string) string {
	code = shebangRe.ReplaceAllString(code, "")
	code = generatedRe.ReplaceAllString(code, "")
	return strings.TrimLeft(code, " \t\r\n")
}

// Trusted reports whether cleaned file content is plausible automation code.
func Trusted(code string) bool {
	return len(code) > minTrustedFileLen && containsAny(code, automationKeywords)
}

func sliceFromMarker(text string) string {
	idx := strings.Index(text, RequiredMarker)
	if idx < 0 {
		return ""
	}
	section := text[idx:]

	end := len(section)
	for _, marker := range endMarkers {
		if i := strings.Index(section, marker); i >= 0 && i < end {
			end = i
		}
	}
	return strings.TrimSpace(section[:end])
}

func filterLines(text string) string {
	var kept []string
	lines := strings.Split(text, "\n")
	quoted := tripleQuoted(lines)
	for i, line := range lines {
		if quoted[i] {
			kept = append(kept, line)
			continue
		}
		trimmed := strings.TrimSpace(line)
		if containsAny(strings.ToLower(trimmed), skipPhrases) {
			continue
		}
		if isCodeLine(line, trimmed) {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isCodeLine(line, trimmed string) bool {
	switch {
	case strings.HasPrefix(trimmed, "#"),
		strings.HasPrefix(trimmed, "import "),
		strings.HasPrefix(trimmed, "from "),
		strings.Contains(line, "=") && !strings.HasPrefix(trimmed, "="),
		strings.Contains(line, "driver."),
		strings.Contains(line, "print("),
		strings.Contains(line, "time.sleep("),
		strings.HasPrefix(line, "    "),
		strings.HasPrefix(line, "\t"):
		return true
	}
	return false
}

// isCleanPayload reports whether text is already bare code: no fences, no
// explanatory sections and every line shaped like source.
func isCleanPayload(text string) bool {
	if strings.Contains(text, "```") || containsAny(text, endMarkers) {
		return false
	}
	trimmed := strings.TrimSpace(text)
	if !LooksLikeCode(trimmed) {
		return false
	}
	lines := strings.Split(trimmed, "\n")
	quoted := tripleQuoted(lines)
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" || quoted[i] || isCodeLine(line, t) || statementRe.MatchString(t) {
			continue
		}
		return false
	}
	return true
}

// tripleQuoted marks the lines that open, close or sit inside a """ or '''
// string literal. Their content is data and is never classified.
func tripleQuoted(lines []string) []bool {
	marks := make([]bool, len(lines))
	open := ""
	for i, line := range lines {
		if open != "" {
			marks[i] = true
		}
		rest := line
		for {
			if open == "" {
				j, delim := nextTripleQuote(rest)
				if j < 0 {
					break
				}
				open, marks[i] = delim, true
				rest = rest[j+3:]
				continue
			}
			j := strings.Index(rest, open)
			if j < 0 {
				break
			}
			open = ""
			rest = rest[j+3:]
		}
	}
	return marks
}

func nextTripleQuote(s string) (int, string) {
	d := strings.Index(s, `"""`)
	q := strings.Index(s, `'''`)
	switch {
	case d < 0 && q < 0:
		return -1, ""
	case q < 0 || (d >= 0 && d < q):
		return d, `"""`
	default:
		return q, `'''`
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
