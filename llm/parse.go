package llm

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/goccy/go-json"

	"maildossier/models"
	"maildossier/utils"
)

var (
	productNamePattern   = regexp.MustCompile(`(?m)Product Name:\s*\**(.+?)\**\s*$`)
	productDomainPattern = regexp.MustCompile(`(?m)Product Domain:\s*\**(.+?)\**\s*$`)
	nextHeaderPattern    = regexp.MustCompile(`(?i)\n\s*\*\*[^\n]+?:\*\*`)
	bulletPattern        = regexp.MustCompile(`^(?:[-\*]\s+|\d+\.\x{00a0}?|\d+\.\s+)(.+)$`)
	emailPrefixPattern   = regexp.MustCompile(`(?i)^Email\s*\d+\s*:\s*`)
	fencedJSONPattern    = regexp.MustCompile("(?i)```json\\s*(\\{[\\s\\S]*?\\})\\s*```")

	parentheticalPattern = regexp.MustCompile(`\s*\([^)]*\)`)
	hedgePrefixPattern   = regexp.MustCompile(`(?i)^\s*(likely|probably|appears to be|seems to be)\s+`)
	explanationPattern   = regexp.MustCompile(`(?i)\s*(organization|company|corp|inc|ltd)?\s*;\s*.*$`)

	mdHeadingPattern = regexp.MustCompile(`(?m)^#+\s*`)
	mdBoldPattern    = regexp.MustCompile(`\*\*(.*?)\*\*`)
	mdItalicPattern  = regexp.MustCompile(`\*(.*?)\*`)

	reasoningPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)
)

// ProductInfo is the product named in a section-style analysis
type ProductInfo struct {
	ProductName   string `json:"product_name"`
	ProductDomain string `json:"product_domain"`
}

// ParseProductInfo reads the "Product Name:" and "Product Domain:" lines
func ParseProductInfo(text string) ProductInfo {
	info := ProductInfo{ProductName: models.UnknownProduct, ProductDomain: models.GeneralProduct}
	if m := productNamePattern.FindStringSubmatch(text); m != nil {
		info.ProductName = strings.TrimSpace(m[1])
	}
	if m := productDomainPattern.FindStringSubmatch(text); m != nil {
		info.ProductDomain = strings.TrimSpace(m[1])
	}
	return info
}

// ExtractSection returns the body of the first section titled by one of
// headers, up to the next bold "**Heading:**" line. Headers match with or
// without bold markers, case-insensitively.
func ExtractSection(text string, headers ...string) string {
	if text == "" || len(headers) == 0 {
		return ""
	}

	var alternatives []string
	for _, h := range headers {
		q := regexp.QuoteMeta(h)
		alternatives = append(alternatives,
			`(?:\*\*`+q+`\s*:\*\*)`,
			`(?:\*\*`+q+`\s*:\s*)`,
			`(?:`+q+`\s*:\s*)`,
		)
	}
	start := regexp.MustCompile(`(?i)` + strings.Join(alternatives, "|")).FindStringIndex(text)
	if start == nil {
		return ""
	}

	rest := text[start[1]:]
	if next := nextHeaderPattern.FindStringIndex(rest); next != nil {
		rest = rest[:next[0]]
	}
	return strings.TrimSpace(rest)
}

// ParseBullets turns a section body into items. Bullet and numbering
// markers are removed, as are "Email N:" prefixes; unbulleted lines are
// kept as they are.
func ParseBullets(section string) []string {
	items := []string{}
	if section == "" {
		return items
	}
	for _, raw := range strings.Split(section, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		item := line
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			item = strings.TrimSpace(m[1])
		}
		items = append(items, emailPrefixPattern.ReplaceAllString(item, ""))
	}
	return items
}

// CleanExtractedName drops the hedging a model adds around a name:
// "likely Acme (from the domain)" becomes "Acme"
func CleanExtractedName(name string) string {
	if name == "" {
		return name
	}
	name = parentheticalPattern.ReplaceAllString(name, "")
	name = hedgePrefixPattern.ReplaceAllString(name, "")
	name = explanationPattern.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), " ")
}

func extractField(text, label string) (string, bool) {
	re := regexp.MustCompile(`(?mi)` + regexp.QuoteMeta(label) + `:\s*\**(.+?)\**\s*$`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ClientNameFromText finds a "Client Name:" line in free text and cleans it
func ClientNameFromText(text string) string {
	name, ok := extractField(text, "Client Name")
	if !ok {
		return ""
	}
	return CleanExtractedName(name)
}

// StructureAnalysisOutput normalises model output. Grouped JSON (whole
// text, a ```json fence, or the outermost braces) is preferred; otherwise
// the markdown sections of the single-thread template are read.
func StructureAnalysisOutput(text string) *models.StructuredAnalysis {
	if obj := parseJSONObject(text); obj != nil {
		_, hasGroups := obj["groups"]
		_, hasSummary := obj["global_summary"]
		if hasGroups || hasSummary {
			return structureGrouped(obj)
		}
	}
	return structureSections(text)
}

func parseJSONObject(raw string) map[string]interface{} {
	try := func(s string) map[string]interface{} {
		var v interface{}
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil
		}
		obj, _ := v.(map[string]interface{})
		return obj
	}

	if obj := try(raw); obj != nil {
		return obj
	}
	if m := fencedJSONPattern.FindStringSubmatch(raw); m != nil {
		if obj := try(m[1]); obj != nil {
			return obj
		}
	}
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		return try(raw[start : end+1])
	}
	return nil
}

func structureGrouped(obj map[string]interface{}) *models.StructuredAnalysis {
	out := &models.StructuredAnalysis{Groups: []models.AnalysisGroup{}}

	groups, _ := obj["groups"].([]interface{})
	for _, raw := range groups {
		g, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		title := strings.TrimSpace(firstString(g, "title"))
		if title == "" {
			title = "Untitled Group"
		}
		out.Groups = append(out.Groups, models.AnalysisGroup{
			Title:           title,
			ThreadSubjects:  firstList(g, "thread_subjects", "threads"),
			EmailSummaries:  firstList(g, "email_summaries", "summaries"),
			MeetingAgenda:   firstList(g, "meeting_agenda", "agenda"),
			MeetingDateTime: firstList(g, "meeting_dates_times", "meeting_date_time"),
			FinalConclusion: firstString(g, "final_conclusion", "conclusion"),
			Products:        products(g["products"]),
		})
	}

	summary, _ := obj["global_summary"].(map[string]interface{})
	out.GlobalSummary = &models.GlobalSummary{
		FinalConclusion: firstString(summary, "final_conclusion", "conclusion"),
		Products:        products(summary["products"]),
	}

	out.ClientName = models.UnknownClient
	out.ProductName = models.UnknownProduct
	out.ProductDomain = models.GeneralProduct
	if all := out.Products(); len(all) > 0 {
		first := all[0]
		if first.ClientName != "" {
			out.ClientName = first.ClientName
		}
		if first.ProductName != "" {
			out.ProductName = first.ProductName
		}
		if first.ProductDomain != "" {
			out.ProductDomain = first.ProductDomain
		}
	}
	return out
}

func structureSections(text string) *models.StructuredAnalysis {
	summaries := ExtractSection(text, "Email Summaries")
	if summaries == "" {
		summaries = ExtractSection(text, "Combined Email Summaries")
	}

	out := &models.StructuredAnalysis{
		ThreadSubjects:  ParseBullets(ExtractSection(text, "Thread Subjects")),
		EmailSummaries:  ParseBullets(summaries),
		MeetingAgenda:   ParseBullets(ExtractSection(text, "Meeting Agenda", "Consolidated Meeting Agenda")),
		MeetingDateTime: ParseBullets(ExtractSection(text, "Meeting Date & Time", "Meeting Dates & Times")),
		FinalConclusion: ExtractSection(text, "Final Conclusion"),
		ClientName:      models.UnknownClient,
		ProductName:     models.UnknownProduct,
		ProductDomain:   models.GeneralProduct,
	}

	if v, ok := extractField(text, "Client Name"); ok {
		out.ClientName = CleanExtractedName(v)
	}
	if v, ok := extractField(text, "Product Name"); ok {
		out.ProductName = CleanExtractedName(v)
	}
	if v, ok := extractField(text, "Product Domain"); ok {
		out.ProductDomain = v
	}
	return out
}

// firstString returns the first non-empty string among keys
func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstList returns the first non-empty list among keys. A bare string is
// treated as a one-item list.
func firstList(obj map[string]interface{}, keys ...string) []string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case []interface{}:
			var items []string
			for _, item := range v {
				if s := stringify(item); s != "" {
					items = append(items, s)
				}
			}
			if len(items) > 0 {
				return items
			}
		case string:
			if v != "" {
				return []string{v}
			}
		}
	}
	return []string{}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func products(v interface{}) []models.Product {
	list, _ := v.([]interface{})
	out := []models.Product{}
	for _, item := range list {
		p, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, models.Product{
			ClientName:    firstString(p, "client_name"),
			ProductName:   firstString(p, "product_name"),
			ProductDomain: firstString(p, "product_domain"),
		})
	}
	return out
}

// CleanMarkdownFormatting strips heading and emphasis markers and
// title-cases short lines that read as headings
func CleanMarkdownFormatting(text string) string {
	text = mdHeadingPattern.ReplaceAllString(text, "")
	text = mdBoldPattern.ReplaceAllString(text, "$1")
	text = mdItalicPattern.ReplaceAllString(text, "$1")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "-") || strings.HasPrefix(stripped, "•") {
			continue
		}
		if first := []rune(stripped)[0]; !unicode.IsLetter(first) {
			continue
		}
		words := strings.Fields(stripped)
		if len(words) > 5 {
			continue
		}
		for j, w := range words {
			words[j] = capitalizeWord(w)
		}
		lines[i] = strings.Join(words, " ")
	}
	return strings.Join(lines, "\n")
}

func capitalizeWord(w string) string {
	r := []rune(strings.ToLower(w))
	if len(r) == 0 {
		return w
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// StripReasoning drops the <think> block reasoning models put before their
// answer, then any markup left in the text
func StripReasoning(text string) string {
	return strings.TrimSpace(utils.StripHTML(reasoningPattern.ReplaceAllString(text, "")))
}

// ParseAliases reads a one-alias-per-line answer, dropping list markers
func ParseAliases(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "-•*"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// AliasVariants combines base with its aliases and the hyphen/space
// spellings of each, deduplicated case-insensitively in first-seen order
func AliasVariants(base string, aliases []string) []string {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil
	}

	seen := map[string]bool{}
	var out []string
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			return
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}

	add(base)
	for _, a := range append(append([]string{}, aliases...), base) {
		if a == "" {
			continue
		}
		add(a)
		add(strings.ReplaceAll(a, "-", " "))
		add(strings.ReplaceAll(a, " ", ""))
		add(strings.ReplaceAll(a, " ", "-"))
	}
	return out
}
