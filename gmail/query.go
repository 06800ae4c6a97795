package gmail

import (
	"strings"
	"time"
)

// searchDateLayout is the date format of Gmail's after:/before: operators
const searchDateLayout = "2006/01/02"

// SearchParams are the user's thread search filters. Dates use YYYY/MM/DD.
type SearchParams struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Keyword   string `json:"keyword"`
	FromEmail string `json:"from_email"`
	Query     string `json:"query"`
	DeepScan  bool   `json:"deep_scan"`
}

// dateParts returns the after:/before:/from: operators. The end date is
// inclusive, so before: is moved one day forward.
func (p SearchParams) dateParts() []string {
	var parts []string
	if p.StartDate != "" {
		parts = append(parts, "after:"+p.StartDate)
	}
	if p.EndDate != "" {
		end := p.EndDate
		if t, err := time.Parse(searchDateLayout, p.EndDate); err == nil {
			end = t.AddDate(0, 0, 1).Format(searchDateLayout)
		}
		parts = append(parts, "before:"+end)
	}
	if p.FromEmail != "" {
		parts = append(parts, "from:"+p.FromEmail)
	}
	return parts
}

// BuildSearchQuery assembles the Gmail q parameter. With strict set the
// keyword is used as typed (quoted when it is a phrase); otherwise it is
// expanded into an OR group over common header and domain forms.
func BuildSearchQuery(p SearchParams, strict bool) string {
	parts := p.dateParts()

	if kw := strings.TrimSpace(p.Keyword); kw != "" {
		if strict {
			if strings.Contains(kw, " ") {
				parts = append(parts, `"`+kw+`"`)
			} else {
				parts = append(parts, kw)
			}
		} else if group := keywordGroup(kw); group != "" {
			parts = append(parts, group)
		}
	}

	if p.Query != "" {
		parts = append(parts, p.Query)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// BroadQuery keeps the date window, sender and extra query but drops the
// keyword, so deep scans see threads the keyword search missed
func BroadQuery(p SearchParams, inAnywhere bool) string {
	parts := p.dateParts()
	if p.Query != "" {
		parts = append(parts, p.Query)
	}
	if inAnywhere {
		parts = append(parts, "in:anywhere")
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// IncludeSpamTrash reports whether q explicitly reaches into spam or trash
func IncludeSpamTrash(q string) bool {
	lower := strings.ToLower(q)
	for _, token := range []string{"in:anywhere", "in:spam", "in:trash"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// KeywordVariants returns kw plus its punctuation-free forms, deduplicated
// case-insensitively
func KeywordVariants(kw string) []string {
	variants := []string{kw}
	compact := strings.NewReplacer("-", " ", "_", " ", "+", " ", ".", " ").Replace(kw)
	collapsed := strings.ReplaceAll(compact, " ", "")
	for _, v := range []string{compact, collapsed} {
		if v != "" && !containsFold(variants, v) {
			variants = append(variants, v)
		}
	}
	return variants
}

func keywordGroup(kw string) string {
	var terms []string
	for _, v := range KeywordVariants(kw) {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		terms = append(terms, v)
		if strings.Contains(v, " ") {
			terms = append(terms, `"`+v+`"`)
		}
		terms = append(terms, "subject:"+v, "from:"+v, "to:"+v, "cc:"+v)
		if !strings.HasPrefix(v, "@") {
			terms = append(terms, "@"+v)
		}
		terms = append(terms,
			v+".com",
			"@"+v+".com",
			v+"technologies",
			v+"technologies.com",
			"@"+v+"technologies.com",
			"list:"+v+".com",
		)
	}

	seen := make(map[string]bool, len(terms))
	deduped := terms[:0]
	for _, t := range terms {
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, t)
	}
	if len(deduped) == 0 {
		return ""
	}
	return "(" + strings.Join(deduped, " OR ") + ")"
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
