package metadata

import (
	"regexp"
	"sort"
	"strings"

	"maildossier/gmail"
	"maildossier/models"
)

// SplitStrategy guesses the word boundaries of a lower-case domain label.
// It returns the label unchanged (as a single element) when it finds none.
//
// Splitting a run-together domain is guesswork: strategies are expected to
// be wrong on some inputs, and are swappable for that reason.
type SplitStrategy func(word string) []string

const unknownCompany = "Unknown"

var (
	camelPattern     = regexp.MustCompile(`([a-z])([A-Z])`)
	domainSeparators = regexp.MustCompile(`[-_.]`)
	hostPrefixes     = []string{"www.", "mail.", "smtp.", "pop.", "imap."}
)

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

// LetterPatternSplit splits a word in two at the vowel/consonant boundary
// closest to its middle. Words of four letters or fewer are never split.
func LetterPatternSplit(word string) []string {
	w := []rune(word)
	n := len(w)
	if n <= 4 {
		return []string{word}
	}

	var breaks []int

	// vowel, consonant, vowel: "hal|al"
	for i := 1; i < n-1; i++ {
		if isVowel(w[i-1]) && !isVowel(w[i]) && isVowel(w[i+1]) {
			breaks = append(breaks, i)
		}
	}
	// doubled consonant: "ap|ple"
	for i := 1; i < n-1; i++ {
		if w[i-1] == w[i] && !isVowel(w[i]) {
			breaks = append(breaks, i)
		}
	}
	// consonant cluster before a vowel: "s|tro"
	for i := 2; i < n-1; i++ {
		if !isVowel(w[i-2]) && !isVowel(w[i-1]) && isVowel(w[i]) {
			breaks = append(breaks, i-1)
		}
	}
	// suffix boundary near the end
	if n > 6 {
		for i := n - 4; i < n-1; i++ {
			if i > 2 && !isVowel(w[i-1]) && isVowel(w[i]) {
				breaks = append(breaks, i)
			}
		}
	}

	if len(breaks) > 0 {
		half := n / 2
		best := breaks[0]
		for _, b := range breaks[1:] {
			if abs(b-half) < abs(best-half) {
				best = b
			}
		}
		return []string{string(w[:best]), string(w[best:])}
	}

	if n > 8 {
		mid := n / 2
		for offset := 1; offset < 3; offset++ {
			for _, pos := range []int{mid - offset, mid + offset} {
				if pos > 0 && pos < n-1 && isVowel(w[pos-1]) && !isVowel(w[pos]) {
					return []string{string(w[:pos]), string(w[pos:])}
				}
			}
		}
	}
	return []string{word}
}

// NoSplit keeps every label whole
func NoSplit(word string) []string {
	return []string{word}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Normalizer turns domains into readable company names
type Normalizer struct {
	split SplitStrategy
}

// NewNormalizer creates a normalizer; a nil strategy means LetterPatternSplit
func NewNormalizer(split SplitStrategy) *Normalizer {
	if split == nil {
		split = LetterPatternSplit
	}
	return &Normalizer{split: split}
}

// DefaultNormalizer uses LetterPatternSplit
var DefaultNormalizer = NewNormalizer(LetterPatternSplit)

func capitalizeAll(words []string) string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = capitalize(w)
	}
	return strings.Join(out, " ")
}

// CompanyName renders one domain label as a company name, e.g.
// "thehalalshack" as "The Halals Hack". The result is never empty.
func (n *Normalizer) CompanyName(label string) string {
	if label == "" {
		return unknownCompany
	}

	lower := strings.ToLower(label)
	var name string
	switch {
	case strings.HasPrefix(lower, "the") && len(lower) > 3:
		rest := lower[3:]
		words := n.split(rest)
		if len(words) > 1 {
			name = "The " + capitalizeAll(words)
		} else {
			name = "The " + capitalize(rest)
		}
	case camelPattern.MatchString(label):
		name = camelPattern.ReplaceAllString(label, "$1 $2")
	case len(lower) > 6:
		words := n.split(lower)
		if len(words) > 1 {
			name = capitalizeAll(words)
		} else {
			name = capitalize(lower)
		}
	default:
		name = capitalize(lower)
	}

	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	name = title(name)
	if strings.TrimSpace(name) == "" {
		return unknownCompany
	}
	return name
}

// ClientName converts a domain without its TLD ("mail.acme-corp") into a
// client name ("Acme Corp")
func (n *Normalizer) ClientName(domain string) string {
	if domain == "" {
		return models.UnknownClient
	}

	clean := strings.ToLower(domain)
	for _, prefix := range hostPrefixes {
		clean = strings.TrimPrefix(clean, prefix)
	}

	var out []string
	for _, part := range domainSeparators.Split(clean, -1) {
		if part == "" {
			continue
		}
		if part == "the" && len(out) == 0 {
			out = append(out, "The")
			continue
		}
		out = append(out, n.CompanyName(part))
	}
	if len(out) == 0 {
		return models.UnknownClient
	}
	return strings.Join(out, " ")
}

// ClientNamesFromMessages infers client names from the From/To domains of
// the first two messages. The owner's own domain is dropped. Returns
// ["Unknown Client"] when nothing remains.
func (n *Normalizer) ClientNamesFromMessages(messages []gmail.Message, owner string) []string {
	if len(messages) > 2 {
		messages = messages[:2]
	}

	domains := map[string]struct{}{}
	for i := range messages {
		for _, h := range messages[i].Headers {
			name := strings.ToLower(h.Name)
			if name != "from" && name != "to" {
				continue
			}
			for _, entry := range strings.Split(h.Value, ",") {
				email, _, ok := ParseAddress(entry)
				if !ok {
					continue
				}
				labels := strings.Split(email[strings.LastIndex(email, "@")+1:], ".")
				if len(labels) < 2 {
					continue
				}
				domains[strings.Join(labels[:len(labels)-1], ".")] = struct{}{}
			}
		}
	}

	if owner = strings.ToLower(owner); strings.Contains(owner, "@") {
		ownerDomain := owner[strings.LastIndex(owner, "@")+1:]
		delete(domains, strings.SplitN(ownerDomain, ".", 2)[0])
	}

	sorted := make([]string, 0, len(domains))
	for d := range domains {
		sorted = append(sorted, d)
	}
	sort.Strings(sorted)

	names := make([]string, 0, len(sorted))
	for _, d := range sorted {
		names = append(names, n.ClientName(d))
	}
	if len(names) == 0 {
		return []string{models.UnknownClient}
	}
	return names
}

// CompaniesLine summarises the companies behind the From/To/Cc addresses of
// messages, as a one-line hint for model prompts
func (n *Normalizer) CompaniesLine(messages []gmail.Message) string {
	const prefix = "Email Participants' Companies (from metadata): "

	companies := map[string]struct{}{}
	for i := range messages {
		for _, h := range messages[i].Headers {
			switch strings.ToLower(h.Name) {
			case "from", "to", "cc":
			default:
				continue
			}
			for _, entry := range strings.Split(h.Value, ",") {
				email, _, ok := ParseAddress(entry)
				if !ok {
					continue
				}
				base := strings.SplitN(email[strings.LastIndex(email, "@")+1:], ".", 2)[0]
				if base == "" {
					continue
				}
				companies[n.CompanyName(base)] = struct{}{}
			}
		}
	}

	if len(companies) == 0 {
		return prefix + unknownCompany
	}
	names := make([]string, 0, len(companies))
	for c := range companies {
		names = append(names, c)
	}
	sort.Strings(names)
	return prefix + strings.Join(names, ", ")
}
