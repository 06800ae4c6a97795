package metadata

import (
	"regexp"
	"strings"

	"maildossier/config"
	"maildossier/models"
	"maildossier/utils"
)

// nearThreshold is the combined score above which pair components are logged
const nearThreshold = 0.4

var (
	contentWordPattern = regexp.MustCompile(`\b[a-z]{3,}\b`)
	subjectWordPattern = regexp.MustCompile(`\b[a-z]{2,}\b`)
	subjectPrefixes    = []string{"re:", "fw:", "fwd:", "fw:", "fwd:"}
)

var stopWords = func() map[string]struct{} {
	words := strings.Fields(`the and or but in on at to for of with by from up
		about into through during before after above below between among within
		without this that these those i you he she it we they me him her us them
		my your his its our their mine yours hers ours theirs is are was were be
		been being have has had do does did will would could should may might can
		must shall am pm yes no not very just now then here there when where why
		how all any both each few more most other some such only own same so than
		too also around away back down even ever far forward further however
		indeed instead later least maybe meanwhile moreover much near never next
		often once perhaps quite rather really since soon still though thus
		together under until well whether while yet`)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()

// Weights tune the pair score:
//
//	combined = P*participant + (1-P)*(C*content + S*subject)
//
// and the minimum combined score for two threads to be related.
type Weights struct {
	Participant float64
	Content     float64
	Subject     float64
	Threshold   float64
}

// DefaultWeights are 0.6 / 0.7 / 0.3 with a 0.5 threshold
func DefaultWeights() Weights {
	return Weights{Participant: 0.6, Content: 0.7, Subject: 0.3, Threshold: 0.5}
}

// WeightsFromConfig reads the [relevancy] section
func WeightsFromConfig(cfg config.RelevancyConfig) Weights {
	return Weights{
		Participant: cfg.ParticipantWeight,
		Content:     cfg.ContentWeight,
		Subject:     cfg.SubjectWeight,
		Threshold:   cfg.Threshold,
	}
}

// ParticipantOverlap is the Jaccard similarity of the two address sets
func ParticipantOverlap(a, b models.ParticipantMap) float64 {
	return jaccard(emailSet(a), emailSet(b))
}

func emailSet(m models.ParticipantMap) map[string]struct{} {
	set := make(map[string]struct{}, len(m))
	for _, p := range m {
		if p == nil || p.Email == "" {
			continue
		}
		set[strings.ToLower(p.Email)] = struct{}{}
	}
	return set
}

// ContentSimilarity is the Jaccard similarity of the meaningful words
// (three letters or more, stop words removed) of two snippet lists
func ContentSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return jaccard(contentWords(a), contentWords(b))
}

func contentWords(snippets []string) map[string]struct{} {
	words := wordSet(contentWordPattern, strings.ToLower(strings.Join(snippets, " ")))
	for w := range words {
		if _, stop := stopWords[w]; stop {
			delete(words, w)
		}
	}
	return words
}

// SubjectSimilarity is the Jaccard similarity of subject words once
// reply/forward prefixes are removed
func SubjectSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return jaccard(subjectWords(a), subjectWords(b))
}

func subjectWords(subject string) map[string]struct{} {
	s := strings.TrimSpace(strings.ToLower(subject))
	for _, prefix := range subjectPrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}
	return wordSet(subjectWordPattern, s)
}

// Analyzer groups threads that share participants and vocabulary
type Analyzer struct {
	weights Weights
}

// NewAnalyzer creates an analyzer with the given weights
func NewAnalyzer(w Weights) *Analyzer {
	return &Analyzer{weights: w}
}

// Score computes every component for one pair. The result does not depend
// on argument order.
func (a *Analyzer) Score(t1, t2 *models.ThreadMetadata) models.PairScore {
	s := models.PairScore{
		Participant: ParticipantOverlap(t1.Participants, t2.Participants),
		Content:     ContentSimilarity(t1.ContentSnippets, t2.ContentSnippets),
		Subject:     SubjectSimilarity(t1.Subject, t2.Subject),
	}
	w := a.weights
	s.Combined = w.Participant*s.Participant + (1-w.Participant)*(w.Content*s.Content+w.Subject*s.Subject)
	return s
}

// Analyze scores every pair once and splits the batch into groups of
// transitively related threads and the threads related to nothing.
// Fewer than two threads form a single trivial group.
func (a *Analyzer) Analyze(threads []*models.ThreadMetadata) *models.RelevancyAnalysis {
	result := &models.RelevancyAnalysis{
		RelevantGroups:    [][]*models.ThreadMetadata{},
		IrrelevantThreads: []*models.ThreadMetadata{},
		RelevancyMatrix:   models.NewRelevancyMatrix(),
	}
	if len(threads) < 2 {
		if len(threads) == 1 {
			result.RelevantGroups = append(result.RelevantGroups, threads)
		}
		return result
	}

	for i := 0; i < len(threads); i++ {
		for j := i + 1; j < len(threads); j++ {
			t1, t2 := threads[i], threads[j]
			s := a.Score(t1, t2)
			result.RelevancyMatrix.Set(t1.ThreadID, t2.ThreadID, s)

			if s.Combined >= nearThreshold {
				utils.Log.Debug("Relevancy %q vs %q: participant=%.2f, content=%.2f, subject=%.2f, total=%.2f",
					truncate(t1.Subject, 30), truncate(t2.Subject, 30),
					s.Participant, s.Content, s.Subject, s.Combined)
			}
		}
	}

	result.RelevantGroups, result.IrrelevantThreads = a.group(threads, result.RelevancyMatrix)

	utils.Log.Info("Relevancy grouping: %d threads, %d groups, %d irrelevant (threshold %.2f)",
		len(threads), len(result.RelevantGroups), len(result.IrrelevantThreads), a.weights.Threshold)
	return result
}

func (a *Analyzer) group(threads []*models.ThreadMetadata, matrix *models.RelevancyMatrix) ([][]*models.ThreadMetadata, []*models.ThreadMetadata) {
	threshold := a.weights.Threshold

	// adjacency lists keep input order so traversal is deterministic
	adj := map[string][]string{}
	byID := make(map[string]*models.ThreadMetadata, len(threads))
	for i, t1 := range threads {
		if _, seen := byID[t1.ThreadID]; !seen {
			byID[t1.ThreadID] = t1
		}
		for _, t2 := range threads[i+1:] {
			if score, ok := matrix.Score(t1.ThreadID, t2.ThreadID); ok && score >= threshold {
				adj[t1.ThreadID] = append(adj[t1.ThreadID], t2.ThreadID)
				adj[t2.ThreadID] = append(adj[t2.ThreadID], t1.ThreadID)
			}
		}
	}

	visited := map[string]bool{}
	var visit func(id string, group *[]*models.ThreadMetadata)
	visit = func(id string, group *[]*models.ThreadMetadata) {
		if visited[id] {
			return
		}
		visited[id] = true
		if t, ok := byID[id]; ok {
			*group = append(*group, t)
		}
		for _, next := range adj[id] {
			visit(next, group)
		}
	}

	groups := [][]*models.ThreadMetadata{}
	grouped := map[string]bool{}
	for _, t := range threads {
		if visited[t.ThreadID] {
			continue
		}
		var group []*models.ThreadMetadata
		visit(t.ThreadID, &group)
		if len(group) > 1 {
			groups = append(groups, group)
			for _, g := range group {
				grouped[g.ThreadID] = true
			}
		}
	}

	// A connected thread left outside every group joins the group holding
	// its best partner, if that edge still clears the threshold.
	for _, t := range threads {
		if grouped[t.ThreadID] || len(adj[t.ThreadID]) == 0 {
			continue
		}
		best, bestScore := -1, 0.0
		for gi, group := range groups {
			for _, member := range group {
				score, _ := matrix.Score(t.ThreadID, member.ThreadID)
				if score > bestScore {
					best, bestScore = gi, score
				}
			}
		}
		if best >= 0 && bestScore >= threshold {
			groups[best] = append(groups[best], t)
			grouped[t.ThreadID] = true
			utils.Log.Debug("Attached %q to group %d with score %.3f", truncate(t.Subject, 30), best+1, bestScore)
		} else {
			utils.Log.Debug("Could not group %q (best score %.3f)", truncate(t.Subject, 30), bestScore)
		}
	}

	irrelevant := []*models.ThreadMetadata{}
	for _, t := range threads {
		if !grouped[t.ThreadID] {
			irrelevant = append(irrelevant, t)
		}
	}
	return groups, irrelevant
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
