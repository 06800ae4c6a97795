package dossier

import (
	"context"
	"time"

	"maildossier/config"
	"maildossier/gmail"
	"maildossier/llm"
	"maildossier/metadata"
	"maildossier/models"
)

// ThreadLister runs a mailbox search and returns thread ids
type ThreadLister interface {
	ListThreads(ctx context.Context, query string, includeSpamTrash bool, limit int) ([]string, error)
}

// Mailbox is one user's view of their mail for the length of a request
type Mailbox struct {
	Owner    string
	Source   gmail.Source
	Lister   ThreadLister
	Progress metadata.ProgressFunc
}

// Store persists generated dossiers
type Store interface {
	Save(d *models.Dossier) error
}

// Service runs analyses and generates dossiers
type Service struct {
	analyst    llm.Completer
	research   llm.Completer
	store      Store
	weights    metadata.Weights
	normalizer *metadata.Normalizer
	search     config.SearchConfig
	now        func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithStore persists every generated dossier
func WithStore(st Store) Option {
	return func(s *Service) { s.store = st }
}

// WithWeights sets the relevancy weights used for batches
func WithWeights(w metadata.Weights) Option {
	return func(s *Service) { s.weights = w }
}

// WithNormalizer replaces the domain normalizer
func WithNormalizer(n *metadata.Normalizer) Option {
	return func(s *Service) { s.normalizer = n }
}

// WithSearch sets the search limits and switches
func WithSearch(c config.SearchConfig) Option {
	return func(s *Service) { s.search = c }
}

// NewService creates a service. analyst answers the analysis prompts,
// research backs client dossiers.
func NewService(analyst, research llm.Completer, opts ...Option) *Service {
	s := &Service{
		analyst:    analyst,
		research:   research,
		weights:    metadata.DefaultWeights(),
		normalizer: metadata.DefaultNormalizer,
		search:     config.Default().Search,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromConfig wires the configured backends
func NewServiceFromConfig(cfg *config.Config, opts ...Option) *Service {
	base := []Option{
		WithWeights(metadata.WeightsFromConfig(cfg.Relevancy)),
		WithSearch(cfg.Search),
	}
	return NewService(llm.AzureFromConfig(cfg), llm.PerplexityFromConfig(cfg), append(base, opts...)...)
}

func (s *Service) processor(mb Mailbox) *metadata.Processor {
	return metadata.NewProcessor(mb.Source, mb.Owner,
		metadata.WithAnalyzer(metadata.NewAnalyzer(s.weights)),
		metadata.WithNormalizer(s.normalizer),
		metadata.WithProgress(mb.Progress),
	)
}

// preferDomainClient returns the first domain-derived name unless it is unknown
func preferDomainClient(domainNames []string, llmName string) string {
	if len(domainNames) > 0 && !models.IsUnknownClient(domainNames[0]) {
		return domainNames[0]
	}
	return llmName
}

// Ask sends prompt to the analyst backend as is
func (s *Service) Ask(ctx context.Context, prompt string) (string, error) {
	return s.analyst.Complete(ctx, prompt)
}
