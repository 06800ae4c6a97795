package dossier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maildossier/llm"
	"maildossier/metadata"
	"maildossier/models"
	"maildossier/utils"
)

// ErrNoThreads is returned when none of the requested threads could be read
var ErrNoThreads = errors.New("no threads could be fetched")

func (s *Service) process(ctx context.Context, mb Mailbox, ids []string) (*metadata.Result, error) {
	res, err := s.processor(mb).Process(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(res.Threads) == 0 {
		return nil, ErrNoThreads
	}
	return res, nil
}

// AnalyzeThread produces the sectioned report of one thread. The client
// name derived from the participants' domains wins over the model's guess.
func (s *Service) AnalyzeThread(ctx context.Context, mb Mailbox, threadID string) (*models.ThreadAnalysis, error) {
	res, err := s.process(ctx, mb, []string{threadID})
	if err != nil {
		return nil, fmt.Errorf("thread %s: %w", threadID, err)
	}
	meta := res.Threads[0]

	prompt := llm.ThreadAnalysisPrompt(meta.Subject, strings.Join(meta.ContentSnippets, "\n"))
	output, err := llm.Ask(ctx, s.analyst, llm.AnalystRole, prompt)
	if err != nil {
		return nil, fmt.Errorf("analyze thread %s: %w", threadID, err)
	}

	product := llm.ParseProductInfo(output)
	domainNames := s.normalizer.ClientNamesFromMessages(res.Messages, mb.Owner)
	structured := llm.StructureAnalysisOutput(output)
	structured.ClientName = preferDomainClient(domainNames, structured.ClientName)

	utils.Log.WithField("thread_id", threadID).Info("Analyzed thread %q, client %q", meta.Subject, structured.ClientName)

	return &models.ThreadAnalysis{
		Analysis:               output,
		StructuredAnalysis:     structured,
		ProductName:            product.ProductName,
		ProductDomain:          product.ProductDomain,
		ThreadMetadata:         meta,
		DomainBasedClientNames: domainNames,
		AvailableClientNames:   domainNames,
	}, nil
}

// AnalyzeThreads groups several threads by topic with one model call
func (s *Service) AnalyzeThreads(ctx context.Context, mb Mailbox, ids []string) (*models.MultiThreadAnalysis, error) {
	res, err := s.process(ctx, mb, ids)
	if err != nil {
		return nil, err
	}

	prompt := llm.GroupedAnalysisPrompt(len(res.Threads), res.AllSubjects, strings.Join(res.AllContent, "\n\n"))
	output, err := llm.Ask(ctx, s.analyst, llm.AnalystRole, prompt)
	if err != nil {
		return nil, fmt.Errorf("analyze %d threads: %w", len(res.Threads), err)
	}

	structured := llm.StructureAnalysisOutput(output)
	product := productInfo(structured, output)

	domainNames := s.normalizer.ClientNamesFromMessages(res.Messages, mb.Owner)
	structured.ClientName = preferDomainClient(domainNames, structured.ClientName)

	utils.Log.Info("Analyzed %d threads into %d groups, client %q",
		len(res.Threads), len(structured.Groups), structured.ClientName)

	return &models.MultiThreadAnalysis{
		Analysis:             output,
		StructuredAnalysis:   structured,
		ProductName:          product.ProductName,
		ProductDomain:        product.ProductDomain,
		ThreadCount:          len(res.Threads),
		CombinedMetadata:     res.CombinedMetadata,
		AvailableClientNames: domainNames,
		RelevancyAnalysis:    res.RelevancyAnalysis,
	}, nil
}

// productInfo takes the first product of grouped output and falls back to
// the "Product Name:" lines of the raw text for whatever is still unknown
func productInfo(structured *models.StructuredAnalysis, output string) llm.ProductInfo {
	info := llm.ProductInfo{ProductName: structured.ProductName, ProductDomain: structured.ProductDomain}
	fallback := llm.ParseProductInfo(output)
	if info.ProductName == "" || info.ProductName == models.UnknownProduct {
		info.ProductName = fallback.ProductName
	}
	if info.ProductDomain == "" || info.ProductDomain == models.GeneralProduct {
		info.ProductDomain = fallback.ProductDomain
	}
	return info
}

// ProcessMetadata extracts participants, dates and relevancy without any
// model call
func (s *Service) ProcessMetadata(ctx context.Context, mb Mailbox, ids []string) (*models.MetadataReport, error) {
	res, err := s.process(ctx, mb, ids)
	if err != nil {
		return nil, err
	}

	return &models.MetadataReport{
		ThreadCount:          len(res.Threads),
		CombinedMetadata:     res.CombinedMetadata,
		AvailableClientNames: s.normalizer.ClientNamesFromMessages(res.Messages, mb.Owner),
		ProductName:          models.UnknownProduct,
		ProductDomain:        models.GeneralProduct,
		ProcessedThreadIDs:   res.Processed,
		ParticipantStats:     res.ParticipantStats,
		RelevancyAnalysis:    res.RelevancyAnalysis,
	}, nil
}
