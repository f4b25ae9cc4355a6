package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/meritpath/worker-service/internal/scholar"
	"github.com/meritpath/worker-service/internal/worker/domain"
	"github.com/meritpath/worker-service/internal/worker/storage"
)

// TopCitersLimit caps the citers included in a find_citers result
const TopCitersLimit = 10

// ScholarClient is the subset of the Semantic Scholar API the citation job needs
type ScholarClient interface {
	GetAuthor(ctx context.Context, authorID string) (*scholar.Author, error)
	GetAuthorPaperCount(ctx context.Context, authorID string) (int, error)
	GetPaper(ctx context.Context, paperID string) (*scholar.Paper, error)
}

// CitationStore persists the citation graph
type CitationStore interface {
	GetUserScholarID(ctx context.Context, userID string) (string, error)
	UpsertPaper(ctx context.Context, paper storage.Paper) (int64, error)
	LinkUserPaper(ctx context.Context, userID string, paperID int64) error
	UpsertCitation(ctx context.Context, citedPaperID, citingPaperID int64) (int64, error)
	UpsertCiter(ctx context.Context, citer storage.Citer) (int64, error)
	LinkCiterCitation(ctx context.Context, citerID, citationID int64) error
	UpsertUserCiter(ctx context.Context, userID string, citerID int64, totalCites int) error
	UpdateUserPaperCount(ctx context.Context, userID string, count int) error
}

// FindCitersParams are the job_params of a find_citers job
type FindCitersParams struct {
	UserID domain.OwnerRef `json:"user_id"`
}

// Validate requires the owner reference
func (p FindCitersParams) Validate() error {
	if p.UserID == "" {
		return domain.NewMissingParameterError("user_id")
	}
	return nil
}

// CiterSummary is one author who cited the user's work
type CiterSummary struct {
	SemanticScholarID string `json:"semantic_scholar_id"`
	Name              string `json:"author_name"`
	TotalCitations    int    `json:"total_citations"`
	PaperCount        int    `json:"paper_count"`
}

// FindCitersResult is the data of a successful find_citers job
type FindCitersResult struct {
	UserID            string         `json:"user_id"`
	SemanticScholarID string         `json:"semantic_scholar_id"`
	DatabaseUpdated   bool           `json:"database_updated"`
	CitationCount     int            `json:"citation_count"`
	PaperCount        int            `json:"paper_count"`
	TopCiters         []CiterSummary `json:"top_citers"`
}

type citerTally struct {
	CiterSummary
	rowID int64
}

// CitationFinder walks a user's papers on Semantic Scholar, records who cited
// them, and stores per-citer totals.
type CitationFinder struct {
	client ScholarClient
	store  CitationStore
	logger *slog.Logger
}

// NewCitationFinder creates a CitationFinder
func NewCitationFinder(client ScholarClient, store CitationStore, logger *slog.Logger) *CitationFinder {
	return &CitationFinder{
		client: client,
		store:  store,
		logger: logger,
	}
}

// Handler returns the typed handler for registration
func (f *CitationFinder) Handler() Handler {
	return Typed(f.Run)
}

// Run executes one find_citers job. Failures on a single paper or citer are
// logged and skipped; only user lookup and the author fetch fail the job.
func (f *CitationFinder) Run(ctx context.Context, params FindCitersParams) domain.Outcome {
	userID := string(params.UserID)

	scholarID, err := f.store.GetUserScholarID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.Failed(fmt.Errorf("User with ID %s not found", userID))
		}
		return domain.Failed(err)
	}
	if scholarID == "" {
		return domain.Failed(fmt.Errorf("User with ID %s does not have a Semantic Scholar ID", userID))
	}

	author, err := f.client.GetAuthor(ctx, scholarID)
	if err != nil {
		return domain.Failed(fmt.Errorf("failed to fetch papers for author %s: %w", scholarID, err))
	}

	logger := f.logger.With(
		slog.String("user_id", userID),
		slog.String("semantic_scholar_id", scholarID),
	)
	logger.Info("Finding citers", slog.Int("papers", len(author.Papers)))

	tallies := make(map[string]*citerTally)
	paperCounts := make(map[string]int)

	for i, paper := range author.Papers {
		if err := f.processPaper(ctx, logger, userID, paper, tallies, paperCounts); err != nil {
			logger.Error("Failed to process paper",
				slog.String("paper_id", paper.PaperID),
				slog.String("title", paper.Title),
				slog.Any("error", err),
			)
			continue
		}
		logger.Info("Processed paper", slog.Int("processed", i+1), slog.Int("total", len(author.Papers)))
	}

	sorted := make([]*citerTally, 0, len(tallies))
	for _, t := range tallies {
		sorted = append(sorted, t)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TotalCitations != sorted[j].TotalCitations {
			return sorted[i].TotalCitations > sorted[j].TotalCitations
		}
		return sorted[i].Name < sorted[j].Name
	})

	updated := true
	for _, t := range sorted {
		if err := f.store.UpsertUserCiter(ctx, userID, t.rowID, t.TotalCitations); err != nil {
			logger.Error("Failed to store citer summary",
				slog.String("citer_id", t.SemanticScholarID),
				slog.Any("error", err),
			)
			updated = false
		}
	}

	if err := f.store.UpdateUserPaperCount(ctx, userID, len(author.Papers)); err != nil {
		updated = false
	}

	top := make([]CiterSummary, 0, min(len(sorted), TopCitersLimit))
	for _, t := range sorted {
		if len(top) == TopCitersLimit {
			break
		}
		top = append(top, t.CiterSummary)
	}

	return domain.Success(FindCitersResult{
		UserID:            userID,
		SemanticScholarID: scholarID,
		DatabaseUpdated:   updated,
		CitationCount:     len(sorted),
		PaperCount:        len(author.Papers),
		TopCiters:         top,
	})
}

func (f *CitationFinder) processPaper(
	ctx context.Context,
	logger *slog.Logger,
	userID string,
	paper scholar.PaperRef,
	tallies map[string]*citerTally,
	paperCounts map[string]int,
) error {
	paperRowID, err := f.store.UpsertPaper(ctx, storage.Paper{ScholarID: paper.PaperID, Title: paper.Title, Year: paper.Year})
	if err != nil {
		return err
	}
	if err := f.store.LinkUserPaper(ctx, userID, paperRowID); err != nil {
		logger.Warn("Failed to link paper to user", slog.String("paper_id", paper.PaperID), slog.Any("error", err))
	}

	details, err := f.client.GetPaper(ctx, paper.PaperID)
	if err != nil {
		return fmt.Errorf("failed to fetch citations: %w", err)
	}
	logger.Info("Processing paper",
		slog.String("title", paper.Title),
		slog.Int("citations", len(details.Citations)),
	)

	for _, citation := range details.Citations {
		if citation.PaperID == "" {
			continue
		}

		citingRowID, err := f.store.UpsertPaper(ctx, storage.Paper{ScholarID: citation.PaperID, Title: citation.Title, Year: citation.Year})
		if err != nil {
			logger.Error("Failed to store citing paper", slog.String("paper_id", citation.PaperID), slog.Any("error", err))
			continue
		}
		citationRowID, err := f.store.UpsertCitation(ctx, paperRowID, citingRowID)
		if err != nil {
			logger.Error("Failed to store citation", slog.String("paper_id", citation.PaperID), slog.Any("error", err))
			continue
		}

		authors := citation.Authors
		if len(authors) == 0 {
			citing, err := f.client.GetPaper(ctx, citation.PaperID)
			if err != nil {
				logger.Warn("Failed to fetch citing paper authors", slog.String("paper_id", citation.PaperID), slog.Any("error", err))
				continue
			}
			authors = citing.Authors
		}

		for _, a := range authors {
			if a.AuthorID == "" || a.Name == "" {
				continue
			}
			f.recordCiter(ctx, logger, a, citationRowID, tallies, paperCounts)
		}
	}

	return nil
}

func (f *CitationFinder) recordCiter(
	ctx context.Context,
	logger *slog.Logger,
	a scholar.AuthorRef,
	citationRowID int64,
	tallies map[string]*citerTally,
	paperCounts map[string]int,
) {
	count, ok := paperCounts[a.AuthorID]
	if !ok {
		n, err := f.client.GetAuthorPaperCount(ctx, a.AuthorID)
		if err != nil {
			logger.Warn("Failed to fetch citer paper count", slog.String("citer_id", a.AuthorID), slog.Any("error", err))
		}
		count = n
		paperCounts[a.AuthorID] = count
	}

	citerRowID, err := f.store.UpsertCiter(ctx, storage.Citer{ScholarID: a.AuthorID, Name: a.Name, PaperCount: count})
	if err != nil {
		logger.Error("Failed to store citer", slog.String("citer", a.Name), slog.Any("error", err))
		return
	}
	if err := f.store.LinkCiterCitation(ctx, citerRowID, citationRowID); err != nil {
		logger.Error("Failed to link citer citation", slog.String("citer", a.Name), slog.Any("error", err))
		return
	}

	t, ok := tallies[a.AuthorID]
	if !ok {
		t = &citerTally{
			CiterSummary: CiterSummary{SemanticScholarID: a.AuthorID, Name: a.Name, PaperCount: count},
			rowID:        citerRowID,
		}
		tallies[a.AuthorID] = t
	}
	t.TotalCitations++
}
