package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/meritpath/worker-service/internal/worker/domain"
)

// Paper is a publication known to Semantic Scholar
type Paper struct {
	ScholarID string
	Title     string
	Year      *int
}

// Citer is an author who cited one of a user's papers
type Citer struct {
	ScholarID  string
	Name       string
	PaperCount int
}

// CitationStorage persists the citation graph built by the find_citers job.
// All writes are upserts keyed on natural keys so a re-run of the same job
// converges on the same rows.
type CitationStorage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewCitationStorage creates a new CitationStorage instance
func NewCitationStorage(db *sqlx.DB, logger *slog.Logger) *CitationStorage {
	return &CitationStorage{
		db:     db,
		logger: logger,
	}
}

// GetUserScholarID returns the Semantic Scholar author ID linked to userID.
// An empty string means the user exists but has no linked ID.
func (s *CitationStorage) GetUserScholarID(ctx context.Context, userID string) (string, error) {
	var scholarID sql.NullString
	err := s.db.GetContext(ctx, &scholarID, `SELECT semantic_scholar_id FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrUserNotFound
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	return scholarID.String, nil
}

// UpsertPaper stores a paper and returns its row ID
func (s *CitationStorage) UpsertPaper(ctx context.Context, paper Paper) (int64, error) {
	query := `
		INSERT INTO papers (semantic_scholar_id, title, year)
		VALUES ($1, $2, $3)
		ON CONFLICT (semantic_scholar_id) DO UPDATE
		SET title = EXCLUDED.title,
		    year = COALESCE(EXCLUDED.year, papers.year)
		RETURNING id
	`

	var year sql.NullInt64
	if paper.Year != nil {
		year = sql.NullInt64{Int64: int64(*paper.Year), Valid: true}
	}

	var id int64
	if err := s.db.GetContext(ctx, &id, query, paper.ScholarID, paper.Title, year); err != nil {
		return 0, fmt.Errorf("failed to upsert paper %s: %w", paper.ScholarID, err)
	}
	return id, nil
}

// LinkUserPaper records that userID authored paperID
func (s *CitationStorage) LinkUserPaper(ctx context.Context, userID string, paperID int64) error {
	query := `
		INSERT INTO user_papers (user_id, paper_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, paper_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, userID, paperID); err != nil {
		return fmt.Errorf("failed to link user paper: %w", err)
	}
	return nil
}

// UpsertCitation records that citingPaperID cites citedPaperID and returns the citation row ID
func (s *CitationStorage) UpsertCitation(ctx context.Context, citedPaperID, citingPaperID int64) (int64, error) {
	query := `
		INSERT INTO citations (cited_paper_id, citing_paper_id)
		VALUES ($1, $2)
		ON CONFLICT (cited_paper_id, citing_paper_id) DO UPDATE
		SET cited_paper_id = EXCLUDED.cited_paper_id
		RETURNING id
	`

	var id int64
	if err := s.db.GetContext(ctx, &id, query, citedPaperID, citingPaperID); err != nil {
		return 0, fmt.Errorf("failed to upsert citation: %w", err)
	}
	return id, nil
}

// UpsertCiter stores or refreshes a citing author and returns its row ID
func (s *CitationStorage) UpsertCiter(ctx context.Context, citer Citer) (int64, error) {
	query := `
		INSERT INTO citers (semantic_scholar_id, citer_name, paper_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (semantic_scholar_id) DO UPDATE
		SET citer_name = EXCLUDED.citer_name,
		    paper_count = EXCLUDED.paper_count
		RETURNING id
	`

	var id int64
	if err := s.db.GetContext(ctx, &id, query, citer.ScholarID, citer.Name, citer.PaperCount); err != nil {
		return 0, fmt.Errorf("failed to upsert citer %s: %w", citer.ScholarID, err)
	}
	return id, nil
}

// LinkCiterCitation records that citerID authored the citing side of citationID
func (s *CitationStorage) LinkCiterCitation(ctx context.Context, citerID, citationID int64) error {
	query := `
		INSERT INTO citer_citations (citer_id, citation_id)
		VALUES ($1, $2)
		ON CONFLICT (citer_id, citation_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, citerID, citationID); err != nil {
		return fmt.Errorf("failed to link citer citation: %w", err)
	}
	return nil
}

// UpsertUserCiter stores how many times citerID cited userID's papers
func (s *CitationStorage) UpsertUserCiter(ctx context.Context, userID string, citerID int64, totalCites int) error {
	query := `
		INSERT INTO user_citers (user_id, citer_id, total_cites)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, citer_id) DO UPDATE
		SET total_cites = EXCLUDED.total_cites
	`
	if _, err := s.db.ExecContext(ctx, query, userID, citerID, totalCites); err != nil {
		return fmt.Errorf("failed to upsert user citer: %w", err)
	}
	return nil
}

// UpdateUserPaperCount stores the number of papers found for userID
func (s *CitationStorage) UpdateUserPaperCount(ctx context.Context, userID string, count int) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET author_paper_count = $1 WHERE id = $2`, count, userID); err != nil {
		s.logger.Error("Failed to update user paper count",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to update user paper count: %w", err)
	}
	return nil
}
