package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
)

type ShareStore struct {
	db DB
}

const (
	insertShareQuery = `INSERT INTO report_shares (
		share_id,
		project_id,
		run_id,
		token,
		created_by,
		created_at,
		expires_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	selectShareByTokenQuery = `SELECT share_id, project_id, run_id, token, created_by, created_at, expires_at
	 FROM report_shares
	 WHERE token = $1`
)

func NewShareStore(db DB) *ShareStore {
	if db == nil {
		return nil
	}
	return &ShareStore{db: db}
}

func (s *ShareStore) CreateShare(ctx context.Context, share domain.ReportShare) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("share store not initialized")
	}
	if err := share.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	_, err := s.db.ExecContext(
		ctx,
		insertShareQuery,
		strings.TrimSpace(share.ID),
		strings.TrimSpace(share.ProjectID),
		strings.TrimSpace(share.RunID),
		strings.TrimSpace(share.Token),
		strings.TrimSpace(share.CreatedBy),
		normalizeTime(share.CreatedAt),
		nullTime(share.ExpiresAt),
	)
	return mapWriteError("insert report share", err)
}

func (s *ShareStore) GetShareByToken(ctx context.Context, token string) (domain.ReportShare, error) {
	if s == nil || s.db == nil {
		return domain.ReportShare{}, fmt.Errorf("share store not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.ReportShare{}, fmt.Errorf("share token is required")
	}
	var share domain.ReportShare
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx, selectShareByTokenQuery, token).Scan(
		&share.ID,
		&share.ProjectID,
		&share.RunID,
		&share.Token,
		&share.CreatedBy,
		&share.CreatedAt,
		&expiresAt,
	)
	if err != nil {
		return domain.ReportShare{}, handleNotFound(err)
	}
	share.CreatedAt = share.CreatedAt.UTC()
	share.ExpiresAt = timePtr(expiresAt)
	return share, nil
}
