package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/buildbid/docproc-service/internal/jobs/domain"
)

// ProjectOwner returns the owner of a project
func (s *Storage) ProjectOwner(ctx context.Context, projectID string) (string, error) {
	var ownerID string
	err := s.db.GetContext(ctx, &ownerID, `SELECT owner_id FROM projects WHERE id = $1`, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrProjectNotFound
		}
		return "", fmt.Errorf("failed to get project owner: %w", err)
	}
	return ownerID, nil
}

// DocumentInProject returns ErrDocumentNotFound unless the document belongs to the project
func (s *Storage) DocumentInProject(ctx context.Context, projectID, documentID string) error {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1 AND project_id = $2)`,
		documentID, projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to check document: %w", err)
	}
	if !exists {
		return domain.ErrDocumentNotFound
	}
	return nil
}
