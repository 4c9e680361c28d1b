package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// maxTreeDepth bounds the upward walk. The hierarchy is three levels deep
// in practice; anything past this means a corrupted edge chain.
const maxTreeDepth = 64

var ErrCycleDetected = errors.New("hierarchy cycle detected")

type HierarchyService struct {
	db *sql.DB
}

func NewHierarchyService(db *sql.DB) *HierarchyService {
	return &HierarchyService{db: db}
}

// IsAncestor reports whether actorID is a strict ancestor of targetID in the
// tree. It walks parent links upward from the target until it reaches the
// actor, a root (an edge pointing at itself), or a missing edge. An account
// is never its own ancestor. A walk that exceeds maxTreeDepth fails closed
// with ErrCycleDetected.
func (s *HierarchyService) IsAncestor(ctx context.Context, actorID, targetID int64) (bool, error) {
	if actorID == targetID {
		return false, nil
	}

	current := targetID
	for depth := 0; depth < maxTreeDepth; depth++ {
		parent, err := s.parentOf(ctx, current)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, nil
			}
			return false, fmt.Errorf("hierarchy walk failed at account %d: %w", current, err)
		}

		if parent == current {
			// Root points at itself.
			return false, nil
		}
		if parent == actorID {
			return true, nil
		}
		current = parent
	}

	return false, fmt.Errorf("walk from account %d exceeded depth %d: %w", targetID, maxTreeDepth, ErrCycleDetected)
}

func (s *HierarchyService) parentOf(ctx context.Context, userID int64) (int64, error) {
	var parent int64
	err := s.db.QueryRowContext(ctx,
		"SELECT parent_id FROM tree_edges WHERE user_id = $1", userID).Scan(&parent)
	return parent, err
}
