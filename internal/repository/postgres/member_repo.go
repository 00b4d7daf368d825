package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MemberRepository answers conversation membership questions from the
// chat schema's "ConversationMember" table
type MemberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository creates a new MemberRepository
func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

// IsActiveMember reports whether userID is an active member of conversationID
func (r *MemberRepository) IsActiveMember(ctx context.Context, conversationID, userID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM "ConversationMember"
			WHERE "conversationId" = $1 AND "userId" = $2 AND "isActive" = true
		)
	`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// ListActiveMembers returns the ids of every active member of conversationID
func (r *MemberRepository) ListActiveMembers(ctx context.Context, conversationID string) ([]string, error) {
	query := `
		SELECT "userId" FROM "ConversationMember"
		WHERE "conversationId" = $1 AND "isActive" = true
	`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}

	return userIDs, nil
}
