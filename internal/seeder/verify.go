package seeder

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/okian/marksheet/internal/domain/ranking"
)

// VerifyLeaderboard checks that ranks run 1..n, that each student appears
// once and that every entry ranks no lower than the next one.
func VerifyLeaderboard(rows []LeaderboardRow) error {
	seen := make(map[uuid.UUID]int, len(rows))
	for i, row := range rows {
		if row.Rank != i+1 {
			return fmt.Errorf("%w: entry %d has rank %d", ErrVerification, i, row.Rank)
		}
		if prev, ok := seen[row.StudentID]; ok {
			return fmt.Errorf("%w: student %s appears at ranks %d and %d", ErrVerification, row.StudentID, prev, row.Rank)
		}
		seen[row.StudentID] = row.Rank
		if i > 0 && ranking.Compare(rows[i-1].Entry, row.Entry) > 0 {
			return fmt.Errorf("%w: rank %d outranks rank %d", ErrVerification, row.Rank, rows[i-1].Rank)
		}
	}
	return nil
}
