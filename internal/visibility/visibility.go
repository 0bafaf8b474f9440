// Package visibility hides the content of other users' answers until their match kicks off.
package visibility

import (
	"time"

	"github.com/victornm/pickpool/internal/domain"
)

// Visible reports whether requesterID may see the content of row at now.
// Authors always see their own answers. Everybody else sees it once the match has
// kicked off. An unknown kickoff keeps the answer hidden.
func Visible(row domain.AnswerRow, requesterID string, now time.Time) bool {
	if row.Answer.UserID == requesterID {
		return true
	}

	if row.Match.Kickoff.IsZero() {
		return false
	}

	return !now.Before(row.Match.Kickoff)
}

// Filter returns row unchanged when it is visible to requesterID, otherwise a copy
// with the answer value and correctness cleared and Redacted set.
func Filter(row domain.AnswerRow, requesterID string, now time.Time) domain.AnswerRow {
	if Visible(row, requesterID, now) {
		return row
	}

	row.Answer.Value = ""
	row.Answer.Correctness = domain.Pending
	row.Redacted = true
	return row
}

// FilterAll applies Filter to every row.
func FilterAll(rows []domain.AnswerRow, requesterID string, now time.Time) []domain.AnswerRow {
	res := make([]domain.AnswerRow, 0, len(rows))
	for _, r := range rows {
		res = append(res, Filter(r, requesterID, now))
	}
	return res
}
