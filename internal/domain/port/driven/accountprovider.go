package driven

import (
	"context"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

// AccountProvider defines the driven port for the Pinterest account API.
// Sessions are held per user id by the adapter; Login establishes one from a
// stored credential and every other call uses it.
type AccountProvider interface {
	// Login authenticates with the record's credentials and replaces any
	// session held for record.UserID.
	Login(ctx context.Context, record model.CredentialRecord) error

	// Probe performs one lightweight authenticated read. Any error means the
	// session is unusable.
	Probe(ctx context.Context, userID string) error

	// ListBoards returns every board of the account in a single call.
	ListBoards(ctx context.Context, userID, username string) ([]model.Collection, error)

	// BoardFeedPage fetches one page of a board feed starting at cursor
	// (empty for the first page).
	BoardFeedPage(ctx context.Context, userID, boardID, cursor string) (model.ItemPage, error)

	// Forget drops any session held for userID.
	Forget(userID string)
}
