package hub

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Query parameters read from the upgrade request.
const (
	UserIDParam    = "user_id"
	RequestIDParam = "request_id"
)

// AnonymousUserID is the nil UUID. Connections without a user_id are indexed
// under it so an empty string never stands in for a real user.
var AnonymousUserID = uuid.Nil.String()

// Identity is who a connection belongs to and which job it watches.
type Identity struct {
	UserID string
	JobID  string
}

// ParseIdentity reads user_id and request_id from query parameters.
// Blank values count as absent.
func ParseIdentity(query url.Values) Identity {
	id := Identity{
		UserID: strings.TrimSpace(query.Get(UserIDParam)),
		JobID:  strings.TrimSpace(query.Get(RequestIDParam)),
	}
	if id.UserID == "" {
		id.UserID = AnonymousUserID
	}
	return id
}

func (i Identity) Anonymous() bool {
	return i.UserID == AnonymousUserID
}

// NewConnectionID returns a fresh random connection id.
func NewConnectionID() string {
	return uuid.NewString()
}
