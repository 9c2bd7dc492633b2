package core

// errors.go maps internal errors to user-facing messages with stable
// codes, so callers can quote a code instead of a stack trace.
//
// Codes:
//
//	PARSE001  - malformed or unreadable raw input
//	COL001    - step references a column absent from the table
//	SRC001    - operation against an unknown source ID
//	SCHEMA001 - append-mode load against an incompatible destination
//	MODE001   - invalid load mode
//	DB001     - database error reported by PostgreSQL
//	SYS001    - anything else
import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tablekit/scrub/internal/loader"
	"github.com/tablekit/scrub/internal/pipeline"
	"github.com/tablekit/scrub/internal/session"
	"github.com/tablekit/scrub/internal/table"
)

// UserMessage is a user-friendly rendering of an internal error.
type UserMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
}

// MapError converts an error into a UserMessage. The technical error is
// the caller's to log; the UserMessage is what goes to the client.
func MapError(err error) UserMessage {
	var parseErr *table.ParseError
	if errors.As(err, &parseErr) {
		return UserMessage{
			Code:    "PARSE001",
			Message: err.Error(),
			Action:  "Check that the file is valid UTF-8 CSV and skip_rows matches the preamble",
		}
	}

	var colErr *pipeline.UnknownColumnError
	if errors.As(err, &colErr) {
		return UserMessage{
			Code:    "COL001",
			Message: err.Error(),
			Action:  "Verify the column name against the current table header",
		}
	}

	var srcErr *session.UnknownSourceError
	if errors.As(err, &srcErr) {
		return UserMessage{
			Code:    "SRC001",
			Message: err.Error(),
			Action:  "Upload the file again or pick a source from the list",
		}
	}

	var schemaErr *loader.SchemaMismatchError
	if errors.As(err, &schemaErr) {
		return UserMessage{
			Code:    "SCHEMA001",
			Message: err.Error(),
			Action:  "Use overwrite mode or adjust the table to match the destination",
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return UserMessage{
			Code:    "DB001",
			Message: "database error: " + pgErr.Message,
			Action:  "Please try again; quote this code if the problem persists",
		}
	}

	return UserMessage{
		Code:    "SYS001",
		Message: err.Error(),
	}
}

// HTTPStatus returns the HTTP status code appropriate for an error.
func HTTPStatus(err error) int {
	var parseErr *table.ParseError
	var colErr *pipeline.UnknownColumnError
	var srcErr *session.UnknownSourceError
	var schemaErr *loader.SchemaMismatchError

	switch {
	case errors.As(err, &parseErr):
		return http.StatusBadRequest
	case errors.As(err, &colErr):
		return http.StatusBadRequest
	case errors.As(err, &srcErr):
		return http.StatusNotFound
	case errors.As(err, &schemaErr):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
