package table

import (
	"errors"
	"fmt"
	"strings"

	"github.com/meigma/pack/schema"
)

var (
	// ErrTruncatedRow is returned when a row reads past the end of the payload.
	ErrTruncatedRow = errors.New("table: truncated row")

	// ErrSizeMismatch is returned when bytes remain after the last row.
	ErrSizeMismatch = errors.New("table: size mismatch")

	// ErrNotATable is returned when a payload is too short or lacks the
	// header of its table kind.
	ErrNotATable = errors.New("table: not a table")

	// ErrCellType is returned when a cell does not match its field.
	ErrCellType = errors.New("table: cell does not match field")

	// ErrNoDefinition is returned when the schema cannot decode a table.
	ErrNoDefinition = schema.ErrNoDefinition
)

// DecodeError locates a decode or encode failure. Row and Column are -1
// when the failure is not tied to one.
type DecodeError struct {
	Path   string
	Row    int
	Column int
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	var sb strings.Builder
	if e.Path != "" {
		sb.WriteString(e.Path)
		sb.WriteString(": ")
	}
	if e.Row >= 0 {
		fmt.Fprintf(&sb, "row %d: ", e.Row)
	}
	if e.Column >= 0 {
		fmt.Fprintf(&sb, "column %d", e.Column)
		if e.Field != "" {
			fmt.Fprintf(&sb, " (%s)", e.Field)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(e.Err.Error())
	return sb.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }
