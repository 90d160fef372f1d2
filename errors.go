package pack

import (
	packcore "github.com/meigma/pack/core"
	"github.com/meigma/pack/deps"
	"github.com/meigma/pack/diagnostics"
	"github.com/meigma/pack/schema"
	"github.com/meigma/pack/table"
)

// Errors re-exported from core.
var (
	// ErrMalformedContainer is returned when an archive header or index is
	// structurally invalid.
	ErrMalformedContainer = packcore.ErrMalformedContainer

	// ErrPayloadCorrupt is returned when one entry cannot be decrypted or
	// decompressed.
	ErrPayloadCorrupt = packcore.ErrPayloadCorrupt

	// ErrBackingSourceLost is returned when the file behind a lazily loaded
	// archive changed or went away.
	ErrBackingSourceLost = packcore.ErrBackingSourceLost

	// ErrUnsupportedForSave is returned when an encrypted or compressed
	// archive is saved without re-encoding.
	ErrUnsupportedForSave = packcore.ErrUnsupportedForSave

	// ErrTooLarge is returned when a payload or index field exceeds 32 bits.
	ErrTooLarge = packcore.ErrTooLarge

	// ErrInvalidPath is returned for unusable entry paths.
	ErrInvalidPath = packcore.ErrInvalidPath

	// ErrEntryExists is returned when a path is already taken.
	ErrEntryExists = packcore.ErrEntryExists

	// ErrEntryNotFound is returned when no entry has the requested path.
	ErrEntryNotFound = packcore.ErrEntryNotFound
)

// Errors re-exported from schema and table.
var (
	// ErrNoDefinition is returned when no schema definition matches a table.
	ErrNoDefinition = schema.ErrNoDefinition

	// ErrDefinitionIsApproximate reports that a table was decoded with a
	// definition of another version. It is advisory.
	ErrDefinitionIsApproximate = schema.ErrDefinitionIsApproximate

	// ErrTruncatedRow is returned when a table payload ends inside a row.
	ErrTruncatedRow = table.ErrTruncatedRow

	// ErrSizeMismatch is returned when bytes remain after the last row.
	ErrSizeMismatch = table.ErrSizeMismatch
)

// Errors re-exported from deps and diagnostics.
var (
	// ErrInvalidCache is returned when a persisted dependency cache cannot be read.
	ErrInvalidCache = deps.ErrInvalidCache

	// ErrRuleExecutionFailed marks the finding that replaces the output of a
	// diagnostic rule that failed.
	ErrRuleExecutionFailed = diagnostics.ErrRuleExecutionFailed
)
