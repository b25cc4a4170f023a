package passledger

import "github.com/xraph/passledger/id"

// ID is the identifier type used for pass token rows and supply audits.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// PassTokenID is the row id of a pass token.
type PassTokenID = id.PassTokenID

// ParsePassTokenID parses a "ptok_..." string.
var ParsePassTokenID = id.ParsePassTokenID
