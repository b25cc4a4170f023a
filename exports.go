package passledger

import "github.com/xraph/passledger/types"

// Re-export common types for convenience so users don't have to import types package.

// Amount is re-exported from types package.
type Amount = types.Amount

// Entity is re-exported from types package.
type Entity = types.Entity

// Re-export Amount constructors
var (
	Coins           = types.Coins
	ParseAmount     = types.ParseAmount
	MustParseAmount = types.MustParseAmount
	Sum             = types.Sum
)

// Zero is the zero Amount.
const Zero = types.Zero
