package audithook

// Action constants for audit events.
const (
	// Account actions
	ActionAccountCreated = "account.created"
	ActionAccrued        = "account.accrued"
	ActionGranted        = "account.granted"

	// Supply actions
	ActionSupplyExhausted = "supply.exhausted"
	ActionSupplyDrift     = "supply.drift"

	// Pass token actions
	ActionTokenIssued        = "pass_token.issued"
	ActionTokenRedeemed      = "pass_token.redeemed"
	ActionRedemptionRejected = "pass_token.redemption_rejected"
)

// Resource constants for audit events.
const (
	ResourceAccount   = "account"
	ResourceSupply    = "supply"
	ResourcePassToken = "pass_token"
)

// Category constants for audit events.
const (
	CategoryLedger   = "ledger"
	CategoryTransfer = "transfer"
	CategorySupply   = "supply"
	CategoryAdmin    = "admin"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
