package domain

import "fmt"

// DomainRejection is a business-rule refusal distinct from a validation or
// infrastructure failure: the request was well-formed and the caller was
// authorized, but the current state of the system forbids it (a locked
// stake, an inactive pool, an insufficient balance). Handlers map it to
// HTTP 400 with the stable Code surfaced to the client.
type DomainRejection struct {
	Code    string
	Message string
}

func (e *DomainRejection) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDomainRejection constructs a DomainRejection with a formatted message.
func NewDomainRejection(code, format string, args ...interface{}) error {
	return &DomainRejection{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Rejection codes shared across the staking and withdrawal state machines.
const (
	CodeStakeLocked        = "STAKE_LOCKED"
	CodePoolInactive       = "POOL_INACTIVE"
	CodeAmountOutOfRange   = "AMOUNT_OUT_OF_RANGE"
	CodeCapacityExceeded   = "CAPACITY_EXCEEDED"
	CodeInsufficientFunds  = "INSUFFICIENT_FUNDS"
	CodeInvalidState       = "INVALID_STATE"
	CodeWhitelistCooldown  = "WHITELIST_COOLDOWN"
	CodeDailyLimitExceeded = "DAILY_LIMIT_EXCEEDED"
)
