// Package domain holds the entity types shared across every component
// package (ledger, balance, deposit, staking, withdrawal, auth). Keeping
// them in one leaf package avoids import cycles between the packages that
// each operate on a slice of this data model. Most types double as their
// own API wire format; fields that must never leave the server carry
// json:"-".
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role orders platform actors for RBAC checks. Higher index means more
// privilege.
type Role string

const (
	RoleUser       Role = "USER"
	RoleSupport    Role = "SUPPORT"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

var roleRank = map[Role]int{
	RoleUser:       0,
	RoleSupport:    1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// AtLeast reports whether r has privilege greater than or equal to min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// User is a platform account.
type User struct {
	ID                      uuid.UUID       `json:"id"`
	Email                   string          `json:"email"`
	PasswordHashArgon2id    string          `json:"-"`
	Role                    Role            `json:"role"`
	EmailVerified           bool            `json:"emailVerified"`
	TwoFactorEnabled        bool            `json:"twoFactorEnabled"`
	KYCStatus               string          `json:"kycStatus"`
	IsActive                bool            `json:"isActive"`
	DailyWithdrawalLimitUsd decimal.Decimal `json:"dailyWithdrawalLimitUsd"`
	CreatedAt               time.Time       `json:"createdAt"`
	LastLoginAt             *time.Time      `json:"lastLoginAt,omitempty"`
}

// Session is an issued refresh-token/access-token pair's server-side record.
type Session struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"userId"`
	RefreshTokenHash string    `json:"-"`
	DeviceName       string    `json:"deviceName"`
	IPAddress        string    `json:"ipAddress"`
	UserAgent        string    `json:"userAgent"`
	LastActiveAt     time.Time `json:"lastActiveAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	IsRevoked        bool      `json:"isRevoked"`
}

// TwoFactorSecret holds a user's encrypted TOTP seed.
type TwoFactorSecret struct {
	UserID          uuid.UUID `json:"-"`
	EncryptedSecret []byte    `json:"-"`
	IsVerified      bool      `json:"-"`
}

// RecoveryCode is a one-shot 2FA bypass code.
type RecoveryCode struct {
	ID       uuid.UUID `json:"-"`
	UserID   uuid.UUID `json:"-"`
	CodeHash string    `json:"-"`
	Used     bool      `json:"-"`
}

// Chain is a configured blockchain network.
type Chain struct {
	ID                    uuid.UUID `json:"id"`
	Slug                  string    `json:"slug"`
	ChainID               int64     `json:"chainId"`
	RPCEndpoint           string    `json:"-"`
	ExplorerURL           string    `json:"explorerUrl"`
	ConfirmationsRequired int       `json:"confirmationsRequired"`
	IsActive              bool      `json:"isActive"`
}

// Asset is a token tracked on a Chain.
type Asset struct {
	ID              uuid.UUID       `json:"id"`
	ChainID         uuid.UUID       `json:"chainId"`
	Symbol          string          `json:"symbol"`
	Decimals        int             `json:"decimals"`
	ContractAddress *string         `json:"contractAddress,omitempty"`
	IsNative        bool            `json:"isNative"`
	IsActive        bool            `json:"isActive"`
	PriceUsd        decimal.Decimal `json:"priceUsd"`
}

// PoolType distinguishes flexible (no lock) from fixed-term pools.
type PoolType string

const (
	PoolFlexible PoolType = "FLEXIBLE"
	PoolFixed    PoolType = "FIXED"
)

// Pool is a staking product.
type Pool struct {
	ID            uuid.UUID        `json:"id"`
	Name          string           `json:"name"`
	Slug          string           `json:"slug"`
	AssetID       uuid.UUID        `json:"assetId"`
	Type          PoolType         `json:"type"`
	LockDays      int              `json:"lockDays"`
	CurrentApr    decimal.Decimal  `json:"currentApr"`
	MinStake      decimal.Decimal  `json:"minStake"`
	MaxStake      *decimal.Decimal `json:"maxStake,omitempty"`
	TotalCapacity *decimal.Decimal `json:"totalCapacity,omitempty"`
	TotalStaked   decimal.Decimal  `json:"totalStaked"`
	CooldownHours int              `json:"cooldownHours"`
	IsActive      bool             `json:"isActive"`
}

// AprSchedule is a time-bounded APR rate applied to a Pool.
type AprSchedule struct {
	ID            uuid.UUID       `json:"id"`
	PoolID        uuid.UUID       `json:"poolId"`
	Apr           decimal.Decimal `json:"apr"`
	EffectiveFrom time.Time       `json:"effectiveFrom"`
	EffectiveTo   *time.Time      `json:"effectiveTo,omitempty"`
}

// DepositAddress is a platform-controlled address allocated to a user on a
// chain.
type DepositAddress struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"userId"`
	ChainID         uuid.UUID `json:"chainId"`
	Address         string    `json:"address"`
	DerivationPath  *string   `json:"-"`
	DerivationIndex *int64    `json:"-"`
}

// DepositStatus is the lifecycle state of an observed on-chain transfer.
type DepositStatus string

const (
	DepositAwaiting   DepositStatus = "AWAITING"
	DepositConfirming DepositStatus = "CONFIRMING"
	DepositConfirmed  DepositStatus = "CONFIRMED"
	DepositFailed     DepositStatus = "FAILED"
)

// Deposit is an observed incoming transfer to a DepositAddress.
type Deposit struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"userId"`
	AssetID          uuid.UUID       `json:"assetId"`
	ChainID          uuid.UUID       `json:"chainId"`
	DepositAddressID uuid.UUID       `json:"depositAddressId"`
	TxHash           string          `json:"txHash"`
	LogIndex         *int            `json:"logIndex,omitempty"`
	FromAddress      string          `json:"fromAddress"`
	Amount           decimal.Decimal `json:"amount"`
	Confirmations    int             `json:"confirmations"`
	Status           DepositStatus   `json:"status"`
	ConfirmedAt      *time.Time      `json:"confirmedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// StakePositionStatus is the lifecycle state of a StakePosition.
type StakePositionStatus string

const (
	StakeActive    StakePositionStatus = "ACTIVE"
	StakeUnstaking StakePositionStatus = "UNSTAKING"
	StakeCompleted StakePositionStatus = "COMPLETED"
	StakeCancelled StakePositionStatus = "CANCELLED"
)

// StakePosition is a user's deposit into a Pool.
type StakePosition struct {
	ID                    uuid.UUID           `json:"id"`
	UserID                uuid.UUID           `json:"userId"`
	PoolID                uuid.UUID           `json:"poolId"`
	Amount                decimal.Decimal     `json:"amount"`
	RewardsAccrued        decimal.Decimal     `json:"rewardsAccrued"`
	RewardsClaimed        decimal.Decimal     `json:"rewardsClaimed"`
	LastRewardCalculation time.Time           `json:"lastRewardCalculation"`
	Status                StakePositionStatus `json:"status"`
	LockedUntil           *time.Time          `json:"lockedUntil,omitempty"`
	CooldownEndsAt        *time.Time          `json:"cooldownEndsAt,omitempty"`
	UnstakedAt            *time.Time          `json:"unstakedAt,omitempty"`
}

// WithdrawalStatus is the state in the admin-gated payout workflow.
type WithdrawalStatus string

const (
	WithdrawalPendingReview WithdrawalStatus = "PENDING_REVIEW"
	WithdrawalApproved      WithdrawalStatus = "APPROVED"
	WithdrawalRejected      WithdrawalStatus = "REJECTED"
	WithdrawalPaidManually  WithdrawalStatus = "PAID_MANUALLY"
	WithdrawalProcessing    WithdrawalStatus = "PROCESSING"
	WithdrawalSent          WithdrawalStatus = "SENT"
	WithdrawalConfirming    WithdrawalStatus = "CONFIRMING"
	WithdrawalConfirmed     WithdrawalStatus = "CONFIRMED"
	WithdrawalCompleted     WithdrawalStatus = "COMPLETED"
	WithdrawalFailed        WithdrawalStatus = "FAILED"
)

// WithdrawalRequest is a user-initiated request to move funds off-platform.
type WithdrawalRequest struct {
	ID                 uuid.UUID        `json:"id"`
	UserID             uuid.UUID        `json:"userId"`
	AssetID            uuid.UUID        `json:"assetId"`
	ChainID            uuid.UUID        `json:"chainId"`
	Amount             decimal.Decimal  `json:"amount"`
	Fee                decimal.Decimal  `json:"fee"`
	NetAmount          decimal.Decimal  `json:"netAmount"`
	DestinationAddress string           `json:"destinationAddress"`
	Status             WithdrawalStatus `json:"status"`
	UserNotes          *string          `json:"userNotes,omitempty"`
	AdminNotes         *string          `json:"adminNotes,omitempty"`
	ReviewedBy         *uuid.UUID       `json:"reviewedBy,omitempty"`
	ReviewedAt         *time.Time       `json:"reviewedAt,omitempty"`
	ManualProofUrl     *string          `json:"manualProofUrl,omitempty"`
	IdempotencyKey     string           `json:"-"`
	FraudScore         int              `json:"fraudScore"`
	FraudIndicators    []FraudIndicator `json:"fraudIndicators,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// PayoutTxStatus mirrors the broadcast/confirmation lifecycle of PayoutTx.
type PayoutTxStatus string

const (
	PayoutPending    PayoutTxStatus = "PENDING"
	PayoutSent       PayoutTxStatus = "SENT"
	PayoutConfirming PayoutTxStatus = "CONFIRMING"
	PayoutConfirmed  PayoutTxStatus = "CONFIRMED"
	PayoutFailed     PayoutTxStatus = "FAILED"
)

// PayoutTx tracks the on-chain broadcast of an approved WithdrawalRequest.
type PayoutTx struct {
	WithdrawalRequestID uuid.UUID      `json:"withdrawalRequestId"`
	TxHash              *string        `json:"txHash,omitempty"`
	Nonce               *uint64        `json:"nonce,omitempty"`
	GasUsed             *uint64        `json:"gasUsed,omitempty"`
	Status              PayoutTxStatus `json:"status"`
	Confirmations       int            `json:"confirmations"`
	ErrorMessage        *string        `json:"errorMessage,omitempty"`
	SentAt              *time.Time     `json:"sentAt,omitempty"`
	ConfirmedAt         *time.Time     `json:"confirmedAt,omitempty"`
	Attempts            int            `json:"attempts"`
}

// LedgerEntryType enumerates every monetary movement the platform records.
type LedgerEntryType string

const (
	EntryDepositConfirmed    LedgerEntryType = "DEPOSIT_CONFIRMED"
	EntryStakeCreated        LedgerEntryType = "STAKE_CREATED"
	EntryUnstakeCompleted    LedgerEntryType = "UNSTAKE_COMPLETED"
	EntryRewardAccrued       LedgerEntryType = "REWARD_ACCRUED"
	EntryRewardClaimed       LedgerEntryType = "REWARD_CLAIMED"
	EntryWithdrawalRequested LedgerEntryType = "WITHDRAWAL_REQUESTED"
	EntryWithdrawalRejected  LedgerEntryType = "WITHDRAWAL_REJECTED"
	EntryWithdrawalPaid      LedgerEntryType = "WITHDRAWAL_PAID"
	EntryAdjustment          LedgerEntryType = "ADJUSTMENT"
	EntryStakeCancelled      LedgerEntryType = "STAKE_CANCELLED"

	// EntryWithdrawalRequestedPending and EntryWithdrawalRejectedPending are
	// the internal bookkeeping legs that move withdrawalsPending alongside a
	// WITHDRAWAL_REQUESTED/WITHDRAWAL_REJECTED entry's movement of available.
	// They carry their own entry type, distinct from the public-facing one,
	// so "exactly one WITHDRAWAL_REQUESTED/REJECTED entry per request" holds
	// literally rather than counting both legs of the same operation.
	EntryWithdrawalRequestedPending LedgerEntryType = "WITHDRAWAL_REQUESTED_PENDING"
	EntryWithdrawalRejectedPending  LedgerEntryType = "WITHDRAWAL_REJECTED_PENDING"
)

// Direction is the credit/debit polarity of a LedgerEntry.
type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

// LedgerEntry is one append-only row in the double-entry journal.
type LedgerEntry struct {
	ID            uuid.UUID              `json:"id"`
	UserID        *uuid.UUID             `json:"userId,omitempty"`
	AssetID       uuid.UUID              `json:"assetId"`
	ChainID       uuid.UUID              `json:"chainId"`
	EntryType     LedgerEntryType        `json:"entryType"`
	Direction     Direction              `json:"direction"`
	Amount        decimal.Decimal        `json:"amount"`
	BalanceAfter  *decimal.Decimal       `json:"balanceAfter,omitempty"`
	BalanceField  string                 `json:"balanceField,omitempty"`
	ReferenceType string                 `json:"referenceType"`
	ReferenceID   uuid.UUID              `json:"referenceId"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// BalanceCache is the materialized per-(user,asset,chain) projection.
type BalanceCache struct {
	UserID             uuid.UUID       `json:"userId"`
	AssetID            uuid.UUID       `json:"assetId"`
	ChainID            uuid.UUID       `json:"chainId"`
	Available          decimal.Decimal `json:"available"`
	Staked             decimal.Decimal `json:"staked"`
	RewardsAccrued     decimal.Decimal `json:"rewardsAccrued"`
	WithdrawalsPending decimal.Decimal `json:"withdrawalsPending"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// AddressWhitelistEntry records the cooldown applied to a first-seen
// withdrawal destination.
type AddressWhitelistEntry struct {
	UserID         uuid.UUID `json:"userId"`
	ChainID        uuid.UUID `json:"chainId"`
	Address        string    `json:"address"`
	Label          *string   `json:"label,omitempty"`
	CooldownEndsAt time.Time `json:"cooldownEndsAt"`
}

// FraudSeverity classifies a FraudIndicator's weight.
type FraudSeverity string

const (
	SeverityLow    FraudSeverity = "LOW"
	SeverityMedium FraudSeverity = "MEDIUM"
	SeverityHigh   FraudSeverity = "HIGH"
)

// FraudIndicator is one heuristic rule hit during withdrawal scoring.
type FraudIndicator struct {
	Type        string        `json:"type"`
	Severity    FraudSeverity `json:"severity"`
	Description string        `json:"description"`
	Score       int           `json:"score"`
}

// AuditLog is an append-only record of an admin-mutating action.
type AuditLog struct {
	ID         uuid.UUID              `json:"id"`
	ActorID    *uuid.UUID             `json:"actorId,omitempty"`
	ActorEmail *string                `json:"actorEmail,omitempty"`
	Action     string                 `json:"action"`
	Entity     string                 `json:"entity"`
	EntityID   uuid.UUID              `json:"entityId"`
	Before     map[string]interface{} `json:"before,omitempty"`
	After      map[string]interface{} `json:"after,omitempty"`
	IPAddress  string                 `json:"ipAddress"`
	UserAgent  string                 `json:"userAgent"`
	CreatedAt  time.Time              `json:"createdAt"`
}

// Notification is an in-app message surfaced to a user.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	UserID    uuid.UUID              `json:"userId"`
	Type      string                 `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	IsRead    bool                   `json:"isRead"`
	CreatedAt time.Time              `json:"createdAt"`
}

// TreasuryWallet is a platform-controlled hot wallet authorized to disburse
// funds for a chain.
type TreasuryWallet struct {
	ID                  uuid.UUID `json:"id"`
	ChainID             uuid.UUID `json:"chainId"`
	Address             string    `json:"address"`
	EncryptedPrivateKey []byte    `json:"-"`
	IsActive            bool      `json:"isActive"`
	Label               string    `json:"label"`
}

// DeadLetterJob is a job that exhausted its retry budget.
type DeadLetterJob struct {
	ID        uuid.UUID `json:"id"`
	QueueName string    `json:"queueName"`
	Payload   []byte    `json:"payload"`
	LastError string    `json:"lastError"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failedAt"`
}
