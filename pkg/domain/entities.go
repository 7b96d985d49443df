// Package domain defines the core ledger entities, value types, error
// taxonomy, and rule evaluation primitives used by cruciblecore.
package domain

import (
	"math/bits"
	"time"
)

// EntityType identifies the type of record stored in the ledger.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityRecipe identifies a conversion recipe record.
	EntityRecipe EntityType = "recipe"
	// EntityVessel identifies a balance-holding vessel record.
	EntityVessel EntityType = "vessel"
	// EntityConversion identifies an immutable resolved-conversion record.
	EntityConversion EntityType = "conversion"
	// EntityParams identifies the global ledger parameter block.
	EntityParams EntityType = "params"
)

// Fixed ledger limits. Ratios are expressed in basis points (1/10000).
const (
	// MaxRecipes caps the number of recipes ever created.
	MaxRecipes = 72
	// MaxRecipeBatch caps the size of a single batch creation.
	MaxRecipeBatch = 12
	// MaxFeeBps caps the fee rate at 2.5%.
	MaxFeeBps = 250
	// MinYieldBps is the lowest admissible yield ratio (50%).
	MinYieldBps = 5000
	// MaxYieldBps is the highest admissible yield ratio (100%).
	MaxYieldBps = 10000
	// BpsDenominator converts basis points into a ratio.
	BpsDenominator = 10000
	// InitialFeeBps is the fee rate established at system start (0.08%).
	InitialFeeBps = 8
)

// Recipe is an admin-defined conversion rule. Identity, fingerprint, minimum
// input and yield ratio are immutable once assigned; only Active may change.
type Recipe struct {
	ID          uint64    `json:"id"`
	Fingerprint Hash      `json:"fingerprint"`
	MinInput    uint64    `json:"min_input"`
	YieldBps    uint64    `json:"yield_bps"`
	Active      bool      `json:"active"`
	CreatedSeq  uint64    `json:"created_seq"`
	CreatedAt   time.Time `json:"created_at"`
}

// RecipeSpec carries the caller-supplied fields of a recipe creation.
type RecipeSpec struct {
	Fingerprint Hash   `json:"fingerprint"`
	MinInput    uint64 `json:"min_input"`
	YieldBps    uint64 `json:"yield_bps"`
}

// RecipeStats aggregates resolution activity per recipe.
type RecipeStats struct {
	Resolutions uint64 `json:"resolutions"`
	InputVolume uint64 `json:"input_volume"`
}

// Vessel is a caller-named balance-holding account. Vessels are created
// lazily by the first deposit; the balance can never go below zero.
type Vessel struct {
	ID        Hash      `json:"id"`
	Balance   uint64    `json:"balance"`
	Label     Hash      `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	// CreatedSeq records the deposit position that first touched the vessel.
	CreatedSeq uint64 `json:"created_seq"`
}

// ConversionRecord is the immutable snapshot minted by a successful
// resolution. Records form an append-only log keyed by their derived id.
type ConversionRecord struct {
	ID          Hash      `json:"id"`
	Beneficiary Address   `json:"beneficiary"`
	RecipeID    uint64    `json:"recipe_id"`
	InputAmount uint64    `json:"input_amount"`
	YieldAmount uint64    `json:"yield_amount"`
	FeeAmount   uint64    `json:"fee_amount"`
	Seq         uint64    `json:"seq"`
	CreatedAt   time.Time `json:"created_at"`
}

// NetAmount returns the payout remaining after the fee leg.
func (r ConversionRecord) NetAmount() uint64 {
	return r.YieldAmount - r.FeeAmount
}

// LedgerParams is the small mutable global parameter block consulted by the
// resolver and the deposit path. Counters advance only on committed
// mutations.
type LedgerParams struct {
	FeeBps        uint64 `json:"fee_bps"`
	Paused        bool   `json:"paused"`
	ResolutionSeq uint64 `json:"resolution_seq"`
	RecipeSeq     uint64 `json:"recipe_seq"`
	DepositSeq    uint64 `json:"deposit_seq"`
	// Pool tracks the residual value held by the ledger: credited by
	// deposits, debited by resolution payouts and crucible withdrawals.
	Pool uint64 `json:"pool"`
}

// DefaultParams returns the parameter block established at system start.
func DefaultParams() LedgerParams {
	return LedgerParams{FeeBps: InitialFeeBps}
}

// ComputeYield applies a yield ratio in basis points with floor division.
// The intermediate product is widened to 128 bits so extreme inputs cannot
// wrap; the quotient fits in uint64 because yieldBps never exceeds the
// denominator.
func ComputeYield(input, yieldBps uint64) uint64 {
	return mulDivBps(input, yieldBps)
}

// ComputeFee applies the fee ratio in basis points with floor division.
func ComputeFee(yield, feeBps uint64) uint64 {
	return mulDivBps(yield, feeBps)
}

// mulDivBps computes floor(value*bps/BpsDenominator) without 64-bit wrap.
// bps must not exceed BpsDenominator.
func mulDivBps(value, bps uint64) uint64 {
	hi, lo := bits.Mul64(value, bps)
	q, _ := bits.Div64(hi, lo, BpsDenominator)
	return q
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate the mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
