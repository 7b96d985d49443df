package core

import "cruciblecore/pkg/domain"

type (
	Hash               = domain.Hash
	Address            = domain.Address
	EntityType         = domain.EntityType
	Recipe             = domain.Recipe
	RecipeSpec         = domain.RecipeSpec
	RecipeStats        = domain.RecipeStats
	Vessel             = domain.Vessel
	ConversionRecord   = domain.ConversionRecord
	LedgerParams       = domain.LedgerParams
	Change             = domain.Change
	Action             = domain.Action
	Severity           = domain.Severity
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	RuleView           = domain.RuleView
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
	Code               = domain.Code
)

const (
	EntityRecipe     = domain.EntityRecipe
	EntityVessel     = domain.EntityVessel
	EntityConversion = domain.EntityConversion
	EntityParams     = domain.EntityParams
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

// NewRulesEngine constructs an empty rules engine.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
