package domain

import "context"

// Transaction exposes the ledger operations that a persistence
// implementation must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Params() LedgerParams
	UpdateParams(mutator func(*LedgerParams) error) (LedgerParams, error)
	CreateRecipe(spec RecipeSpec) (Recipe, error)
	UpdateRecipe(id uint64, mutator func(*Recipe) error) (Recipe, error)
	FindRecipe(id uint64) (Recipe, bool)
	RecipeStats(id uint64) RecipeStats
	AddRecipeStats(id uint64, input uint64) (RecipeStats, error)
	CreditVessel(id Hash, label Hash, amount uint64) (Vessel, bool, error)
	DebitVessel(id Hash, amount uint64) (Vessel, error)
	SetVesselLabel(id Hash, label Hash) (Hash, error)
	FindVessel(id Hash) (Vessel, bool)
	AppendConversion(record ConversionRecord) (ConversionRecord, error)
	FindConversion(id Hash) (ConversionRecord, bool)
}

// RuleView provides read-only access to ledger state for rule evaluation.
type RuleView interface {
	Params() LedgerParams
	ListRecipes() []Recipe
	ListVessels() []Vessel
	ListConversions() []ConversionRecord
	RecipeStats(id uint64) RecipeStats
}

// TransactionView provides read-only access to snapshot data, extending the
// rule view with point lookups.
type TransactionView interface {
	RuleView
	FindRecipe(id uint64) (Recipe, bool)
	FindVessel(id Hash) (Vessel, bool)
	FindConversion(id Hash) (ConversionRecord, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	Params() LedgerParams
	GetRecipe(id uint64) (Recipe, bool)
	ListRecipes() []Recipe
	RecipeIDs() []uint64
	GetRecipeStats(id uint64) (RecipeStats, bool)
	GetVessel(id Hash) (Vessel, bool)
	ListVessels() []Vessel
	VesselIDs() []Hash
	GetConversion(id Hash) (ConversionRecord, bool)
	ConversionIDs() []Hash
}
