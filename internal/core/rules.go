package core

import "cruciblecore/pkg/domain"

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// The rules re-check ledger invariants inside every transaction so that a
// buggy mutation path can never commit inconsistent state.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewFeeBoundRule())
	engine.Register(NewRegistryCapacityRule())
	engine.Register(NewRecipeShapeRule())
	engine.Register(NewConversionArithmeticRule())
	return engine
}
