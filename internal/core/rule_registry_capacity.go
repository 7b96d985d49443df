package core

import (
	"context"
	"fmt"

	"cruciblecore/pkg/domain"
)

// NewRegistryCapacityRule returns the in-transaction rule enforcing the
// lifetime recipe ceiling.
func NewRegistryCapacityRule() domain.Rule {
	return registryCapacityRule{}
}

type registryCapacityRule struct{}

func (registryCapacityRule) Name() string { return "registry_capacity" }

func (registryCapacityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if seq := view.Params().RecipeSeq; seq > domain.MaxRecipes {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "registry_capacity",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("recipe counter %d exceeds registry ceiling %d", seq, domain.MaxRecipes),
			Entity:   domain.EntityRecipe,
		})
	}
	if count := len(view.ListRecipes()); count > domain.MaxRecipes {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "registry_capacity",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("registry holds %d recipes, ceiling is %d", count, domain.MaxRecipes),
			Entity:   domain.EntityRecipe,
		})
	}
	return res, nil
}
