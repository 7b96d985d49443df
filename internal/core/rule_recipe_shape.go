package core

import (
	"context"
	"fmt"
	"strconv"

	"cruciblecore/pkg/domain"
)

// NewRecipeShapeRule returns the in-transaction rule validating that every
// stored recipe keeps a non-zero fingerprint and an in-range yield ratio.
func NewRecipeShapeRule() domain.Rule {
	return recipeShapeRule{}
}

type recipeShapeRule struct{}

func (recipeShapeRule) Name() string { return "recipe_shape" }

func (recipeShapeRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, recipe := range view.ListRecipes() {
		if recipe.Fingerprint.IsZero() {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "recipe_shape",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("recipe %d has a zero formula fingerprint", recipe.ID),
				Entity:   domain.EntityRecipe,
				EntityID: strconv.FormatUint(recipe.ID, 10),
			})
		}
		if recipe.YieldBps < domain.MinYieldBps || recipe.YieldBps > domain.MaxYieldBps {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "recipe_shape",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("recipe %d yield %d bps outside [%d,%d]", recipe.ID, recipe.YieldBps, domain.MinYieldBps, domain.MaxYieldBps),
				Entity:   domain.EntityRecipe,
				EntityID: strconv.FormatUint(recipe.ID, 10),
			})
		}
	}
	return res, nil
}
