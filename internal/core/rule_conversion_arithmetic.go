package core

import (
	"context"
	"fmt"

	"cruciblecore/pkg/domain"
)

// NewConversionArithmeticRule returns the in-transaction rule verifying the
// yield and fee split of conversion records appended in this transaction.
func NewConversionArithmeticRule() domain.Rule {
	return conversionArithmeticRule{}
}

type conversionArithmeticRule struct{}

func (conversionArithmeticRule) Name() string { return "conversion_arithmetic" }

func (conversionArithmeticRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	yields := make(map[uint64]uint64)
	for _, recipe := range view.ListRecipes() {
		yields[recipe.ID] = recipe.YieldBps
	}
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityConversion || change.Action != domain.ActionCreate {
			continue
		}
		record, ok := change.After.(domain.ConversionRecord)
		if !ok {
			continue
		}
		if bps, known := yields[record.RecipeID]; known {
			if want := domain.ComputeYield(record.InputAmount, bps); record.YieldAmount != want {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "conversion_arithmetic",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("conversion %s yield %d does not match %d", record.ID, record.YieldAmount, want),
					Entity:   domain.EntityConversion,
					EntityID: record.ID.Hex(),
				})
			}
		}
		if record.FeeAmount > record.YieldAmount {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "conversion_arithmetic",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("conversion %s fee %d exceeds yield %d", record.ID, record.FeeAmount, record.YieldAmount),
				Entity:   domain.EntityConversion,
				EntityID: record.ID.Hex(),
			})
		}
	}
	return res, nil
}
