package core

import (
	"context"
	"fmt"

	"cruciblecore/pkg/domain"
)

// NewFeeBoundRule returns the in-transaction rule keeping the fee rate
// within its hard ceiling.
func NewFeeBoundRule() domain.Rule {
	return feeBoundRule{}
}

type feeBoundRule struct{}

func (feeBoundRule) Name() string { return "fee_bound" }

func (feeBoundRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if fee := view.Params().FeeBps; fee > domain.MaxFeeBps {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     "fee_bound",
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("fee rate %d bps exceeds ceiling %d", fee, domain.MaxFeeBps),
			Entity:   domain.EntityParams,
		})
	}
	return res, nil
}
