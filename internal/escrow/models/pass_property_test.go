package models

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"umoja/pkg/domain"
)

// Any sequence of contribution attempts leaves every milestone committed at
// most to its funding amount, and the accepted amounts add up exactly.
func TestContributionsNeverOvercommit(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("committed never exceeds funding", prop.ForAll(
		func(funding []int64, attempts []int64) bool {
			specs := make([]MilestoneSpec, len(funding))
			for i, f := range funding {
				specs[i] = MilestoneSpec{
					ID:               domain.MilestoneID(string(rune('a' + i))),
					FundingAmount:    domain.Amount(f),
					VerificationMode: ModeCommunityWitness,
				}
			}
			p, err := NewTreatmentPass(domain.NewPassID(), "wanjiru", "kibera", 0, specs, t0)
			if err != nil {
				return false
			}

			var accepted domain.Amount
			for i, a := range attempts {
				mid := specs[i%len(specs)].ID
				alloc := map[domain.MilestoneID]domain.Amount{mid: domain.Amount(a)}
				if p.CanContribute(domain.Amount(a), alloc) != nil {
					continue
				}
				p.ApplyContribution(domain.UserID(string(rune('A'+i%26))), domain.Amount(a), alloc, t0)
				accepted += domain.Amount(a)
			}

			var committed domain.Amount
			for _, m := range p.Milestones {
				if m.Committed > m.FundingAmount || m.Committed < 0 {
					return false
				}
				committed += m.Committed
			}
			return committed == accepted && p.Contributed() == accepted && accepted <= p.FundingTarget
		},
		gen.SliceOfN(3, gen.Int64Range(1, 5000)),
		gen.SliceOf(gen.Int64Range(1, 3000)),
	))

	properties.TestingRun(t)
}
