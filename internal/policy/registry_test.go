package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	dErrors "umoja/pkg/domain-errors"
)

type RegistrySuite struct {
	suite.Suite
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	r, err := NewRegistry(DefaultPolicies())
	s.Require().NoError(err)
	s.registry = r
}

func (s *RegistrySuite) TestGet() {
	s.Run("returns configured policy", func() {
		p, err := s.registry.Get(ActionAllocateCommunityFunds)
		s.Require().NoError(err)
		s.Equal(7500, int(p.Threshold))
		s.False(p.RequiresElderApproval)
		s.Equal(72*time.Hour, p.VotingPeriod())
	})

	s.Run("unknown action type is PolicyNotFound", func() {
		_, err := s.registry.Get("launch-rocket")
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodePolicyNotFound))
		s.Equal(dErrors.KindValidation, dErrors.KindOf(err))
	})

	s.Run("explicit default policy covers unknown types", func() {
		policies := append(DefaultPolicies(), ConsensusPolicy{
			ActionType:        ActionDefault,
			Threshold:         5000,
			VotingPeriodHours: 24,
		})
		r, err := NewRegistry(policies)
		s.Require().NoError(err)

		p, err := r.Get("launch-rocket")
		s.Require().NoError(err)
		s.Equal(ActionType("launch-rocket"), p.ActionType)
		s.Equal(5000, int(p.Threshold))
	})
}

func (s *RegistrySuite) TestRequiresConsensus() {
	s.Run("small community allocation is not gated", func() {
		gated, err := s.registry.RequiresConsensus(ActionAllocateCommunityFunds, map[string]any{"amount": 50000.0})
		s.Require().NoError(err)
		s.False(gated)
	})

	s.Run("allocation above ten thousand is gated", func() {
		gated, err := s.registry.RequiresConsensus(ActionAllocateCommunityFunds, map[string]any{"amount": int64(1500000)})
		s.Require().NoError(err)
		s.True(gated)
	})

	s.Run("missing payload key fails closed", func() {
		r, err := NewRegistry([]ConsensusPolicy{{
			ActionType:        "fund-transfer",
			Threshold:         5000,
			VotingPeriodHours: 1,
			GateWhen:          `payload.amount > 10`,
		}})
		s.Require().NoError(err)
		gated, err := r.RequiresConsensus("fund-transfer", nil)
		s.Require().NoError(err)
		s.True(gated)
	})

	s.Run("policies without gate are always gated", func() {
		gated, err := s.registry.RequiresConsensus(ActionBanMember, nil)
		s.Require().NoError(err)
		s.True(gated)
	})

	s.Run("unknown action type surfaces PolicyNotFound", func() {
		_, err := s.registry.RequiresConsensus("launch-rocket", nil)
		s.True(dErrors.HasCode(err, dErrors.CodePolicyNotFound))
	})
}

func (s *RegistrySuite) TestNewRegistryValidation() {
	s.Run("rejects zero threshold", func() {
		_, err := NewRegistry([]ConsensusPolicy{{ActionType: "ban-member", Threshold: 0, VotingPeriodHours: 1}})
		s.Error(err)
	})

	s.Run("rejects non-positive voting period", func() {
		_, err := NewRegistry([]ConsensusPolicy{{ActionType: "ban-member", Threshold: 5000, VotingPeriodHours: 0}})
		s.Error(err)
	})

	s.Run("rejects duplicates", func() {
		p := ConsensusPolicy{ActionType: "ban-member", Threshold: 5000, VotingPeriodHours: 1}
		_, err := NewRegistry([]ConsensusPolicy{p, p})
		s.Error(err)
	})

	s.Run("rejects invalid gate expression", func() {
		_, err := NewRegistry([]ConsensusPolicy{{ActionType: "ban-member", Threshold: 5000, VotingPeriodHours: 1, GateWhen: "payload.("}})
		s.Error(err)
	})

	s.Run("rejects non-boolean gate expression", func() {
		_, err := NewRegistry([]ConsensusPolicy{{ActionType: "ban-member", Threshold: 5000, VotingPeriodHours: 1, GateWhen: `"yes"`}})
		s.Error(err)
	})

	s.Run("principles change must need the highest threshold", func() {
		_, err := NewRegistry([]ConsensusPolicy{
			{ActionType: ActionModifyUbuntuPrinciples, Threshold: 6000, VotingPeriodHours: 1},
			{ActionType: ActionBanMember, Threshold: 7000, VotingPeriodHours: 1},
		})
		s.Error(err)
	})
}

func (s *RegistrySuite) TestLoadFile() {
	s.Run("parses fractional thresholds", func() {
		path := filepath.Join(s.T().TempDir(), "policies.yaml")
		s.Require().NoError(os.WriteFile(path, []byte(`
policies:
  - actionType: allocate-community-funds
    threshold: 0.75
    votingPeriodHours: 72
    gateWhen: 'has(payload.source) && payload.source == "community-fund"'
  - actionType: modify-ubuntu-principles
    threshold: 0.9
    requiresElderApproval: true
    votingPeriodHours: 168
`), 0o600))

		r, err := Load(path)
		s.Require().NoError(err)
		s.Len(r.List(), 2)

		p, err := r.Get(ActionModifyUbuntuPrinciples)
		s.Require().NoError(err)
		s.Equal(9000, int(p.Threshold))
		s.True(p.RequiresElderApproval)
	})

	s.Run("empty path uses built-in policies", func() {
		policies, err := LoadFile("")
		s.Require().NoError(err)
		s.Len(policies, 5)
	})

	s.Run("rejects threshold above one", func() {
		_, err := Parse([]byte("policies:\n  - actionType: ban-member\n    threshold: 1.5\n    votingPeriodHours: 1\n"))
		s.Error(err)
	})
}
