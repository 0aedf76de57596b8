package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"umoja/pkg/domain"
)

type fileFormat struct {
	Policies []filePolicy `yaml:"policies"`
}

type filePolicy struct {
	ActionType            string  `yaml:"actionType"`
	Threshold             float64 `yaml:"threshold"`
	RequiresElderApproval bool    `yaml:"requiresElderApproval"`
	VotingPeriodHours     int     `yaml:"votingPeriodHours"`
	GateWhen              string  `yaml:"gateWhen"`
}

// LoadFile reads a YAML policy file. An empty path returns DefaultPolicies.
func LoadFile(path string) ([]ConsensusPolicy, error) {
	if path == "" {
		return DefaultPolicies(), nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading policy file: %w", err)
	}
	return Parse(buf)
}

// Parse decodes policies from YAML. Thresholds are fractions in (0,1].
func Parse(buf []byte) ([]ConsensusPolicy, error) {
	var f fileFormat
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("error parsing policy file: %w", err)
	}
	out := make([]ConsensusPolicy, 0, len(f.Policies))
	for _, fp := range f.Policies {
		at, err := ParseActionType(fp.ActionType)
		if err != nil {
			return nil, err
		}
		bp, err := domain.FractionToBasisPoints(fp.Threshold)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", at, err)
		}
		out = append(out, ConsensusPolicy{
			ActionType:            at,
			Threshold:             bp,
			RequiresElderApproval: fp.RequiresElderApproval,
			VotingPeriodHours:     fp.VotingPeriodHours,
			GateWhen:              fp.GateWhen,
		})
	}
	return out, nil
}

// Load reads the policy file at path and builds a Registry from it.
func Load(path string) (*Registry, error) {
	policies, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(policies)
}
