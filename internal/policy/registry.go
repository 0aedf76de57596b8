package policy

import (
	"sort"

	"github.com/google/cel-go/cel"

	dErrors "umoja/pkg/domain-errors"
)

// Registry maps action types to consensus policies. It is built once at
// startup and read concurrently without locking.
type Registry struct {
	policies map[ActionType]ConsensusPolicy
	gates    map[ActionType]cel.Program
}

// NewRegistry validates the policies and compiles their gate expressions.
// modify-ubuntu-principles, when present, must carry the highest threshold.
func NewRegistry(policies []ConsensusPolicy) (*Registry, error) {
	compiler, err := newGateCompiler()
	if err != nil {
		return nil, err
	}
	r := &Registry{
		policies: make(map[ActionType]ConsensusPolicy, len(policies)),
		gates:    make(map[ActionType]cel.Program),
	}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.policies[p.ActionType]; dup {
			return nil, dErrors.Newf(dErrors.CodeValidation, "duplicate policy for %s", p.ActionType)
		}
		if p.GateWhen != "" {
			prg, err := compiler.compile(p.GateWhen)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeValidation, "policy "+string(p.ActionType)+": invalid gateWhen")
			}
			r.gates[p.ActionType] = prg
		}
		r.policies[p.ActionType] = p
	}
	if top, ok := r.policies[ActionModifyUbuntuPrinciples]; ok {
		for _, p := range r.policies {
			if p.Threshold > top.Threshold {
				return nil, dErrors.Newf(dErrors.CodeValidation,
					"policy %s threshold exceeds %s; changing principles must need the highest threshold",
					p.ActionType, ActionModifyUbuntuPrinciples)
			}
		}
	}
	return r, nil
}

// Get returns the policy for actionType. Unmapped types fail with
// PolicyNotFound unless a default policy is configured.
func (r *Registry) Get(actionType ActionType) (ConsensusPolicy, error) {
	if p, ok := r.policies[actionType]; ok {
		return p, nil
	}
	if p, ok := r.policies[ActionDefault]; ok {
		p.ActionType = actionType
		return p, nil
	}
	return ConsensusPolicy{}, dErrors.Newf(dErrors.CodePolicyNotFound, "no consensus policy for action type %q", actionType)
}

// RequiresConsensus reports whether performing actionType with payload must
// first pass a vote.
func (r *Registry) RequiresConsensus(actionType ActionType, payload map[string]any) (bool, error) {
	p, err := r.Get(actionType)
	if err != nil {
		return false, err
	}
	prg, ok := r.gates[p.ActionType]
	if !ok {
		if _, mapped := r.policies[actionType]; !mapped {
			prg, ok = r.gates[ActionDefault]
		}
	}
	if !ok {
		return true, nil
	}
	return evalGate(prg, actionType, payload), nil
}

// List returns every configured policy ordered by action type.
func (r *Registry) List() []ConsensusPolicy {
	out := make([]ConsensusPolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionType < out[j].ActionType })
	return out
}
