package identity

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"umoja/pkg/domain"
)

type staticFile struct {
	Communities map[string][]string `yaml:"communities"`
	Elders      []string            `yaml:"elders"`
	Verifiers   map[string][]string `yaml:"verifiers"`
	Tiers       map[string]string   `yaml:"tiers"`
}

// Static is a Directory backed by a YAML file. It serves development and
// small deployments where membership changes with a redeploy.
type Static struct {
	mu          sync.RWMutex
	communities map[domain.CommunityID]map[domain.UserID]struct{}
	elders      map[domain.UserID]struct{}
	verifiers   map[string]map[domain.UserID]struct{}
	tiers       map[domain.UserID]Tier
}

// NewStatic returns an empty directory.
func NewStatic() *Static {
	return &Static{
		communities: make(map[domain.CommunityID]map[domain.UserID]struct{}),
		elders:      make(map[domain.UserID]struct{}),
		verifiers:   make(map[string]map[domain.UserID]struct{}),
		tiers:       make(map[domain.UserID]Tier),
	}
}

// LoadStatic reads a directory file.
func LoadStatic(path string) (*Static, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading identity file: %w", err)
	}
	return ParseStatic(buf)
}

// ParseStatic decodes a directory from YAML.
func ParseStatic(buf []byte) (*Static, error) {
	var f staticFile
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("error parsing identity file: %w", err)
	}
	s := NewStatic()
	for community, members := range f.Communities {
		for _, m := range members {
			s.AddMember(domain.CommunityID(community), domain.UserID(m))
		}
	}
	for _, e := range f.Elders {
		s.AddElder(domain.UserID(e))
	}
	for mode, users := range f.Verifiers {
		for _, u := range users {
			s.AddVerifier(domain.UserID(u), mode)
		}
	}
	for user, tier := range f.Tiers {
		t := Tier(tier)
		if !t.Valid() {
			return nil, fmt.Errorf("identity file: unknown tier %q for %s", tier, user)
		}
		s.SetTier(domain.UserID(user), t)
	}
	return s, nil
}

func (s *Static) AddMember(community domain.CommunityID, user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.communities[community] == nil {
		s.communities[community] = make(map[domain.UserID]struct{})
	}
	s.communities[community][user] = struct{}{}
}

func (s *Static) AddElder(user domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elders[user] = struct{}{}
}

func (s *Static) AddVerifier(user domain.UserID, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verifiers[mode] == nil {
		s.verifiers[mode] = make(map[domain.UserID]struct{})
	}
	s.verifiers[mode][user] = struct{}{}
}

func (s *Static) SetTier(user domain.UserID, tier Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers[user] = tier
}

func (s *Static) IsCommunityMember(_ context.Context, user domain.UserID, community domain.CommunityID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.communities[community][user]
	return ok, nil
}

func (s *Static) IsElder(_ context.Context, user domain.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.elders[user]
	return ok, nil
}

func (s *Static) HasVerifierCredential(_ context.Context, user domain.UserID, mode string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.verifiers[mode][user]
	return ok, nil
}

// MembershipTier returns the configured tier. Elders without an explicit
// tier are TierElder, members of any community are TierMember.
func (s *Static) MembershipTier(_ context.Context, user domain.UserID) (Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tiers[user]; ok {
		return t, nil
	}
	if _, ok := s.elders[user]; ok {
		return TierElder, nil
	}
	for _, members := range s.communities {
		if _, ok := members[user]; ok {
			return TierMember, nil
		}
	}
	return TierNone, nil
}
