// Package validator checks request sources and community strings against the
// agent's access policy.
package validator

import (
	"fmt"
	"net"
	"strings"

	"github.com/geekxflood/proteus/internal/types"
)

// maxCommunityLength bounds community strings to what fits a single-byte
// BER length with room to spare in a minimal datagram.
const maxCommunityLength = 255

// SourcePolicy decides which remote addresses may talk to the agent.
// An empty Allowed list admits every address that is not Blocked.
type SourcePolicy struct {
	Allowed []string `json:"allowed_sources"`
	Blocked []string `json:"blocked_sources"`

	allowed []matcher
	blocked []matcher
}

type matcher struct {
	pattern string
	network *net.IPNet
	ip      net.IP
	prefix  string
}

// NewSourcePolicy compiles allowed and blocked patterns. A pattern is a
// literal IP, a CIDR block, or a dotted prefix ending in "*".
func NewSourcePolicy(allowed, blocked []string) (*SourcePolicy, error) {
	p := &SourcePolicy{Allowed: allowed, Blocked: blocked}

	var err error
	if p.allowed, err = compile("allowed_sources", allowed); err != nil {
		return nil, err
	}
	if p.blocked, err = compile("blocked_sources", blocked); err != nil {
		return nil, err
	}
	return p, nil
}

func compile(field string, patterns []string) ([]matcher, error) {
	out := make([]matcher, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		m := matcher{pattern: pattern}

		switch {
		case pattern == "":
			return nil, types.ValidationError{Field: field, Message: "empty source pattern"}
		case strings.Contains(pattern, "/"):
			_, network, err := net.ParseCIDR(pattern)
			if err != nil {
				return nil, types.ValidationError{Field: field, Message: fmt.Sprintf("invalid CIDR %q", pattern)}
			}
			m.network = network
		case strings.HasSuffix(pattern, "*"):
			m.prefix = strings.TrimSuffix(pattern, "*")
		default:
			m.ip = net.ParseIP(pattern)
			if m.ip == nil {
				return nil, types.ValidationError{Field: field, Message: fmt.Sprintf("invalid IP address %q", pattern)}
			}
		}
		out = append(out, m)
	}
	return out, nil
}

func (m matcher) matches(ip net.IP) bool {
	switch {
	case m.network != nil:
		return m.network.Contains(ip)
	case m.ip != nil:
		return m.ip.Equal(ip)
	default:
		return strings.HasPrefix(ip.String(), m.prefix)
	}
}

// Allows reports whether ip may send requests.
func (p *SourcePolicy) Allows(ip net.IP) bool {
	return p.Check(ip) == nil
}

// Check returns a validation error naming why ip is refused, or nil.
func (p *SourcePolicy) Check(ip net.IP) error {
	if p == nil {
		return nil
	}
	if ip == nil {
		return types.ValidationError{Field: "source_address", Message: "missing source address"}
	}

	for _, m := range p.blocked {
		if m.matches(ip) {
			return types.ValidationError{
				Field:   "source_address",
				Message: fmt.Sprintf("source address %s is blocked by %s", ip, m.pattern),
			}
		}
	}

	if len(p.allowed) == 0 {
		return nil
	}
	for _, m := range p.allowed {
		if m.matches(ip) {
			return nil
		}
	}
	return types.ValidationError{
		Field:   "source_address",
		Message: fmt.Sprintf("source address %s is not in allowed list", ip),
	}
}

// ValidateCommunity checks a configured community string. Empty strings are
// accepted and disable that access level.
func ValidateCommunity(field, community string) error {
	if len(community) > maxCommunityLength {
		return types.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("community string longer than %d bytes", maxCommunityLength),
		}
	}
	for _, r := range community {
		if r < 0x20 || r > 0x7e {
			return types.ValidationError{Field: field, Message: "community string must be printable ASCII"}
		}
	}
	return nil
}

// ValidateCommunities checks the read/write pair. At least one must be set.
func ValidateCommunities(read, write string) error {
	if err := ValidateCommunity("read_community", read); err != nil {
		return err
	}
	if err := ValidateCommunity("write_community", write); err != nil {
		return err
	}
	if read == "" && write == "" {
		return types.ValidationError{Field: "community", Message: "at least one of read_community or write_community must be set"}
	}
	return nil
}
