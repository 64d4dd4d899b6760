package validator

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geekxflood/proteus/internal/types"
)

func TestSourcePolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		blocked []string
		ip      string
		want    bool
	}{
		{"empty policy admits all", nil, nil, "203.0.113.9", true},
		{"literal match", []string{"192.0.2.1"}, nil, "192.0.2.1", true},
		{"literal miss", []string{"192.0.2.1"}, nil, "192.0.2.2", false},
		{"cidr match", []string{"10.0.0.0/8"}, nil, "10.20.30.40", true},
		{"cidr miss", []string{"10.0.0.0/8"}, nil, "11.0.0.1", false},
		{"wildcard match", []string{"192.168.*"}, nil, "192.168.1.7", true},
		{"blocked wins over allowed", []string{"10.0.0.0/8"}, []string{"10.0.0.5"}, "10.0.0.5", false},
		{"blocked only", nil, []string{"198.51.100.0/24"}, "198.51.100.3", false},
		{"ipv6 cidr", []string{"2001:db8::/32"}, nil, "2001:db8::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewSourcePolicy(tt.allowed, tt.blocked)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Allows(net.ParseIP(tt.ip)))
		})
	}
}

func TestSourcePolicyRejectsBadPatterns(t *testing.T) {
	for _, pattern := range []string{"", "10.0.0.0/33", "not-an-ip"} {
		_, err := NewSourcePolicy([]string{pattern}, nil)
		var verr types.ValidationError
		require.Error(t, err, pattern)
		assert.True(t, errors.As(err, &verr))
		assert.Equal(t, "allowed_sources", verr.Field)
	}
}

func TestSourcePolicyCheckMessage(t *testing.T) {
	p, err := NewSourcePolicy([]string{"192.0.2.0/24"}, nil)
	require.NoError(t, err)

	err = p.Check(net.ParseIP("203.0.113.1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in allowed list")

	assert.Error(t, p.Check(nil))

	var nilPolicy *SourcePolicy
	assert.NoError(t, nilPolicy.Check(net.ParseIP("203.0.113.1")))
}

func TestValidateCommunities(t *testing.T) {
	assert.NoError(t, ValidateCommunities("public", ""))
	assert.NoError(t, ValidateCommunities("", "private"))
	assert.Error(t, ValidateCommunities("", ""))
	assert.Error(t, ValidateCommunities("pub\x00lic", ""))
	assert.Error(t, ValidateCommunities(strings.Repeat("a", 256), ""))
}
