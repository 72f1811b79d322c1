package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExactHostMatch(t *testing.T) {
	p := NewPolicy([]string{"api.example.com"}, nil)
	assert.Equal(t, Allowed, p.Check("api.example.com"))
	assert.Equal(t, Denied, p.Check("other.example.com"))
}

func TestBareWildcardAllowsAnyHost(t *testing.T) {
	p := NewPolicy([]string{"*"}, nil)
	assert.Equal(t, Allowed, p.Check("anything.at.all"))
}

func TestSuffixWildcardRequiresExtraLabel(t *testing.T) {
	p := NewPolicy([]string{"*.example.com"}, nil)
	assert.Equal(t, Allowed, p.Check("api.example.com"))
	assert.Equal(t, Allowed, p.Check("deep.api.example.com"))
	assert.Equal(t, Denied, p.Check("example.com"))
}

func TestAllowListPrecedesBlockList(t *testing.T) {
	p := NewPolicy([]string{"api.example.com"}, []string{"*.example.com"})
	assert.Equal(t, Allowed, p.Check("api.example.com"))
	assert.Equal(t, Denied, p.Check("other.example.com"))
}

func TestBlockOnlyPolicyAllowsEverythingElse(t *testing.T) {
	p := NewPolicy(nil, []string{"evil.com"})
	assert.Equal(t, Denied, p.Check("evil.com"))
	assert.Equal(t, Allowed, p.Check("anything.else"))
}

func TestReplaceSwapsListsWholesale(t *testing.T) {
	p := NewPolicy([]string{"a.com"}, nil)
	assert.Equal(t, Allowed, p.Check("a.com"))
	p.Replace([]string{"b.com"}, nil)
	assert.Equal(t, Denied, p.Check("a.com"))
	assert.Equal(t, Allowed, p.Check("b.com"))
}
