package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueIsDeterministic(t *testing.T) {
	a := NewAuthority("secret-key")
	t1 := a.Issue("booking-1", "evt-abc")
	t2 := a.Issue("booking-1", "evt-abc")
	require.Equal(t, t1, t2)
	assert.True(t, a.Verify(t1, "booking-1", "evt-abc"))
}

func TestVerifyRejectsTampering(t *testing.T) {
	a := NewAuthority("secret-key")
	tok := a.Issue("booking-1", "evt-abc")

	// flip one character
	tampered := []byte(tok)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	assert.False(t, a.Verify(string(tampered), "booking-1", "evt-abc"))
	assert.False(t, a.Verify(tok[:len(tok)-1], "booking-1", "evt-abc"))
	assert.False(t, a.Verify(tok, "booking-2", "evt-abc"))
	assert.False(t, a.Verify(tok, "booking-1", "evt-xyz"))
	assert.False(t, a.Verify("", "booking-1", "evt-abc"))
}

func TestDifferentKeysDifferentTokens(t *testing.T) {
	t1 := NewAuthority("key-one").Issue("booking-1", "evt-abc")
	t2 := NewAuthority("key-two").Issue("booking-1", "evt-abc")
	assert.NotEqual(t, t1, t2)
}
