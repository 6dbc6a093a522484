package auth

import (
	"context"
	"testing"
	"time"

	"github.com/org/notaryadmin/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordPolicy(t *testing.T) {
	policy := PasswordPolicy{MinLength: 8}
	cases := []struct {
		password string
		rule     string
	}{
		{"Ab1", RuleMinLength},
		{"abcdefg1", RuleUppercase},
		{"ABCDEFG1", RuleLowercase},
		{"Abcdefgh", RuleDigit},
		{"Abcdefg1", ""},
	}
	for _, tc := range cases {
		err := policy.Validate(tc.password)
		if tc.rule == "" {
			assert.NoError(t, err, tc.password)
			continue
		}
		var perr *PolicyError
		require.ErrorAs(t, err, &perr, tc.password)
		assert.Equal(t, tc.rule, perr.Rule, tc.password)
	}
}

func TestLockoutUntil(t *testing.T) {
	ctx := context.Background()
	l := NewLockout(storage.NewMemoryBackend(), 5, 15*time.Minute)
	base := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, l.RecordFailure(ctx, "ahmed", base.Add(time.Duration(i)*time.Minute)))
	}

	until, locked, err := l.Check(ctx, "ahmed", base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, base.Add(15*time.Minute), until)

	_, locked, _ = l.Check(ctx, "ahmed", base.Add(16*time.Minute))
	assert.False(t, locked)

	n, err := l.Prune(ctx, base.Add(17*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
