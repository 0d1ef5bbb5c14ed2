package dance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTransitions(t *testing.T) {
	t.Parallel()

	failed := State{Phase: Failed}
	aborted := State{Phase: Aborted}

	tests := []struct {
		from State
		to   State
		want bool
	}{
		{State{Phase: Dormant}, State{Phase: Ready}, true},
		{State{Phase: Dormant}, aborted, true},
		{State{Phase: Dormant}, State{Phase: InitSent}, false},
		{State{Phase: Ready}, State{Phase: InitSent}, true},
		{State{Phase: Ready}, State{Phase: SendChallenge}, true},
		{State{Phase: Ready}, State{Phase: Failed, Reason: "any"}, true},
		{State{Phase: InitSent}, State{Phase: AwaitChallenge}, true},
		{State{Phase: InitSent}, State{Phase: Exchange, Total: 8}, false},
		{State{Phase: AwaitChallenge, Total: 8}, State{Phase: Exchange, Round: 0, Total: 8}, true},
		{State{Phase: SendChallenge, Total: 8}, State{Phase: Exchange, Round: 0, Total: 8}, true},
		{State{Phase: SendChallenge, Total: 8}, State{Phase: Exchange, Round: 1, Total: 8}, false},
		{State{Phase: Exchange, Round: 3, Total: 8}, State{Phase: Exchange, Round: 4, Total: 8}, true},
		{State{Phase: Exchange, Round: 3, Total: 8}, State{Phase: Exchange, Round: 5, Total: 8}, false},
		{State{Phase: Exchange, Round: 3, Total: 8}, State{Phase: Verifying}, false},
		{State{Phase: Exchange, Round: 7, Total: 8}, State{Phase: Verifying}, true},
		{State{Phase: Exchange, Round: 7, Total: 8}, State{Phase: Exchange, Round: 8, Total: 8}, false},
		{State{Phase: Verifying}, State{Phase: Auditing}, true},
		{State{Phase: Verifying}, State{Phase: Completed}, false},
		{State{Phase: Auditing}, State{Phase: Completed}, true},
		{State{Phase: Auditing}, failed, true},
		{State{Phase: Completed}, failed, false},
		{State{Phase: Failed}, aborted, false},
		{State{Phase: Aborted}, State{Phase: Ready}, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	for _, p := range []Phase{Completed, Failed, Aborted} {
		assert.Empty(t, ValidTransitions(State{Phase: p}))
		assert.True(t, p.Terminal())
	}
}

// TestExchangeRoundsIncrease walks the Exchange chain from round 0.
func TestExchangeRoundsIncrease(t *testing.T) {
	t.Parallel()

	s := State{Phase: Exchange, Round: 0, Total: 8}
	for {
		next := ValidTransitions(s)[0]
		if next.Phase != Exchange {
			assert.Equal(t, Verifying, next.Phase)
			assert.Equal(t, 7, s.Round)
			break
		}
		assert.Equal(t, s.Round+1, next.Round)
		s = next
	}
}

func TestRole(t *testing.T) {
	t.Parallel()

	assert.True(t, KeyHolder.Initiates())
	assert.False(t, LockHolder.Initiates())
	assert.Equal(t, LockHolder, KeyHolder.Peer())
	assert.Equal(t, "Exchange{2/8}", State{Phase: Exchange, Round: 2, Total: 8}.String())
	assert.Equal(t, "Verify", Verifying.String())
}
