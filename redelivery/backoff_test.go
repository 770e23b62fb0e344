package redelivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiplierBackoff_Delay(t *testing.T) {
	b, err := NewMultiplierBackoff(time.Second, 5*time.Second, 2)
	require.NoError(t, err)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 1000 * time.Millisecond},
		{attempt: 2, want: 2000 * time.Millisecond},
		{attempt: 3, want: 4000 * time.Millisecond},
		{attempt: 4, want: 5000 * time.Millisecond},
		{attempt: 5, want: 5000 * time.Millisecond},
		{attempt: 0, want: 1000 * time.Millisecond},
		{attempt: 2000, want: 5000 * time.Millisecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestMultiplierBackoff_NonDecreasing(t *testing.T) {
	configs := []MultiplierBackoff{
		{MinDelay: time.Millisecond, MaxDelay: time.Minute, Multiplier: 1.5},
		{MinDelay: 100 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 3},
		{MinDelay: time.Second, MaxDelay: time.Hour, Multiplier: 1},
	}

	for _, b := range configs {
		prev := time.Duration(0)
		for a := 1; a <= 64; a++ {
			d := b.Delay(a)
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, b.MaxDelay)
			prev = d
		}
	}
}

func TestMultiplierBackoff_Schedule(t *testing.T) {
	b := MultiplierBackoff{MinDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
	}, b.Schedule(4))
	assert.Empty(t, b.Schedule(0))
}

func TestMultiplierBackoff_Validate(t *testing.T) {
	tests := []struct {
		name    string
		b       MultiplierBackoff
		wantErr bool
	}{
		{"valid", MultiplierBackoff{time.Second, 5 * time.Second, 2}, false},
		{"equal bounds", MultiplierBackoff{time.Second, time.Second, 1}, false},
		{"zero min", MultiplierBackoff{0, time.Second, 2}, true},
		{"max below min", MultiplierBackoff{time.Second, time.Millisecond, 2}, true},
		{"shrinking multiplier", MultiplierBackoff{time.Second, 2 * time.Second, 0.5}, true},
		{"zero multiplier", MultiplierBackoff{time.Second, 2 * time.Second, 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.b.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFixed(t *testing.T) {
	f := Fixed(250 * time.Millisecond)
	assert.Equal(t, 250*time.Millisecond, f.Delay(1))
	assert.Equal(t, 250*time.Millisecond, f.Delay(9))
}
