package pipeline

import (
	"testing"
)

func TestShouldEscalate(t *testing.T) {
	cases := []struct {
		retryCount int
		maxRetries int
		want       bool
	}{
		{0, 3, false},
		{3, 3, false}, // last allowed retry
		{4, 3, true},
		{1, 0, true},
	}

	for _, tc := range cases {
		if got := ShouldEscalate(tc.retryCount, tc.maxRetries); got != tc.want {
			t.Errorf("ShouldEscalate(%d, %d) = %v, want %v",
				tc.retryCount, tc.maxRetries, got, tc.want)
		}
	}
}

func TestDeadLetterCost(t *testing.T) {
	cases := []struct {
		name      string
		mode      string
		reserved  int64
		completed int
		want      int64
	}{
		{"no steps completed", CostModeProportional, 80, 0, 0},
		{"one of eight", CostModeProportional, 80, 1, 10},
		{"half the pipeline", CostModeProportional, 80, 4, 40},
		{"rounds down", CostModeProportional, 100, 3, 37}, // 100*3/8 = 37.5
		{"all steps", CostModeProportional, 80, 8, 80},
		{"zero mode refunds everything", CostModeZero, 80, 5, 0},
		{"negative completed treated as none", CostModeProportional, 80, -1, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeadLetterCost(tc.mode, tc.reserved, tc.completed); got != tc.want {
				t.Errorf("DeadLetterCost(%s, %d, %d) = %d, want %d",
					tc.mode, tc.reserved, tc.completed, got, tc.want)
			}
		})
	}
}
