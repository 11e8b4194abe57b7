package tokens

import "testing"

func TestEstimateRoundsUp(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"What is the minimum wage in Zimbabwe?", 10},
	}
	for _, c := range cases {
		if got := Estimate(c.text); got != c.want {
			t.Fatalf("Estimate(%q) = %d, want %d", c.text, got, c.want)
		}
	}
}

func TestEstimateDeterministic(t *testing.T) {
	text := "unfair dismissal damages under the Labour Act"
	first := Estimate(text)
	for i := 0; i < 10; i++ {
		if got := Estimate(text); got != first {
			t.Fatalf("estimate changed between calls: %d then %d", first, got)
		}
	}
}

func TestEstimatorCustomRatio(t *testing.T) {
	e := Estimator{CharsPerToken: 2}
	if got := e.Estimate("abcd"); got != 2 {
		t.Fatalf("Estimate with ratio 2 = %d, want 2", got)
	}
	// Zero and negative ratios fall back to the default.
	e = Estimator{CharsPerToken: -1}
	if got := e.Estimate("abcd"); got != 1 {
		t.Fatalf("Estimate with invalid ratio = %d, want 1", got)
	}
}

func TestEstimateAll(t *testing.T) {
	e := Estimator{}
	got := e.EstimateAll("abcd", "efgh", "")
	if got != 2 {
		t.Fatalf("EstimateAll = %d, want 2", got)
	}
}

func TestEstimateConversationOverhead(t *testing.T) {
	e := Estimator{}
	bare := e.Estimate("abcd")
	withTurns := e.EstimateConversation("abcd", []string{"efgh", "ijkl"})
	want := bare + 2*(turnOverhead+1)
	if withTurns != want {
		t.Fatalf("EstimateConversation = %d, want %d", withTurns, want)
	}
}
