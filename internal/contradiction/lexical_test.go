package contradiction

import "testing"

func TestNegationScreen(t *testing.T) {
	cases := []struct {
		name      string
		premise   string
		ypothesis string
		wantMatch bool
	}{
		{"direct negation same subject", "The deployment is complete", "The deployment is not complete", true},
		{"no negation", "The deployment is complete", "The deployment is finished", false},
		{"both negated", "The deployment is not complete", "The deployment is not done", false},
		{"negation different subject", "The deployment is complete", "The lunch is not ready", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, ok := negationScreen(tc.premise, tc.ypothesis)
			if ok != tc.wantMatch {
				t.Errorf("negationScreen(%q, %q) matched=%v, want %v", tc.premise, tc.ypothesis, ok, tc.wantMatch)
			}
		})
	}
}

func TestAntonymScreen(t *testing.T) {
	cases := []struct {
		name      string
		premise   string
		hypo      string
		wantMatch bool
	}{
		{"success vs failure same subject", "the deploy was a success", "the deploy was a failure", true},
		{"hot vs cold same subject", "the server room is hot", "the server room is cold", true},
		{"no antonym", "the deploy was a success", "the lunch was tasty", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, ok := antonymScreen(tc.premise, tc.hypo)
			if ok != tc.wantMatch {
				t.Errorf("antonymScreen(%q, %q) matched=%v, want %v", tc.premise, tc.hypo, ok, tc.wantMatch)
			}
		})
	}
}

func TestNumericScreen(t *testing.T) {
	cases := []struct {
		name      string
		premise   string
		hypo      string
		wantMatch bool
	}{
		{"large relative delta same context", "latency is 100 ms", "latency is 500 ms", true},
		{"small relative delta", "latency is 100 ms", "latency is 105 ms", false},
		{"different units", "latency is 100 ms", "latency is 100 kg", false},
		{"different context", "latency is 100 ms", "cpu usage is 500 ms", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, ok := numericScreen(tc.premise, tc.hypo)
			if ok != tc.wantMatch {
				t.Errorf("numericScreen(%q, %q) matched=%v, want %v", tc.premise, tc.hypo, ok, tc.wantMatch)
			}
		})
	}
}

func TestEntityAttributeScreen(t *testing.T) {
	cases := []struct {
		name      string
		premise   string
		hypo      string
		wantMatch bool
	}{
		{"conflicting possessive attribute", "bob's favorite color is blue", "bob's favorite color is red", true},
		{"same value no conflict", "bob's favorite color is blue", "bob's favorite color is blue", false},
		{"conflicting lives-in", "alice lives in boston", "alice lives in denver", true},
		{"different entity", "bob's favorite color is blue", "alice's favorite color is red", false},
		{"no pattern match", "bob likes blue", "bob likes red", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, ok := entityAttributeScreen(tc.premise, tc.hypo)
			if ok != tc.wantMatch {
				t.Errorf("entityAttributeScreen(%q, %q) matched=%v, want %v", tc.premise, tc.hypo, ok, tc.wantMatch)
			}
		})
	}
}
