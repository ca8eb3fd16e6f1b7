// Package nli defines the optional entailment classifier used by the
// contradiction engine's fusion step (spec §4.5 step 3). It is optional
// by design: the lexical screens in internal/contradiction are complete
// on their own, and a real NLI model is an external dependency the
// engine may or may not have wired in for a given deployment.
package nli

import "context"

// Classifier scores whether hypothesis contradicts premise.
type Classifier interface {
	// ContradictionScore returns P(contradiction | premise, hypothesis) in [0,1].
	ContradictionScore(ctx context.Context, premise, hypothesis string) (float64, error)
	// Available reports whether a real classifier is wired in. The noop
	// implementation returns false so callers can skip the fusion step
	// entirely rather than fuse in a meaningless constant.
	Available() bool
}

// Noop is the default Classifier: no entailment model configured, so the
// contradiction engine runs lexical screens only (spec §4.5's pipeline
// still functions fully without step 3).
type Noop struct{}

func (Noop) Available() bool { return false }

func (Noop) ContradictionScore(context.Context, string, string) (float64, error) {
	return 0, nil
}
