package verifiers

import (
	"context"
	"encoding/json"
	"regexp"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// PatternVerifier runs case-sensitive regexes over the stringified result
// body. match must match; reject must not. The failure outcome is
// configurable (warn by default). A regex that fails to compile turns the
// verifier into one that always warns with the compile error.
type PatternVerifier struct {
	name       string
	order      string
	match      *regexp.Regexp
	reject     *regexp.Regexp
	failure    models.Outcome
	compileErr error
}

// NewPatternVerifier builds a pattern verifier. match and reject are
// optional; an empty failure outcome defaults to warn.
func NewPatternVerifier(name, order, match, reject string, failure models.Outcome) *PatternVerifier {
	v := &PatternVerifier{name: name, order: order, failure: failure}
	if v.failure == "" {
		v.failure = models.OutcomeWarn
	}
	var err error
	if match != "" {
		if v.match, err = regexp.Compile(match); err != nil {
			v.compileErr = err
		}
	}
	if reject != "" && v.compileErr == nil {
		if v.reject, err = regexp.Compile(reject); err != nil {
			v.compileErr = err
		}
	}
	return v
}

func (v *PatternVerifier) Name() string  { return v.name }
func (v *PatternVerifier) Order() string { return v.order }

func (v *PatternVerifier) Verify(ctx context.Context, tool string, args json.RawMessage, result string) Verdict {
	if v.compileErr != nil {
		return Verdict{
			Outcome:  models.OutcomeWarn,
			Verifier: v.name,
			Message:  "pattern failed to compile: " + v.compileErr.Error(),
		}
	}
	if v.match != nil && !v.match.MatchString(result) {
		return Verdict{
			Outcome:  v.failure,
			Verifier: v.name,
			Message:  "result does not match required pattern " + v.match.String(),
		}
	}
	if v.reject != nil && v.reject.MatchString(result) {
		return Verdict{
			Outcome:  v.failure,
			Verifier: v.name,
			Message:  "result matches rejected pattern " + v.reject.String(),
		}
	}
	return Verdict{Outcome: models.OutcomePass, Verifier: v.name}
}

var _ Verifier = (*PatternVerifier)(nil)
