package match

import (
	"github.com/ormasoftchile/stepbind/pkg/kernel/feature"
)

// Report is a serializable view of an Outcome.
type Report struct {
	Step       string     `json:"step"`
	Kind       string     `json:"kind"`
	Method     string     `json:"method,omitempty"`
	Pattern    string     `json:"pattern,omitempty"`
	Arguments  []Argument `json:"arguments,omitempty"`
	Score      *Score     `json:"score,omitempty"`
	Candidates []string   `json:"candidates,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Report describes the outcome of matching step.
func (o Outcome) Report(step feature.StepInstance) Report {
	r := Report{Step: step.String(), Kind: o.Kind.String()}
	if o.Match != nil {
		r.Method = o.Match.Binding.Method.Signature()
		r.Pattern = o.Match.Binding.Pattern
		r.Arguments = o.Match.Arguments
		score := o.Match.Score
		r.Score = &score
	}
	for _, c := range o.Candidates {
		r.Candidates = append(r.Candidates, c.Binding.Method.Signature())
	}
	if o.Err != nil {
		r.Error = o.Err.Error()
	}
	return r
}
