package session

import (
	"fmt"
	"strings"
)

// Step is a workflow stage. Steps are ordered; the zero value is StepProfile.
type Step int

const (
	StepProfile Step = iota
	StepDataUpload
	StepConfigure
	StepRecommend
	StepReview
	StepReport
)

var stepNames = [...]string{"profile", "data_upload", "configure", "recommend", "review", "report"}

func (s Step) Valid() bool { return s >= StepProfile && s <= StepReport }

func (s Step) String() string {
	if !s.Valid() {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

func ParseStep(name string) (Step, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return 0, fmt.Errorf("unknown workflow step %q", name)
}

func (s Step) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid workflow step %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Step) UnmarshalText(b []byte) error {
	v, err := ParseStep(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Progress is the share of the workflow completed on reaching s, in percent.
func (s Step) Progress() int {
	if !s.Valid() {
		return 0
	}
	return int(s) * 100 / int(StepReport)
}

// checkTransition allows a move back to any earlier step, or forward by
// exactly one step when the target's inputs are present in next.
func checkTransition(from Step, next Snapshot) error {
	to := next.Step
	if !to.Valid() {
		return fmt.Errorf("%w: %s", ErrStepNotAllowed, to)
	}
	if to <= from {
		return nil
	}
	if to != from+1 {
		return fmt.Errorf("%w: cannot skip from %s to %s", ErrStepNotAllowed, from, to)
	}
	var missing string
	switch to {
	case StepDataUpload:
		if next.Profile == nil {
			missing = "customer profile"
		}
	case StepConfigure, StepRecommend:
		if next.Profile == nil {
			missing = "customer profile"
		} else if next.Catalog == nil {
			missing = "suburb catalog"
		}
	case StepReview, StepReport:
		if next.Recommendations == nil {
			missing = "recommendations"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s requires %s", ErrStepNotAllowed, to, missing)
	}
	return nil
}
