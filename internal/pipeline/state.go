package pipeline

// Position of a build in the pipeline.
type State string

const (
	StateStart            State = "start"
	StateBaseReady        State = "base-ready"
	StateInstallerUpdated State = "installer-updated"
	StateSourceStaged     State = "source-staged"
	StatePackageInstalled State = "package-installed"
	StateFailed           State = "failed"
)

// Successful progression, in order. Failure may follow any non-terminal state.
var progression = []State{
	StateStart,
	StateBaseReady,
	StateInstallerUpdated,
	StateSourceStaged,
	StatePackageInstalled,
}

// Returns the state reached when the step started in s succeeds.
//
// Terminal states have no successor.
func (s State) Next() (State, bool) {
	for i, state := range progression[:len(progression)-1] {
		if state == s {
			return progression[i+1], true
		}
	}
	return "", false
}

// Whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StatePackageInstalled || s == StateFailed
}
