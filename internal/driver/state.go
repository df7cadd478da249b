package driver

import (
	"fmt"

	"github.com/spherical/render-driver/internal/domain"
)

// taskState is the lifecycle of one manifest entry
type taskState string

const (
	stateLoading    taskState = "loading"
	stateActive     taskState = "active"
	stateLoadFailed taskState = "load_failed"
	stateComplete   taskState = "complete"
)

var allowedTransitions = map[taskState]map[taskState]struct{}{
	stateLoading: {
		stateActive:     {},
		stateLoadFailed: {},
	},
	// active -> active is a page advance or a round rollover
	stateActive: {
		stateActive:   {},
		stateComplete: {},
	},
	stateLoadFailed: {
		stateComplete: {},
	},
	stateComplete: {},
}

func validateTransition(from, to taskState) error {
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid task transition: %s -> %s", from, to)
	}
	return nil
}

// taskRun is the driver's view of the active task
type taskRun struct {
	task    *domain.TaskSpec
	state   taskState
	failure string
}

func newTaskRun(task *domain.TaskSpec) *taskRun {
	return &taskRun{task: task, state: stateLoading}
}

func (tr *taskRun) transition(to taskState) error {
	if err := validateTransition(tr.state, to); err != nil {
		return fmt.Errorf("task %q: %w", tr.task.ID, err)
	}
	tr.state = to
	return nil
}

// step is what drivePage decided to do with the current page
type step int

const (
	stepRender step = iota
	stepSkip
	stepLoadFailure
	stepDone
)

// nextStep inspects the task and, when the current round is exhausted, rolls
// it over to the next one. It returns the action for the page at PageNum.
func (tr *taskRun) nextStep() (step, bool, error) {
	task := tr.task

	if tr.state == stateLoadFailed {
		return stepLoadFailure, false, nil
	}

	rolled := false
	if task.PageNum > task.Limit() {
		if task.Round+1 >= task.Rounds {
			return stepDone, false, nil
		}
		task.Round++
		task.PageNum = 1
		rolled = true
		if err := tr.transition(stateActive); err != nil {
			return stepDone, false, err
		}
		// an empty document has nothing to render in any round
		if task.PageNum > task.Limit() {
			return tr.nextStep()
		}
	}

	if task.Skips(task.PageNum) {
		return stepSkip, rolled, nil
	}
	return stepRender, rolled, nil
}
