package orchestrator

import (
	"fmt"

	"github.com/sourcegraph/conc/panics"
)

// spawn runs fn as a supervised detached flow of task id. A panic inside fn
// does not escape: it is logged with its stack and turns the task failed.
func (e *Engine) spawn(id string, fn func()) {
	e.wg.Go(func() {
		var catcher panics.Catcher
		catcher.Try(fn)

		r := catcher.Recovered()
		if r == nil {
			return
		}
		e.logger.Error("background flow panicked", "task_id", id, "panic", r.Value, "stack", string(r.Stack))
		e.fail(id, fmt.Errorf("background flow panicked: %v", r.Value))
	})
}
