package vm

import (
	"context"
	"fmt"
)

// FrameResult summarizes one frame.
type FrameResult struct {
	// Frame is the index of the frame that ran.
	Frame        uint64
	ThreadsRun   int
	Instructions int
	// Faults isolated under FaultIsolate, in thread order.
	Faults []*RuntimeError
	// SceneRequest is the scene requested during the frame, or NoScene.
	SceneRequest int
}

// RunFrame runs one frame:
//
//  1. the input is polled once and mapped into the input variables;
//  2. every thread that is active and not paused runs, in ascending id
//     order, until it yields, finishes or faults;
//  3. the requested thread states are committed for all threads at once.
//
// Under FaultAbort the first fault is returned and nothing is committed.
// Resource failures abort regardless of the policy. A cancelled context
// stops the frame between two threads, also without commit.
func (vm *VM) RunFrame(ctx context.Context) (FrameResult, error) {
	res := FrameResult{Frame: vm.frame, SceneRequest: NoScene}

	vm.vars.applyInput(vm.input.Poll())

	for id := range vm.threads {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		t := &vm.threads[id]
		if !t.active || t.paused {
			continue
		}
		res.ThreadsRun++

		n, outcome, err := vm.runThread(id)
		res.Instructions += n
		if err != nil {
			rerr, ok := AsRuntimeError(err)
			if !ok || vm.policy != FaultIsolate || !rerr.IsIsolatable() {
				vm.log.Error("Frame aborted", "frame", vm.frame, "error", err)
				return res, err
			}
			vm.log.Error("Thread fault isolated", "frame", vm.frame, "thread", id, "error", err)
			t.finish()
			res.Faults = append(res.Faults, rerr)
			continue
		}
		if outcome == Finished {
			t.end()
		}
		vm.log.Debug("Thread slice done", "thread", id, "outcome", outcome.String(), "pc", t.pc, "instructions", n)
	}

	vm.commit()
	if vm.randomTick {
		vm.rng.Uint64()
	}
	vm.frame++
	res.SceneRequest = vm.requestedScene
	return res, nil
}

// runThread steps thread id until its slice ends.
func (vm *VM) runThread(id int) (int, StepOutcome, error) {
	for n := 1; ; n++ {
		outcome, err := vm.Step(id)
		if err != nil {
			return n, Fatal, err
		}
		if outcome != Continue {
			return n, outcome, nil
		}
		if vm.budget > 0 && n >= vm.budget {
			rerr := NewRuntimeError(ErrorInstructionBudget,
				fmt.Sprintf("slice exceeded %d instructions without yielding", vm.budget))
			rerr.ThreadID = id
			rerr.PC = vm.pcOf(vm.threads[id].pc)
			return n, Fatal, rerr
		}
	}
}

// commit is the frame boundary: every thread's requested state becomes
// current in one pass.
func (vm *VM) commit() {
	for i := range vm.threads {
		vm.threads[i].commit()
	}
}

// Run runs frames until the context is done, a fault aborts or frames
// frames have run (0 means no limit). It returns the number of frames run.
func (vm *VM) Run(ctx context.Context, frames int) (int, error) {
	for n := 0; frames == 0 || n < frames; n++ {
		res, err := vm.RunFrame(ctx)
		if err != nil {
			return n, err
		}
		if res.SceneRequest != NoScene {
			return n + 1, nil
		}
	}
	return frames, nil
}
