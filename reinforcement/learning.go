package reinforcement

/*
Offline training. Train drives an engine that nobody else can see (before the server
starts, or from the train command), so no guard is needed here; the live, observable
version of the same episode loop is in the simulation package and goes through the
shared-state guard for every step.
*/

import (
	"context"
)

// ProgressFunc is a callback by which the training method can lend progress details,
// while exercising some level of control over its cancellation to prevent blocking.
// ProgressFunc is synchronous/blocking and should be defined to complete quickly.
type ProgressFunc func(context.Context, int)

// EpisodeResult summarizes one episode.
type EpisodeResult struct {
	Steps       int
	Return      float64
	ReachedGoal bool
}

// RunEpisode resets the engine and steps it until the goal is reached, maxSteps
// steps were taken (maxSteps <= 0 means no limit), or ctx is cancelled. Cancellation
// is only observed between steps.
func RunEpisode(ctx context.Context, engine *Engine, maxSteps int) (result EpisodeResult) {
	engine.Reset()
	for maxSteps <= 0 || result.Steps < maxSteps {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tr := engine.Step()
		if tr.Noop {
			result.ReachedGoal = true
			return
		}
		result.Steps++
		result.Return += tr.Reward
		if tr.Complete {
			result.ReachedGoal = true
			return
		}
	}
	return
}

// Train runs up to episodes full episodes, calling progressFn after each. It returns
// the number of episodes completed before ctx was cancelled.
func Train(
	ctx context.Context,
	engine *Engine,
	episodes int,
	maxSteps int,
	progressFn ProgressFunc,
) (completed int) {
	for completed < episodes {
		select {
		case <-ctx.Done():
			return
		default:
		}

		RunEpisode(ctx, engine, maxSteps)
		if ctx.Err() != nil {
			return
		}
		completed++
		if progressFn != nil {
			progressFn(ctx, completed)
		}
	}
	return
}
