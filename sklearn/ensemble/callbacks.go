package ensemble

import (
	"math"
	"time"

	"github.com/YuminosukeSato/newsclf/pkg/log"
)

// CallbackEnv is passed to callbacks after every boosting stage.
type CallbackEnv struct {
	Iteration    int // zero based
	TotalStages  int
	TrainLoss    float64
	BeginTime    time.Time
	StopTraining bool
}

// Callback observes boosting. Returning an error aborts Fit; setting
// env.StopTraining ends training after the current stage.
type Callback func(env *CallbackEnv) error

// LogEvaluation logs the training loss every period stages.
func LogEvaluation(logger log.Logger, period int) Callback {
	if period < 1 {
		period = 1
	}
	return func(env *CallbackEnv) error {
		if (env.Iteration+1)%period == 0 || env.Iteration+1 == env.TotalStages {
			logger.Info("Boosting progress",
				log.IterationKey, env.Iteration+1,
				log.LossKey, env.TrainLoss,
			)
		}
		return nil
	}
}

// RecordLoss appends the training loss of every stage to history.
func RecordLoss(history *[]float64) Callback {
	return func(env *CallbackEnv) error {
		*history = append(*history, env.TrainLoss)
		return nil
	}
}

// EarlyStopping stops when the training loss has not improved by more than
// tol for rounds consecutive stages.
func EarlyStopping(rounds int, tol float64) Callback {
	best := math.Inf(1)
	stale := 0
	return func(env *CallbackEnv) error {
		if env.TrainLoss < best-tol {
			best = env.TrainLoss
			stale = 0
			return nil
		}
		stale++
		if stale >= rounds {
			env.StopTraining = true
		}
		return nil
	}
}

// TimeLimit stops training once d has elapsed since the first stage began.
func TimeLimit(d time.Duration) Callback {
	return func(env *CallbackEnv) error {
		if time.Since(env.BeginTime) > d {
			env.StopTraining = true
		}
		return nil
	}
}
