package file

import (
	"context"
	"os"
	"sort"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/persistence"
)

// StepRepository stores run step attempts under steps/<runID>/.
type StepRepository struct {
	store *Persistence
}

func (sr *StepRepository) stepPath(step *models.RunStep) string {
	return sr.store.path(stepsDir, step.RunID, step.ID+".json")
}

func (sr *StepRepository) validate(op string, step *models.RunStep) error {
	if err := validateID(step.RunID); err != nil {
		return persistence.NewRunError(op, step.RunID, err)
	}

	if err := validateID(step.ID); err != nil {
		return persistence.NewRunError(op, step.RunID, err)
	}

	return nil
}

// Create stores a new step attempt.
func (sr *StepRepository) Create(_ context.Context, step *models.RunStep) error {
	if err := sr.validate("CreateStep", step); err != nil {
		return err
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	if err := writeJSON(sr.stepPath(step), step); err != nil {
		return persistence.NewRunError("CreateStep", step.RunID, err)
	}

	return nil
}

// Update replaces an existing step attempt.
func (sr *StepRepository) Update(_ context.Context, step *models.RunStep) error {
	if err := sr.validate("UpdateStep", step); err != nil {
		return err
	}

	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	if _, err := os.Stat(sr.stepPath(step)); os.IsNotExist(err) {
		return persistence.NewRunError("UpdateStep", step.RunID, persistence.ErrStepNotFound)
	}

	if err := writeJSON(sr.stepPath(step), step); err != nil {
		return persistence.NewRunError("UpdateStep", step.RunID, err)
	}

	return nil
}

// ListByRun returns the attempts of a run ordered by step index then attempt.
func (sr *StepRepository) ListByRun(_ context.Context, runID string) ([]*models.RunStep, error) {
	if err := validateID(runID); err != nil {
		return nil, persistence.NewRunError("ListSteps", runID, err)
	}

	sr.store.mu.RLock()
	defer sr.store.mu.RUnlock()

	steps := make([]*models.RunStep, 0)

	err := readDir(sr.store.path(stepsDir, runID), func(path string) error {
		var step models.RunStep
		if err := readJSON(path, &step); err != nil {
			return err
		}

		steps = append(steps, &step)

		return nil
	})
	if err != nil {
		return nil, persistence.NewRunError("ListSteps", runID, err)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].StepIndex != steps[j].StepIndex {
			return steps[i].StepIndex < steps[j].StepIndex
		}

		return steps[i].Attempt < steps[j].Attempt
	})

	return steps, nil
}
