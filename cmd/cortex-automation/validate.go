package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/adrianstanca1/CortexBuild-sub003/pkg/config"
	"github.com/adrianstanca1/CortexBuild-sub003/pkg/models"
	"github.com/urfave/cli/v3"
)

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Check workflow definition files without running them",
		ArgsUsage: "<workflows.yaml|workflow.json>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			if command.NArg() == 0 {
				return errors.New("at least one workflow file is required")
			}

			var failed []error

			for _, path := range command.Args().Slice() {
				if err := validateFile(path); err != nil {
					failed = append(failed, fmt.Errorf("%s: %w", path, err))

					continue
				}

				fmt.Fprintf(command.Root().Writer, "%s: ok\n", path)
			}

			return errors.Join(failed...)
		},
	}
}

func validateFile(path string) error {
	workflows, err := config.LoadWorkflows(path)
	if err != nil {
		return err
	}

	validate := models.NewValidator()

	var errs []error

	for i, workflow := range workflows {
		if err := workflow.Validate(validate); err != nil {
			errs = append(errs, fmt.Errorf("workflow %d (%s): %w", i, workflow.Name, err))
		}
	}

	return errors.Join(errs...)
}
