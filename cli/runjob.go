package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/conveyorhq/conveyor/pkg/client"
	"github.com/conveyorhq/conveyor/pkg/core"
	"github.com/conveyorhq/conveyor/pkg/params"
)

func runJobCmd(c *client.Client) *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "run-job <job_class>",
		Short: "Run a single job synchronously in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cmdArgs []string) error {
			class := cmdArgs[0]

			var jobArgs params.Arguments
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &jobArgs); err != nil {
					return fmt.Errorf("conveyor: parse --args: %w", err)
				}
			}

			result, err := c.RunNow(cmd.Context(), class, jobArgs)
			if err != nil {
				return err
			}

			slog.Info("job finished",
				"job_class", class,
				"job_result_uuid", result.UUID,
				"status", result.Status,
			)
			if result.Status == core.StatusErrored {
				return fmt.Errorf("conveyor: job errored: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "", `job arguments as JSON, e.g. '{"args":[42,"x"]}'`)
	return cmd
}
