package cmd

import (
	"fmt"
	"io"

	"github.com/notargets/gridtensor/config"
	"github.com/notargets/gridtensor/logger"
	"github.com/notargets/gridtensor/pipeline"
	"github.com/spf13/cobra"
)

// RunConfig is global so that tests can inspect the merged configuration.
var RunConfig *config.Config

func newRunCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	RunConfig = config.NewConfig()
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one surrogate evaluation.",
		Long: `run builds the domain and the reference initial state, evaluates the
surrogate model on the flat tensor, gathers the output and compares it with
the reference solution. All fields are written to the store at the end.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewStandardLogger(stderr)
			if RunConfig.Verbose {
				log = logger.NewVerboseLogger(stderr)
			}
			res, err := pipeline.New(RunConfig, log).Run()
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}
			fmt.Fprintf(stdout, "%s %016x\n", res.RunID, res.OutputChecksum)
			return nil
		},
	}
	config.BuildFlags(runCmd.Flags(), RunConfig)
	return runCmd
}
