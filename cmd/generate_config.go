package cmd

import (
	"fmt"
	"io"

	"github.com/notargets/gridtensor/config"
	"github.com/spf13/cobra"
)

func newGenerateConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config",
		Short: "Print the default configuration.",
		Long: `generate-config prints the default configuration to stdout
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ret, err := config.NewConfig().Marshal()
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "%s\n", ret)
			return nil
		},
	}
}
