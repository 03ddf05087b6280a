package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/addinaudit/internal/semver"
)

// NewCompareCmd creates the compare command.
func NewCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <a> <b>",
		Short: "Compare two package versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := semver.Parse(args[0])
			if err != nil {
				return err
			}
			b, err := semver.Parse(args[1])
			if err != nil {
				return err
			}
			op := "="
			switch semver.Compare(a, b) {
			case -1:
				op = "<"
			case 1:
				op = ">"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", a, op, b)
			return err
		},
	}
}
