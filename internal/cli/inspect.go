package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/git-pkgs/addinaudit/internal/analyze"
	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/inspect"
	"github.com/git-pkgs/addinaudit/internal/snapshot"
)

// NewInspectCmd creates the inspect command.
func NewInspectCmd(global *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <file.nupkg>",
		Short: "Inspect a local package archive",
		Long: `Inspects one package archive without contacting the registry or the
hosting service and prints its classification and compliance. A symbols
package next to the archive is picked up automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			logger, err := global.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			pkg, err := inspect.New(cfg.InspectOptions(), logger).InspectFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			opts, err := cfg.AnalyzeOptions()
			if err != nil {
				return err
			}
			analyze.Analyze(pkg, opts)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snapshot.Record{PackageURL: pkg.PURL(), PackageVersion: *pkg})
			}
			printPackage(cmd.OutOrStdout(), pkg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result in snapshot format")
	return cmd
}

func printPackage(w io.Writer, pkg *core.PackageVersion) {
	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	yesNo := func(b bool) string {
		if b {
			return green("yes")
		}
		return red("no")
	}
	ref := func(r core.LibraryReference) string {
		if !r.Referenced() {
			return "none"
		}
		if r.Private {
			return r.Version.String() + " (private)"
		}
		return r.Version.String()
	}

	c := pkg.Compliance
	fmt.Fprintf(w, "%s %s\n", bold(pkg.Name), pkg.Version)
	fmt.Fprintf(w, "  Type:          %s\n", pkg.Type)
	if pkg.PrimaryBinary != "" {
		fmt.Fprintf(w, "  Binary:        %s\n", pkg.PrimaryBinary)
	}
	if len(pkg.Frameworks) > 0 {
		fmt.Fprintf(w, "  Frameworks:    %s\n", strings.Join(pkg.Frameworks, ", "))
	}
	fmt.Fprintf(w, "  Aliases:       %d\n", len(pkg.AliasMethods))
	fmt.Fprintf(w, "  Cake.Core:     %s\n", ref(c.CoreReference))
	fmt.Fprintf(w, "  Cake.Common:   %s\n", ref(c.CommonReference))
	fmt.Fprintf(w, "  Icon:          %s\n", c.Icon)
	fmt.Fprintf(w, "  Symbols:       %s\n", yesNo(pkg.Symbols.Available()))
	fmt.Fprintf(w, "  Source link:   %s\n", yesNo(pkg.Symbols.SourceLink))
	fmt.Fprintf(w, "  XML docs:      %s\n", yesNo(pkg.HasXMLDocumentation))
	fmt.Fprintf(w, "  License:       %s\n", yesNo(c.LicenseDeclared))
	fmt.Fprintf(w, "  Repository:    %s\n", yesNo(c.RepositoryInfoProvided))
	fmt.Fprintf(w, "  Up to date:    %s\n", yesNo(c.UpToDate))
	for _, n := range c.Notes {
		fmt.Fprintf(w, "  %s %s\n", red("!"), n)
	}
}
