package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/git-pkgs/addinaudit/internal/core"
	"github.com/git-pkgs/addinaudit/internal/pipeline"
)

type runOptions struct {
	workDir     string
	prefix      string
	packages    []string
	allVersions bool
	clearCache  bool
	skipRecipe  bool
}

// NewRunCmd creates the run command.
func NewRunCmd(global *globalOptions) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Discover and analyze packages",
		Long: `Runs the whole pipeline: discovery, download, inspection, repository
resolution, compliance analysis and the recipe check. Versions analyzed by
an earlier run are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if opts.workDir != "" {
				cfg.Paths.WorkDir = opts.workDir
			}
			if opts.prefix != "" {
				cfg.Registry.Prefix = opts.prefix
			}
			for _, p := range opts.packages {
				name, err := packageName(p)
				if err != nil {
					return err
				}
				cfg.Registry.Include = append(cfg.Registry.Include, name)
			}
			if cmd.Flags().Changed("all-versions") {
				cfg.Registry.AllVersions = opts.allVersions
			}
			if cmd.Flags().Changed("clear-cache") {
				cfg.Steps.ClearCache = opts.clearCache
			}
			if opts.skipRecipe {
				cfg.Steps.CheckRecipe = false
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := global.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			pc, err := pipeline.Build(cfg, logger)
			if err != nil {
				return err
			}
			logger.Info("starting run", zap.String("run_id", pc.RunID))

			if err := pipeline.New(pipeline.DefaultSteps(), logger).Run(cmd.Context(), pc); err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), pc.Summary)
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.workDir, "work-dir", "w", "", "Directory for downloads, snapshots and history")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Only audit packages whose name starts with this prefix")
	cmd.Flags().StringSliceVarP(&opts.packages, "package", "p", nil, "Also audit this package (name or pkg:nuget PURL)")
	cmd.Flags().BoolVar(&opts.allVersions, "all-versions", false, "Audit every published version, not only the latest")
	cmd.Flags().BoolVar(&opts.clearCache, "clear-cache", false, "Empty the package cache and saved results first")
	cmd.Flags().BoolVar(&opts.skipRecipe, "skip-recipe-check", false, "Do not inspect repository build scripts")

	return cmd
}

// packageName accepts a bare name or a nuget PURL.
func packageName(s string) (string, error) {
	if !strings.HasPrefix(s, "pkg:") {
		return s, nil
	}
	name, _, err := core.ParsePURL(s)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", s, err)
	}
	return name, nil
}

func printSummary(w io.Writer, s *pipeline.Summary) {
	if s == nil {
		return
	}
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Audit Summary ==="))
	fmt.Fprintf(w, "Packages:    %d\n", s.Total)
	fmt.Fprintf(w, "Clean:       %s\n", green(len(s.Clean)))
	fmt.Fprintf(w, "Exceptions:  %s\n", red(len(s.Exceptions)))
	fmt.Fprintf(w, "Up to date:  %s\n", green(s.UpToDate))
	fmt.Fprintf(w, "Uses recipe: %d\n", s.Recipe)
	fmt.Fprintf(w, "Transferred: %d\n", s.Transferred)

	fmt.Fprintf(w, "\n%s\n", yellow("By type:"))
	for _, t := range []core.PackageType{core.TypeAddin, core.TypeModule, core.TypeRecipe} {
		fmt.Fprintf(w, "  %-8s %d\n", t, s.ByType[t])
	}

	fmt.Fprintf(w, "\n%s\n", yellow("By icon:"))
	icons := make([]string, 0, len(s.ByIcon))
	for icon := range s.ByIcon {
		icons = append(icons, string(icon))
	}
	sort.Strings(icons)
	for _, icon := range icons {
		fmt.Fprintf(w, "  %-28s %d\n", icon, s.ByIcon[core.IconCompliance(icon)])
	}

	if len(s.Exceptions) > 0 {
		fmt.Fprintf(w, "\n%s\n", red("Exceptions:"))
		for _, p := range s.Exceptions {
			fmt.Fprintf(w, "  %s %s\n", p.Name, gray(p.Version))
			for _, n := range p.Compliance.Notes {
				fmt.Fprintf(w, "    - %s\n", n)
			}
		}
	}
	fmt.Fprintln(w)
}
