// Package cli implements timetablectl, which runs the scheduling engine over
// a school described in a YAML or JSON file without a database.
//
//	timetablectl generate -f school.yaml [--seed N] [--max-steps N] [--time-budget 5s] [--parallel] [--output json|csv]
//	timetablectl validate -f school.yaml -t result.json
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/sma-timetable/internal/engine"
	"github.com/noah-isme/sma-timetable/internal/service"
	"github.com/noah-isme/sma-timetable/pkg/export"
)

// Version is stamped at build time.
var Version = "dev"

// ErrDefects is returned by validate when the timetable breaks an invariant.
var ErrDefects = errors.New("timetable has defects")

type engineFlags struct {
	seed             int64
	maxSteps         int
	timeBudget       time.Duration
	improvementSteps int
	parallel         bool
	schoolType       string
	verbose          bool
}

func (f *engineFlags) register(cmd *cobra.Command) {
	def := engine.DefaultOptions()
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "tie-breaking seed; 0 keeps the natural order")
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", def.MaxSteps, "search steps per component; negative for unbounded")
	cmd.Flags().DurationVar(&f.timeBudget, "time-budget", def.TimeBudget, "wall-clock budget; negative for unbounded")
	cmd.Flags().IntVar(&f.improvementSteps, "improvement-steps", def.ImprovementSteps, "extra steps spent improving the first solution")
	cmd.Flags().BoolVar(&f.parallel, "parallel", false, "search independent components concurrently")
	cmd.Flags().StringVar(&f.schoolType, "default-school-type", def.DefaultSchoolType, "grid used when the school type is unknown")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log search progress to stderr")
}

func (f *engineFlags) options(stderr io.Writer) engine.Options {
	opts := engine.DefaultOptions()
	opts.Seed = f.seed
	opts.MaxSteps = f.maxSteps
	opts.TimeBudget = f.timeBudget
	opts.ImprovementSteps = f.improvementSteps
	opts.Parallel = f.parallel
	opts.DefaultSchoolType = f.schoolType
	if f.verbose {
		opts.Logger = newLogger(stderr)
	}
	return opts
}

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "timetablectl",
		Short: "Generate and check school timetables offline",
		Long: `timetablectl runs the timetable engine over a school file:
- teachers, subjects, streams and weekly demand
- hard and soft institutional constraints
- deterministic output for a given seed`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(buildGenerateCommand())
	rootCmd.AddCommand(buildValidateCommand())

	return rootCmd
}

func buildGenerateCommand() *cobra.Command {
	var (
		file   string
		output string
		flags  engineFlags
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate timetables for every stream of the school",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadInput(file)
			if err != nil {
				return err
			}
			return runGenerate(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), in, flags.options(cmd.ErrOrStderr()), output)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "school input file (YAML or JSON)")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or csv")
	_ = cmd.MarkFlagRequired("file")
	flags.register(cmd)

	return cmd
}

func buildValidateCommand() *cobra.Command {
	var (
		file      string
		timetable string
		flags     engineFlags
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a generated timetable against the school's invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadInput(file)
			if err != nil {
				return err
			}
			set, err := loadTimetableSet(timetable)
			if err != nil {
				return err
			}
			return runValidate(cmd.OutOrStdout(), in, set, flags.options(cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "school input file (YAML or JSON)")
	cmd.Flags().StringVarP(&timetable, "timetable", "t", "", "generate output or timetable set (JSON)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("timetable")
	flags.register(cmd)

	return cmd
}

func runGenerate(ctx context.Context, stdout, stderr io.Writer, in engine.Input, opts engine.Options, output string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	output = strings.ToLower(output)
	if output != "json" && output != "csv" {
		return fmt.Errorf("unsupported output %q: use json or csv", output)
	}

	result, err := engine.Generate(ctx, in, opts)
	if err != nil {
		var se *engine.SchedulingError
		if errors.As(err, &se) {
			enc := json.NewEncoder(stderr)
			enc.SetIndent("", "  ")
			_ = enc.Encode(se)
		}
		return err
	}

	if output == "csv" {
		body, err := export.NewCSVExporter().Render(service.TimetableDocument("Timetables "+in.School.ID, result.Records))
		if err != nil {
			return fmt.Errorf("render csv: %w", err)
		}
		_, err = stdout.Write(body)
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runValidate(stdout io.Writer, in engine.Input, set *engine.TimetableSet, opts engine.Options) error {
	prepared, err := engine.Prepare(in, opts)
	if err != nil {
		return err
	}
	weights := engine.DefaultWeights()
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	report := engine.Validate(prepared.Model, prepared.Rules, prepared.Grid, set, weights)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%w: %d found", ErrDefects, len(report.Defects))
	}
	return nil
}

// loadInput decodes a school file. JSON is accepted since it is valid YAML.
func loadInput(path string) (engine.Input, error) {
	var in engine.Input
	raw, err := os.ReadFile(path)
	if err != nil {
		return in, fmt.Errorf("failed to read input: %w", err)
	}
	if err := yaml.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("failed to parse input %s: %w", path, err)
	}
	return in, nil
}

// loadTimetableSet accepts either the full generate output or a bare set.
func loadTimetableSet(path string) (*engine.TimetableSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timetable: %w", err)
	}
	var wrapped struct {
		Set *engine.TimetableSet `json:"set"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to parse timetable %s: %w", path, err)
	}
	if wrapped.Set != nil {
		return wrapped.Set, nil
	}
	var set engine.TimetableSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("failed to parse timetable %s: %w", path, err)
	}
	return &set, nil
}

func newLogger(w io.Writer) *zap.Logger {
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), zapcore.DebugLevel))
}
