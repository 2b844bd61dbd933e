package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "capburn",
		Short:        "Lay out, edit and burn captions into a local video",
		SilenceUsage: true,
	}

	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	pf := root.PersistentFlags()
	pf.BoolP("verbose", "v", false, "Verbose logging")
	pf.String("cache", ".cache", "Cache directory")
	pf.String("presets", "", "YAML file with style presets (replaces the built-in set)")
	pf.String("container", "640x360", "Preview container size WxH in pixels")

	root.AddCommand(
		newAnalyzeCmd(),
		newEditCmd(),
		newPreviewCmd(),
		newExportCmd(),
		newRunCmd(),
		newPresetsCmd(),
	)
	return root
}

// newLogger builds the process logger: JSON at info level, or a console development
// logger with --verbose.
func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
