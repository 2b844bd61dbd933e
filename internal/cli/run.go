package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/pipeline"
)

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <input>",
		Short: "Transcribe a video and write a caption project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			defer done()
			if err := analyzeConfig(cmd, args[0], &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Hour)
			defer cancel()
			res, err := pipeline.Analyze(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Project)
			return nil
		},
	}
	addAnalyzeFlags(cmd)
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <project>",
		Short: "Burn the project's visible captions into a copy of its video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			defer done()
			cfg.Project = args[0]
			exportConfig(cmd, &cfg)
			out, _ := cmd.Flags().GetString("out")

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Hour)
			defer cancel()
			res, err := pipeline.Export(ctx, cfg, out)
			if err != nil {
				return err
			}
			printExport(cmd, res)
			return nil
		},
	}
	cmd.Flags().String("out", "", "Output video (default: captioned.<format> next to the project)")
	addExportFlags(cmd)
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Analyze and export in one pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			defer done()
			if err := analyzeConfig(cmd, args[0], &cfg); err != nil {
				return err
			}
			exportConfig(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Hour)
			defer cancel()
			res, err := pipeline.Run(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Project)
			printExport(cmd, res)
			return nil
		},
	}
	addAnalyzeFlags(cmd)
	addExportFlags(cmd)
	return cmd
}

func newPresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List style preset IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("presets")
			presets := caption.BuiltinPresets()
			if path != "" {
				var err error
				if presets, err = caption.LoadPresets(path); err != nil {
					return err
				}
			}
			for _, id := range presets.IDs() {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func addAnalyzeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("out", "out", "Output directory")
	f.String("project", "", "Project file to write (default: <run dir>/project.yaml)")
	f.Int("phrases", 7, "Max key phrases")
	f.Int("words", 4, "Words per caption in transcript mode")
	f.String("preset", caption.DefaultPreset, "Initial style preset")
	f.String("mode", "phrases", "Initial caption mode (phrases or transcript)")

	// Hidden tuning flag (internal)
	f.String("asr", "", "Transcriber (whispercpp or openai)")
	_ = f.MarkHidden("asr")
}

func addExportFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("format", "webm", "Output container (webm or mp4)")
	f.Bool("subtitles", false, "Also write an ASS subtitle file next to the video")
}

// baseConfig reads the persistent flags and environment. done flushes the logger.
func baseConfig(cmd *cobra.Command) (pipeline.Config, func(), error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	cacheDir, _ := cmd.Flags().GetString("cache")
	presets, _ := cmd.Flags().GetString("presets")
	container, _ := cmd.Flags().GetString("container")

	size, err := parseSize(container)
	if err != nil {
		return pipeline.Config{}, nil, err
	}
	log, err := newLogger(verbose)
	if err != nil {
		return pipeline.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	done := func() { _ = log.Sync() }

	errOut := cmd.ErrOrStderr()
	cfg := pipeline.Config{
		CacheDir:    cacheDir,
		PresetsFile: presets,
		Container:   size,
		Logger:      log.Named("capburn"),
		Logf: func(format string, args ...any) {
			fmt.Fprintf(errOut, format+"\n", args...)
		},

		FFmpegPath: getenvDefault("FFMPEG_PATH", "ffmpeg"),

		ASR:          getenvDefault("CAPBURN_ASR", pipeline.ASRWhisperCpp),
		WhisperBin:   getenvDefault("WHISPER_BIN", ".cache/bin/whisper.cpp"),
		WhisperModel: getenvDefault("WHISPER_MODEL", ".cache/models/ggml-base.bin"),

		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:      os.Getenv("OPENAI_BASE_URL"),
		OpenAIAllowedHosts: splitList(os.Getenv("OPENAI_ALLOWED_HOSTS")),

		OpenRouterAPIKey:       os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:        os.Getenv("OPENROUTER_MODEL"),
		OpenRouterBaseURL:      getenvDefault("OPENROUTER_BASE_URL", "https://openrouter.ai"),
		OpenRouterAllowedHosts: splitList(os.Getenv("OPENROUTER_ALLOWED_HOSTS")),
	}
	if cfg.OpenRouterAPIKey == "" {
		log.Info("OPENROUTER_API_KEY not set, using local phrase extraction")
	}
	return cfg, done, nil
}

func analyzeConfig(cmd *cobra.Command, input string, cfg *pipeline.Config) error {
	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	cfg.Input = absIn
	cfg.OutDir, _ = f.GetString("out")
	cfg.Project, _ = f.GetString("project")
	cfg.MaxPhrases, _ = f.GetInt("phrases")
	cfg.WordsPerCaption, _ = f.GetInt("words")
	cfg.Preset, _ = f.GetString("preset")
	cfg.Mode, _ = f.GetString("mode")
	if asr, _ := f.GetString("asr"); asr != "" {
		cfg.ASR = asr
	}
	return nil
}

func exportConfig(cmd *cobra.Command, cfg *pipeline.Config) {
	cfg.Format, _ = cmd.Flags().GetString("format")
	cfg.Subtitles, _ = cmd.Flags().GetBool("subtitles")
}

func printExport(cmd *cobra.Command, res pipeline.Result) {
	fmt.Fprintln(cmd.OutOrStdout(), res.Output)
	if res.Subtitles != "" {
		fmt.Fprintln(cmd.OutOrStdout(), res.Subtitles)
	}
}

// parseSize parses "WxH".
func parseSize(s string) (geometry.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return geometry.Size{}, fmt.Errorf("invalid size %q (want WxH)", s)
	}
	wi, err1 := strconv.Atoi(w)
	hi, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || wi <= 0 || hi <= 0 {
		return geometry.Size{}, fmt.Errorf("invalid size %q (want WxH)", s)
	}
	return geometry.Size{W: wi, H: hi}, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
