package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/forPelevin/capburn/internal/pipeline"
	"github.com/forPelevin/capburn/internal/session"
	"github.com/forPelevin/capburn/internal/usecase"
)

func newEditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <project>",
		Short: "Edit one caption in a project",
		Long: `Edit applies preview gestures to one caption and saves the project.
Operations run in this order: text, preset, reset, font size, width, move, timing, visibility.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			defer done()
			cfg.Project = args[0]

			in, err := editInput(cmd.Flags())
			if err != nil {
				return err
			}
			id, err := pipeline.Edit(cfg, in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	f := cmd.Flags()
	f.String("id", "", "Caption ID")
	f.String("mode", "", "Switch caption mode (phrases or transcript) before editing")
	f.String("add-text", "", "Add a text layer at --at with this markup")
	f.Float64("at", 0, "Playhead in seconds")
	f.Bool("remove", false, "Remove the caption")
	f.String("text", "", "Replace the caption markup, e.g. 'big [color=#ff0000]news[/color]'")
	f.String("preset", "", "Apply a style preset")
	f.Bool("reset", false, "Reset position, font size and width")
	f.Float64("font-size", 0, "Font size in preview pixels")
	f.Float64("font-step", 0, "Change font size by this many pixels")
	f.Float64("width", 0, "Max width in percent of the video")
	f.Float64("width-step", 0, "Change max width by this many percent")
	f.String("move", "", "Move the anchor to X,Y in percent of the video")
	f.Float64("start", 0, "Start time in seconds")
	f.Float64("end", 0, "End time in seconds")
	f.Bool("show", false, "Show the caption")
	f.Bool("hide", false, "Hide the caption")
	f.Bool("sync-font", false, "Apply font size changes to every visible caption")
	f.Bool("sync-width", false, "Apply width changes to every visible caption")
	return cmd
}

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <project>",
		Short: "Render the preview surface at a point in time to an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := baseConfig(cmd)
			if err != nil {
				return err
			}
			defer done()
			cfg.Project = args[0]
			at, _ := cmd.Flags().GetFloat64("at")
			out, _ := cmd.Flags().GetString("out")

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			if err := pipeline.Preview(ctx, cfg, at, out); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().Float64("at", 0, "Playhead in seconds")
	cmd.Flags().String("out", "preview.png", "Output image (png or jpg)")
	return cmd
}

// editInput maps the flags that were set onto an EditInput.
func editInput(f *pflag.FlagSet) (usecase.EditInput, error) {
	var in usecase.EditInput
	in.ID, _ = f.GetString("id")
	mode, _ := f.GetString("mode")
	in.Mode = session.Mode(mode)
	in.Remove, _ = f.GetBool("remove")
	in.Preset, _ = f.GetString("preset")
	in.Reset, _ = f.GetBool("reset")
	in.FontStep, _ = f.GetFloat64("font-step")
	in.WidthStep, _ = f.GetFloat64("width-step")
	in.Sync.FontSize, _ = f.GetBool("sync-font")
	in.Sync.Width, _ = f.GetBool("sync-width")

	if f.Changed("add-text") {
		v, _ := f.GetString("add-text")
		in.AddText = &v
	}
	if f.Changed("text") {
		v, _ := f.GetString("text")
		in.Text = &v
	}
	in.At = floatFlag(f, "at")
	in.FontSizePx = floatFlag(f, "font-size")
	in.WidthPercent = floatFlag(f, "width")
	in.StartSec = floatFlag(f, "start")
	in.EndSec = floatFlag(f, "end")

	if f.Changed("move") {
		v, _ := f.GetString("move")
		p, err := parsePoint(v)
		if err != nil {
			return in, err
		}
		in.MoveTo = &p
	}

	show, _ := f.GetBool("show")
	hide, _ := f.GetBool("hide")
	switch {
	case show && hide:
		return in, errors.New("--show and --hide are mutually exclusive")
	case show || hide:
		in.Visible = &show
	}

	if in.ID == "" && in.AddText == nil && !in.Sync.FontSize && !in.Sync.Width {
		return in, errors.New("--id or --add-text is required")
	}
	return in, nil
}

func floatFlag(f *pflag.FlagSet, name string) *float64 {
	if !f.Changed(name) {
		return nil
	}
	v, _ := f.GetFloat64(name)
	return &v
}

// parsePoint parses "X,Y" in percent.
func parsePoint(s string) (usecase.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return usecase.Point{}, fmt.Errorf("invalid position %q (want X,Y)", s)
	}
	x, err1 := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	y, err2 := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err1 != nil || err2 != nil {
		return usecase.Point{}, fmt.Errorf("invalid position %q (want X,Y)", s)
	}
	return usecase.Point{XPercent: x, YPercent: y}, nil
}
