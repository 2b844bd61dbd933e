package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/forPelevin/capburn/internal/compositor"
	"github.com/forPelevin/capburn/internal/domain/caption"
	"github.com/forPelevin/capburn/internal/domain/fonts"
	"github.com/forPelevin/capburn/internal/domain/geometry"
	"github.com/forPelevin/capburn/internal/domain/highlights"
	"github.com/forPelevin/capburn/internal/domain/overlay"
	"github.com/forPelevin/capburn/internal/ports"
	"github.com/forPelevin/capburn/internal/ports/adapters/ffmpeg"
	"github.com/forPelevin/capburn/internal/ports/adapters/openrouter"
	"github.com/forPelevin/capburn/internal/ports/adapters/whisperapi"
	"github.com/forPelevin/capburn/internal/ports/adapters/whispercpp"
	"github.com/forPelevin/capburn/internal/session"
	"github.com/forPelevin/capburn/internal/usecase"
)

const (
	ASRWhisperCpp = "whispercpp"
	ASROpenAI     = "openai"

	projectFile = "project.yaml"
)

type Config struct {
	Input  string
	OutDir string
	// Project is the session file. Analyze writes it (defaults to <run dir>/project.yaml);
	// Edit, Preview and Export read and update it.
	Project string
	Logf    func(format string, args ...any)
	Logger  *zap.Logger

	// CacheDir is the base directory for local artifacts (audio, transcripts, etc.).
	// If empty, defaults to ".cache".
	CacheDir string

	Container       geometry.Size
	MaxPhrases      int
	WordsPerCaption int
	Preset          string
	PresetsFile     string
	Mode            string

	Format     string
	Subtitles  bool
	FlushDelay time.Duration

	FFmpegPath string

	ASR          string
	WhisperBin   string
	WhisperModel string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIAllowedHosts []string

	OpenRouterAPIKey       string
	OpenRouterModel        string
	OpenRouterBaseURL      string
	OpenRouterAllowedHosts []string
}

// Validate checks the settings Analyze and Run need.
func (c Config) Validate() error {
	if c.Input == "" {
		return errors.New("input is empty")
	}
	if _, err := os.Stat(c.Input); err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	if c.MaxPhrases < 0 {
		return fmt.Errorf("phrases must be >= 0")
	}
	if c.WordsPerCaption < 0 {
		return fmt.Errorf("words per caption must be >= 0")
	}
	if c.Mode != "" && !session.Mode(c.Mode).Valid() {
		return fmt.Errorf("unknown mode %q (want %s or %s)", c.Mode, session.ModeKeyPhrases, session.ModeTranscript)
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	switch c.asr() {
	case ASRWhisperCpp:
		if c.WhisperModel == "" {
			return fmt.Errorf("whisper model path is required")
		}
	case ASROpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai transcriber")
		}
		if c.OpenAIBaseURL != "" {
			if err := whisperapi.ValidateBaseURL(c.OpenAIBaseURL, c.OpenAIAllowedHosts); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown transcriber %q (want %s or %s)", c.ASR, ASRWhisperCpp, ASROpenAI)
	}
	if c.OpenRouterAPIKey == "" {
		return nil
	}
	return openrouter.ValidateBaseURL(
		c.OpenRouterBaseURL,
		c.OpenRouterAllowedHosts,
	)
}

func (c Config) validateExport() error {
	if c.Format != "" && c.Format != compositor.FormatWebM && c.Format != compositor.FormatMP4 {
		return fmt.Errorf("unsupported format %q (want %s or %s)", c.Format, compositor.FormatWebM, compositor.FormatMP4)
	}
	if c.FlushDelay < 0 {
		return fmt.Errorf("flush delay must be >= 0")
	}
	return nil
}

func (c Config) asr() string {
	if c.ASR == "" {
		return ASRWhisperCpp
	}
	return strings.ToLower(c.ASR)
}

func (c Config) logf() func(string, ...any) {
	if c.Logf == nil {
		return func(string, ...any) {}
	}
	return c.Logf
}

type Result struct {
	RunDir    string
	Project   string
	Output    string
	Subtitles string
	Frames    int
}

type app struct {
	uc usecase.Usecase
}

// build wires adapters for cfg. Transcription and phrase extraction are only needed by
// Analyze; the editing commands get them anyway since construction does no I/O.
func build(cfg Config) (app, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	reg, err := fonts.NewRegistry()
	if err != nil {
		return app{}, fmt.Errorf("load fonts: %w", err)
	}
	presets := caption.BuiltinPresets()
	if cfg.PresetsFile != "" {
		if presets, err = caption.LoadPresets(cfg.PresetsFile); err != nil {
			return app{}, err
		}
	}

	v := ffmpeg.New(cfg.FFmpegPath, log)

	var asr ports.ASR
	switch cfg.asr() {
	case ASROpenAI:
		asr = whisperapi.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, log)
	default:
		asr = whispercpp.New(cfg.WhisperBin, cfg.WhisperModel, log)
	}
	primary, fallback := phraseExtractors(cfg, log)

	uc := usecase.New(usecase.Deps{
		Video:    v,
		Media:    v,
		ASR:      asr,
		Phrases:  primary,
		Fallback: fallback,
		Composer: overlay.New(reg, log),
		Presets:  presets,
		Log:      log,
	})
	return app{uc: uc}, nil
}

// phraseExtractors picks the LLM extractor when a key is configured, backed by the local
// heuristic; without a key the heuristic is the only extractor.
func phraseExtractors(cfg Config, log *zap.Logger) (ports.PhraseExtractor, ports.PhraseExtractor) {
	local := highlights.NewExtractor()
	if cfg.OpenRouterAPIKey == "" {
		return local, nil
	}
	return openrouter.New(cfg.OpenRouterAPIKey, cfg.OpenRouterModel, cfg.OpenRouterBaseURL, log), local
}

// Analyze transcribes the input, builds captions and writes a project file into a new
// run directory.
func Analyze(ctx context.Context, cfg Config) (Result, error) {
	logf := cfg.logf()
	a, err := build(cfg)
	if err != nil {
		return Result{}, err
	}

	jobID := hash(cfg.Input)
	baseCache := cfg.CacheDir
	if baseCache == "" {
		baseCache = ".cache"
	}
	cacheDir := filepath.Join(baseCache, "runs", jobID)
	logf("preparing workspace")
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return Result{}, err
	}
	logf("cache: %s", cacheDir)

	outDir := cfg.OutDir
	if outDir == "" {
		outDir = "out"
	}
	runOutDir := buildRunOutDir(outDir, cfg.Input, time.Now().UTC())
	if err := os.MkdirAll(runOutDir, 0o755); err != nil {
		return Result{}, err
	}
	logf("output run dir: %s", runOutDir)

	st, err := a.uc.Analyze(ctx, usecase.AnalyzeInput{
		Video:           cfg.Input,
		CacheDir:        cacheDir,
		MaxPhrases:      cfg.MaxPhrases,
		WordsPerCaption: cfg.WordsPerCaption,
		Preset:          cfg.Preset,
		Mode:            session.Mode(cfg.Mode),
		Container:       cfg.Container,
		Logf:            logf,
	})
	if err != nil {
		return Result{}, err
	}

	project := cfg.Project
	if project == "" {
		project = filepath.Join(runOutDir, projectFile)
	}
	if err := session.SaveProject(project, st); err != nil {
		return Result{}, err
	}
	logf("project written (%d captions): %s", len(st.Captions()), project)
	return Result{RunDir: runOutDir, Project: project}, nil
}

// Edit applies one headless edit to the project and saves it.
func Edit(cfg Config, in usecase.EditInput) (string, error) {
	a, st, err := open(cfg)
	if err != nil {
		return "", err
	}
	if in.Container.Empty() {
		in.Container = cfg.Container
	}
	id, err := a.uc.Edit(st, in)
	if err != nil {
		return id, err
	}
	if err := session.SaveProject(cfg.Project, st); err != nil {
		return id, err
	}
	cfg.logf()("edited %s: %s", id, cfg.Project)
	return id, nil
}

// Preview renders the preview surface at time at into an image file. The preview
// geometry it used is saved, so a following export scales from it.
func Preview(ctx context.Context, cfg Config, at float64, out string) error {
	a, st, err := open(cfg)
	if err != nil {
		return err
	}
	img, err := a.uc.PreviewFrame(ctx, st, at, cfg.Container)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := imaging.Save(img, out); err != nil {
		return fmt.Errorf("save preview: %w", err)
	}
	if err := session.SaveProject(cfg.Project, st); err != nil {
		return err
	}
	cfg.logf()("preview at %.2fs: %s", at, out)
	return nil
}

// Export burns the project's captions into a copy of its video.
func Export(ctx context.Context, cfg Config, out string) (Result, error) {
	if err := cfg.validateExport(); err != nil {
		return Result{}, err
	}
	a, st, err := open(cfg)
	if err != nil {
		return Result{}, err
	}
	return export(ctx, cfg, a, st, cfg.Project, out)
}

// Run analyzes the input and exports it in one pass.
func Run(ctx context.Context, cfg Config) (Result, error) {
	res, err := Analyze(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	cfg.Project = res.Project
	a, st, err := open(cfg)
	if err != nil {
		return res, err
	}
	exp, err := export(ctx, cfg, a, st, res.Project, "")
	exp.RunDir = res.RunDir
	return exp, err
}

func export(ctx context.Context, cfg Config, a app, st *session.State, project, out string) (Result, error) {
	logf := cfg.logf()
	format := cfg.Format
	if format == "" {
		format = compositor.FormatWebM
	}
	out, subs := outputPaths(project, out, format, cfg.Subtitles)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return Result{}, err
	}

	cc := compositor.DefaultConfig()
	cc.Format = format
	if cfg.FlushDelay > 0 {
		cc.FlushDelay = cfg.FlushDelay
	}
	res, err := a.uc.Export(ctx, st, usecase.ExportInput{
		Output:        out,
		SubtitlesPath: subs,
		Config:        cc,
		OnProgress: func(p compositor.Progress) {
			logf("export %s: %.0f%%", p.State, p.Percent)
		},
		Logf: logf,
	})
	if serr := session.SaveProject(project, st); serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		return Result{Project: project}, err
	}
	return Result{Project: project, Output: res.Output, Subtitles: subs, Frames: res.Frames}, nil
}

// outputPaths defaults the video next to the project and derives the sidecar from it.
func outputPaths(project, out, format string, subtitles bool) (string, string) {
	if out == "" {
		out = filepath.Join(filepath.Dir(project), "captioned."+format)
	}
	if !subtitles {
		return out, ""
	}
	return out, strings.TrimSuffix(out, filepath.Ext(out)) + ".ass"
}

func open(cfg Config) (app, *session.State, error) {
	if cfg.Project == "" {
		return app{}, nil, errors.New("project path is empty")
	}
	st, err := session.LoadProject(cfg.Project)
	if err != nil {
		return app{}, nil, err
	}
	a, err := build(cfg)
	if err != nil {
		return app{}, nil, err
	}
	return a, st, nil
}

func buildRunOutDir(outRoot, input string, now time.Time) string {
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	name = normalizePathSegment(name)
	if name == "" {
		name = "input"
	}
	ts := now.UTC().Format("20060102-150405Z")
	runSeed := fmt.Sprintf("%s|%d", input, now.UTC().UnixNano())
	suffix := hash(runSeed)[:6]
	return filepath.Join(outRoot, fmt.Sprintf("%s-%s-%s", name, ts, suffix))
}

func normalizePathSegment(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure adapters implement ports
var _ ports.VideoTool = (*ffmpeg.Adapter)(nil)
var _ ports.MediaIO = (*ffmpeg.Adapter)(nil)
var _ ports.ASR = (*whispercpp.Adapter)(nil)
var _ ports.ASR = (*whisperapi.Adapter)(nil)
var _ ports.PhraseExtractor = (*openrouter.Adapter)(nil)
var _ ports.PhraseExtractor = (*highlights.Extractor)(nil)
