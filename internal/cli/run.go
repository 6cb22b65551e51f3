package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/autoclip/internal/logging"
	"github.com/forPelevin/autoclip/internal/pipeline"
	"github.com/forPelevin/autoclip/internal/types"
	"github.com/forPelevin/autoclip/internal/usecase"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <video path or url>",
		Short: "Clip one local video or social media URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}

	cmd.Flags().String("aspect", "", "Output aspect ratio: 9:16, 16:9, 1:1 or original (default DEFAULT_ASPECT_RATIO)")
	cmd.Flags().Int("max-clips", usecase.DefaultMaxClips, "Maximum number of clips")
	cmd.Flags().Bool("caption", false, "Caption clips with ZapCap (needs ZAPCAP_API_KEY)")
	cmd.Flags().String("template", "", "ZapCap template id (default ZAPCAP_TEMPLATE_ID)")
	cmd.Flags().String("language", "", "Caption language (default ZAPCAP_LANGUAGE)")

	// Hidden tuning flags (internal)
	cmd.Flags().Int("min", 0, "Min clip duration seconds")
	cmd.Flags().Int("max", 0, "Max clip duration seconds")
	_ = cmd.Flags().MarkHidden("min")
	_ = cmd.Flags().MarkHidden("max")
	return cmd
}

func run(cmd *cobra.Command, source string) error {
	aspect, _ := cmd.Flags().GetString("aspect")
	maxClips, _ := cmd.Flags().GetInt("max-clips")
	caption, _ := cmd.Flags().GetBool("caption")
	template, _ := cmd.Flags().GetString("template")
	language, _ := cmd.Flags().GetString("language")
	minSec, _ := cmd.Flags().GetInt("min")
	maxSec, _ := cmd.Flags().GetInt("max")

	cfg, err := configFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if minSec > 0 {
		cfg.MinClip = time.Duration(minSec) * time.Second
	}
	if maxSec > 0 {
		cfg.MaxClip = time.Duration(maxSec) * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if caption && !cfg.CaptionsEnabled() {
		return fmt.Errorf("config: ZAPCAP_API_KEY is required for --caption")
	}

	src, err := parseSource(source)
	if err != nil {
		return err
	}
	in := usecase.Input{
		Source:            src,
		UseCaption:        caption,
		CaptionTemplateID: firstNonEmpty(template, cfg.ZapcapTemplateID),
		CaptionLanguage:   firstNonEmpty(language, cfg.ZapcapLanguage),
		AspectRatio:       firstNonEmpty(aspect, cfg.DefaultAspect),
		MaxClips:          maxClips,
	}

	logger := logging.NewLogger(cmd.ErrOrStderr(), getenvDefault("LOG_LEVEL", "info"), getenvDefault("LOG_FORMAT", "text"))

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Hour)
	defer cancel()

	report, err := pipeline.Build(cfg, logger).Run(ctx, in)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, report.Message)
	for _, c := range report.Clips {
		fmt.Fprintf(out, "%d. %s [%s-%s] %s\n", c.Ordinal, c.Title, c.StartTime, c.EndTime, c.FilePath)
		if c.Caption != nil {
			fmt.Fprintf(out, "   captioned: %s\n", c.Caption.CaptionedPath)
		} else if c.CaptionError != "" {
			fmt.Fprintf(out, "   caption failed: %s\n", c.CaptionError)
		}
	}
	return nil
}

// parseSource treats http(s) arguments as URLs and everything else as a
// local file.
func parseSource(arg string) (types.Source, error) {
	lower := strings.ToLower(arg)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return types.Source{Kind: types.SourceURL, URL: arg}, nil
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return types.Source{}, err
	}
	if _, err := os.Stat(abs); err != nil {
		return types.Source{}, fmt.Errorf("stat input: %w", err)
	}
	return types.Source{Kind: types.SourcePath, Path: abs}, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
