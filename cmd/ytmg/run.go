package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/den22den22/ytmg/internal/bot"
	"github.com/den22den22/ytmg/internal/clearlog"
	"github.com/den22den22/ytmg/internal/fsstore"
	"github.com/den22den22/ytmg/internal/history"
	"github.com/den22den22/ytmg/internal/logutil"
	"github.com/den22den22/ytmg/internal/musicapi"
	"github.com/den22den22/ytmg/internal/pipeline"
	"github.com/den22den22/ytmg/internal/progress"
	"github.com/den22den22/ytmg/internal/retryutil"
	"github.com/den22den22/ytmg/internal/statepaths"
	"github.com/den22den22/ytmg/internal/telegram"
	"github.com/den22den22/ytmg/internal/ytdlp"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot and poll for commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context())
		},
	}

	cmd.Flags().String("telegram-bot-token", "", "Telegram bot token.")
	cmd.Flags().Int64("telegram-owner-id", 0, "Telegram user ID allowed to use the bot.")
	cmd.Flags().String("prefix", "", "Command prefix (default ,).")
	cmd.Flags().String("data-dir", "", "State directory (default ~/.ytmg).")
	cmd.Flags().String("download-dir", "", "Download directory (default <data-dir>/downloads).")
	cmd.Flags().String("music-auth-file", "", "Music service headers JSON (default <data-dir>/music_auth.json).")

	_ = viper.BindPFlag("telegram.bot_token", cmd.Flags().Lookup("telegram-bot-token"))
	_ = viper.BindPFlag("telegram.owner_id", cmd.Flags().Lookup("telegram-owner-id"))
	_ = viper.BindPFlag("telegram.prefix", cmd.Flags().Lookup("prefix"))
	_ = viper.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
	_ = viper.BindPFlag("download.dir", cmd.Flags().Lookup("download-dir"))
	_ = viper.BindPFlag("music.auth_file", cmd.Flags().Lookup("music-auth-file"))

	return cmd
}

func runBot(parent context.Context) error {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return err
	}

	token := strings.TrimSpace(viper.GetString("telegram.bot_token"))
	if token == "" {
		return fmt.Errorf("missing telegram.bot_token (set via --telegram-bot-token or %s_TELEGRAM_BOT_TOKEN)", envPrefix)
	}
	ownerID := viper.GetInt64("telegram.owner_id")
	if ownerID == 0 {
		return fmt.Errorf("missing telegram.owner_id (set via --telegram-owner-id or %s_TELEGRAM_OWNER_ID)", envPrefix)
	}

	dataDir := statepaths.DataDir()
	downloadDir := statepaths.DownloadDir()
	for _, dir := range []string{dataDir, downloadDir} {
		if err := fsstore.EnsureDir(dir, 0o755); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 90 * time.Second}
	api := telegram.NewAPI(httpClient, "https://api.telegram.org", token)

	music := musicapi.NewHandle(logger, &http.Client{Timeout: 30 * time.Second}, "", statepaths.MusicAuthPath())
	if err := music.Authenticate(ctx); err != nil {
		return err
	}

	runner := ytdlp.NewExecRunner(logger, viper.GetString("download.ytdlp_path"))
	tagger := pipeline.NewFFmpegTagger(logger, viper.GetString("download.ffmpeg_path"))
	orchestrator := pipeline.New(logger, runner, tagger, nil, pipeline.Options{
		Dir:         downloadDir,
		AudioFormat: viper.GetString("download.audio_format"),
		Parallelism: viper.GetInt("download.max_concurrent"),
	})

	if n := pipeline.SweepStale(downloadDir, viper.GetDuration("download.sweep_max_age")); n > 0 {
		logger.Info("download_dir_swept", "removed", n)
	}

	hist := history.NewStore(logger, statepaths.RecentPath(),
		viper.GetInt("recent.max_entries"), viper.GetBool("recent.enabled"))
	clears := clearlog.NewRegistry(logger, viper.GetInt("autoclear.max_per_chat"))

	retryBase := retryutil.Policy{
		MaxAttempts: viper.GetInt("retry.max_attempts"),
		BaseDelay:   viper.GetDuration("retry.base_delay"),
		MaxDelay:    viper.GetDuration("retry.max_delay"),
	}

	b, err := bot.New(bot.Config{
		OwnerID:       ownerID,
		Prefix:        viper.GetString("telegram.prefix"),
		TaskTimeout:   viper.GetDuration("download.task_timeout"),
		MaxConcurrent: viper.GetInt("download.max_concurrent"),
		SettingsPath:  statepaths.SettingsPath(),
	}, bot.Dependencies{
		Logger:    logger,
		API:       api,
		Music:     music,
		Clears:    clears,
		Pipeline:  orchestrator,
		History:   hist,
		RetryBase: retryBase,
		ProgressOpts: progress.Options{
			Enabled:         viper.GetBool("progress.enabled"),
			MinEditInterval: viper.GetDuration("progress.min_edit_interval"),
		},
	})
	if err != nil {
		return err
	}

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("bot_stopped")
	return nil
}
