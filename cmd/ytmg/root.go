package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "YTMG"

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ytmg",
		Short: "Personal music download bot",
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))

	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error (defaults to info).")
	cmd.PersistentFlags().String("log-format", "text", "Logging format: text|json.")
	cmd.PersistentFlags().Bool("log-add-source", false, "Include source file:line in logs.")

	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.add_source", cmd.PersistentFlags().Lookup("log-add-source"))

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func initConfig() {
	initViperDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

func initViperDefaults() {
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.owner_id", int64(0))
	viper.SetDefault("telegram.prefix", ",")

	viper.SetDefault("download.max_concurrent", 2)
	viper.SetDefault("download.audio_format", "m4a")
	viper.SetDefault("download.ytdlp_path", "yt-dlp")
	viper.SetDefault("download.ffmpeg_path", "ffmpeg")
	viper.SetDefault("download.task_timeout", 10*time.Minute)
	viper.SetDefault("download.sweep_max_age", time.Hour)

	viper.SetDefault("progress.enabled", true)
	viper.SetDefault("progress.min_edit_interval", 1500*time.Millisecond)

	viper.SetDefault("autoclear.max_per_chat", 200)

	viper.SetDefault("recent.enabled", true)
	viper.SetDefault("recent.max_entries", 5)

	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.base_delay", 2*time.Second)
	viper.SetDefault("retry.max_delay", 30*time.Second)
}
