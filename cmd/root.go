package cmd

import (
	"context"
	"errors"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tanq16/hlsmirror/internal/config"
	"github.com/tanq16/hlsmirror/internal/downloaders/hls"
	"github.com/tanq16/hlsmirror/internal/output"
	"github.com/tanq16/hlsmirror/internal/scheduler"
	"github.com/tanq16/hlsmirror/internal/utils"
)

var (
	outputPath    string
	tempDir       string
	connections   int
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	bearerToken   string
	ffmpegPath    string
	s3Upload      string
	s3Profile     string
	configPath    string
	debug         bool
	fileLog       bool
)

var cfg config.Config

var HLSMirrorVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "hlsmirror [URL] -o OUTPUT",
	Short:   "hlsmirror mirrors an HLS stream to local storage and remuxes it to mp4",
	Version: HLSMirrorVersion,
	Args:    cobra.ExactArgs(1),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			output.PrintError(err.Error())
			os.Exit(1)
		}
		applyConfig(cmd)
		utils.InitLogger(debug)
		if fileLog {
			f, err := os.OpenFile(utils.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				output.PrintError(fmt.Sprintf("Error opening log file: %v", err))
				os.Exit(1)
			}
			utils.SetLogOutput(f)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := u.ParseRequestURI(args[0]); err != nil {
			output.PrintError("Invalid URL format")
			os.Exit(1)
		}
		job := utils.Job{
			JobType:          "hls",
			URL:              args[0],
			OutputPath:       outputPath,
			TempRoot:         tempDir,
			Connections:      connections,
			HTTPClientConfig: buildHTTPConfig(),
			Metadata: map[string]any{
				"ffmpeg":    ffmpegPath,
				"s3Upload":  s3Upload,
				"s3Profile": s3Profile,
			},
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go handleSignals()

		err := scheduler.Run(ctx, []utils.Job{job}, 1, fileLog)
		if err != nil {
			os.Exit(exitCode(err))
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyConfig fills every flag the user did not set explicitly from the config file.
func applyConfig(cmd *cobra.Command) {
	flags := cmd.Flags()
	if !flags.Changed("debug") {
		debug = cfg.Debug
	}
	if !flags.Changed("tempdir") {
		tempDir = cfg.TempDir
	}
	if !flags.Changed("concurrency") {
		connections = cfg.Concurrency
	}
	if !flags.Changed("user-agent") && cfg.UserAgent != "" {
		userAgent = cfg.UserAgent
	}
	if !flags.Changed("proxy") {
		proxyURL = cfg.Proxy
	}
	if !flags.Changed("ffmpeg") {
		ffmpegPath = cfg.FFmpeg
	}
	if !flags.Changed("s3-profile") {
		s3Profile = cfg.S3Profile
	}
}

func buildHTTPConfig() utils.HTTPClientConfig {
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// Check if proxy URL contains auth
	parsedProxy, err := u.Parse(proxyURL)
	if proxyURL != "" && err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	hdrs := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		hdrs[k] = v
	}
	for k, v := range utils.ParseHeaderArgs(headers) {
		hdrs[k] = v
	}
	return utils.HTTPClientConfig{
		Timeout:       timeout,
		KATimeout:     kaTimeout,
		ProxyURL:      proxyURL,
		ProxyUsername: proxyUsername,
		ProxyPassword: proxyPassword,
		UserAgent:     userAgent,
		BearerToken:   bearerToken,
		Headers:       hdrs,
	}
}

// handleSignals exits immediately on interrupt; partial files stay for the next run.
func handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Str("op", "cmd/root").Msg("Exiting on SIGINT/SIGTERM...")
	os.Exit(0)
}

func exitCode(err error) int {
	var toolErr *hls.ExternalToolError
	if errors.As(err, &toolErr) {
		return toolErr.ExitCode()
	}
	return 1
}

func init() {
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output mp4 file path")
	rootCmd.MarkFlagRequired("output")
	rootCmd.PersistentFlags().StringVar(&tempDir, "tempdir", config.DefaultCacheDir(), "Root directory for job temp files")
	rootCmd.Flags().IntVarP(&connections, "concurrency", "c", config.DefaultConcurrency, "Number of fragments fetched in parallel")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.Flags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.Flags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.Flags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Referer: https://example.com'); can be specified multiple times")
	rootCmd.Flags().StringVar(&bearerToken, "bearer-token", "", "Bearer token sent to the origin")
	rootCmd.Flags().StringVar(&ffmpegPath, "ffmpeg", config.DefaultFFmpeg, "Path to the ffmpeg binary")
	rootCmd.Flags().StringVar(&s3Upload, "s3-upload", "", "Upload the mp4 to s3://bucket/key after muxing")
	rootCmd.Flags().StringVar(&s3Profile, "s3-profile", "", "AWS profile used for the upload")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&fileLog, "file-log", false, "Log to "+utils.LogFile+" and show the live status display")

	rootCmd.AddCommand(newCleanCmd())
}

func absOrSame(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
