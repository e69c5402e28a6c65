package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/genie/internal/assistant"
	"github.com/yok-tottii/genie/internal/audio"
	"github.com/yok-tottii/genie/internal/config"
	"github.com/yok-tottii/genie/internal/inference"
	"github.com/yok-tottii/genie/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	envFile  string
	logLevel string
	port     int
	noTray   bool
	verbose  bool

	askImage   string
	askTimeout time.Duration
)

func init() {
	// systray and the macOS hotkey/permission calls need the main thread
	runtime.LockOSThread()
}

var rootCmd = &cobra.Command{
	Use:   "genie",
	Short: "Push-to-talk and screenshot interview assistant",
	Long: `Genie listens to your microphone and desktop audio while a shortcut is held,
captures the screen on demand, and answers with a Gemini model.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the assistant (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp()
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices()
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask one question from the command line",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return ask(strings.Join(args, " "))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Genie v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is the user config dir)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with GENIE_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror the log to stderr")

	runCmd.Flags().IntVar(&port, "port", 0, "bridge port (default from settings)")
	runCmd.Flags().BoolVar(&noTray, "no-tray", false, "run without a system tray icon")
	rootCmd.Flags().AddFlagSet(runCmd.Flags())

	askCmd.Flags().StringVar(&askImage, "image", "", "attach a screenshot file")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 2*time.Minute, "give up after this long")

	rootCmd.AddCommand(runCmd, devicesCmd, askCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the settings file and applies .env and environment overrides
func loadConfig() (*config.Config, string, error) {
	path := cfgFile
	if path == "" {
		path = config.GetConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.ApplyEnvFile(envFile); err != nil {
		return nil, "", err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	return cfg, path, nil
}

func newLogger(cfg *config.Config, stderr bool) (*logger.Logger, error) {
	lc := logger.DefaultConfig()
	level, err := logger.ParseLevel(cfg.Clone().LogLevel)
	if err != nil {
		return nil, err
	}
	lc.Level = level
	lc.Stderr = stderr || verbose
	return logger.New(lc)
}

func listDevices() error {
	mic, err := audio.NewPortAudioSource(audio.DefaultMicConfig())
	if err != nil {
		return err
	}
	defer mic.Close()

	devices, err := mic.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %3d  %s\n", marker, d.ID, d.Name)
	}
	return nil
}

func ask(question string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer log.Close()

	req := inference.Request{Text: question}
	if askImage != "" {
		data, err := os.ReadFile(askImage)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		req.Image = &inference.Blob{Data: data, MIMEType: http.DetectContentType(data)}
	}
	if req.Text == "" && req.Image == nil {
		return fmt.Errorf("nothing to ask: pass a question or --image")
	}

	client := inference.NewClient(assistant.InferenceConfig(cfg), inference.NewGeminiGenerator(inference.DefaultGeminiConfig()), log)

	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()

	answer, err := client.Infer(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}
