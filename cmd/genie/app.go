package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/yok-tottii/genie/internal/assistant"
	"github.com/yok-tottii/genie/internal/audio"
	"github.com/yok-tottii/genie/internal/bridge"
	"github.com/yok-tottii/genie/internal/clipboard"
	"github.com/yok-tottii/genie/internal/config"
	"github.com/yok-tottii/genie/internal/conversation"
	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/encoder"
	"github.com/yok-tottii/genie/internal/hotkey"
	"github.com/yok-tottii/genie/internal/inference"
	"github.com/yok-tottii/genie/internal/logger"
	"github.com/yok-tottii/genie/internal/mixer"
	"github.com/yok-tottii/genie/internal/notification"
	"github.com/yok-tottii/genie/internal/permissions"
	"github.com/yok-tottii/genie/internal/recording"
	"github.com/yok-tottii/genie/internal/screen"
	"github.com/yok-tottii/genie/internal/tray"
)

// App holds all application state
type App struct {
	logger     *logger.Logger
	config     *config.Config
	configPath string

	trayMgr   *tray.Manager
	hub       *bridge.Hub
	server    *bridge.Server
	hotkeyMgr *hotkey.Manager
	mic       *audio.PortAudioSource
	engine    *mixer.Engine
	recorder  *recording.Manager
	assistant *assistant.Assistant
	clipboard *clipboard.Manager
	notifier  *notification.NotificationManager

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

func runApp() error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, noTray)
	if err != nil {
		return err
	}
	defer log.Close()

	app := &App{logger: log, config: cfg, configPath: path}
	log.Info("Genie v%s starting (settings: %s)", version, path)

	if noTray {
		if err := app.start(); err != nil {
			return err
		}
		app.waitForSignal()
		app.stop()
		return nil
	}

	app.trayMgr = tray.NewManager(tray.Config{
		OnReady: func() {
			if err := app.start(); err != nil {
				log.Error("Startup failed: %v", err)
				app.trayMgr.Quit()
				return
			}
			go func() {
				app.waitForSignal()
				app.trayMgr.Quit()
			}()
		},
		OnShowOverlay:  app.showOverlay,
		OnClear:        app.clearConversation,
		OnDeviceChange: app.selectDevice,
		OnQuit:         app.stop,
	})

	// Blocks until Quit
	app.trayMgr.Run()
	app.stop()
	return nil
}

// start builds the pipeline and starts the bridge and event loop
func (a *App) start() error {
	cfg := a.config.Clone()

	a.notifier = notification.NewNotificationManager("Genie", a.logger)

	perms := permissions.NewPermissionChecker()
	if msg := perms.GetMissingPermissionsMessage(); msg != "" {
		a.logger.Warn("%s", msg)
		if !perms.IsMicrophoneAuthorized() {
			a.notifier.MicrophonePermissionDenied()
		}
	}

	// Microphone and desktop audio
	var micOpener audio.MicrophoneOpener
	micConfig := audio.DefaultMicConfig()
	micConfig.DeviceID = cfg.Audio.MicDeviceID
	micConfig.SampleRate = cfg.Audio.SampleRate
	if mic, err := audio.NewPortAudioSource(micConfig); err != nil {
		a.logger.Error("Microphone unavailable: %v", err)
	} else {
		a.mic = mic
		micOpener = mic
	}

	var systemOpener audio.SystemAudioOpener
	if cfg.Audio.SystemSource != "" {
		systemOpener = audio.NewFFmpegSource(cfg.Audio.FFmpegPath, cfg.Audio.SystemFormat, cfg.Audio.SystemSource, cfg.Audio.SampleRate)
	}
	resolver := audio.NewResolver(micOpener, systemOpener, perms, a.logger)

	mixConfig := mixer.DefaultConfig()
	mixConfig.MicPan = cfg.Audio.MicPan
	mixConfig.SystemPan = cfg.Audio.SystemPan
	a.engine = mixer.NewEngine(mixConfig, a.logger)

	enc := encoder.New(cfg.Audio.FFmpegPath, cfg.Audio.BitrateKbps, a.logger)
	startEncoder := func(ctx context.Context, src audio.Stream) (recording.EncodeSession, error) {
		sess, err := enc.Start(ctx, src)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}

	// Presentation fan-out
	a.hub = bridge.NewHub(a.logger)
	a.clipboard = clipboard.NewManager(clipboard.ParseMode(cfg.Clipboard), a.logger)
	sinks := domain.MultiSink{a.hub, a.notifier, a.clipboard}
	if a.trayMgr != nil {
		sinks = append(sinks, a.trayMgr)
	}

	recConfig := recording.DefaultConfig()
	recConfig.MaxDuration = time.Duration(cfg.MaxRecordTime) * time.Second
	recConfig.MIMEType = encoder.MIMEType
	if cfg.Audio.KeepRecordings {
		dir, err := config.ExpandPath(cfg.Audio.RecordingsDir)
		if err != nil || dir == "" {
			a.logger.Warn("Recording archive disabled: invalid recordings_dir %q", cfg.Audio.RecordingsDir)
		} else if err := os.MkdirAll(dir, 0755); err != nil {
			a.logger.Warn("Recording archive disabled: %v", err)
		} else {
			recConfig.ArchiveDir = dir
		}
	}

	robot := screen.NewRobotgoSource()
	capConfig := screen.Config{
		ThumbnailSize: image.Pt(cfg.Capture.ThumbnailWidth, cfg.Capture.ThumbnailHeight),
		SettleDelay:   time.Duration(cfg.Capture.SettleDelayMS) * time.Millisecond,
	}
	capturer := screen.New(capConfig, robot, a.hub.Window(), robot, a.logger)

	client := inference.NewClient(assistant.InferenceConfig(a.config), inference.NewGeminiGenerator(inference.DefaultGeminiConfig()), a.logger)

	// Global chords; the overlay can still send keys without them
	var hotkeys <-chan hotkey.Event
	a.hotkeyMgr = hotkey.New()
	shortcuts := assistant.Shortcuts(a.config)
	if err := a.hotkeyMgr.Register(shortcuts); err != nil {
		a.logger.Error("Failed to register shortcuts: %v", err)
	} else {
		hotkeys = a.hotkeyMgr.Events()
		a.logger.Info("Shortcuts registered: %s", hotkey.FormatShortcuts(shortcuts))
		for letter, conflicts := range hotkey.CheckShortcuts(shortcuts) {
			a.logger.Warn("Ctrl+%s shadows %s in other applications", letter, conflicts[0].Name)
		}
	}

	var activity assistant.Activity
	if a.trayMgr != nil {
		activity = a.trayMgr
	}

	convo := conversation.NewLog(conversation.DefaultMaxTurns)

	var asst *assistant.Assistant
	a.recorder = recording.New(recConfig, resolver, a.engine, startEncoder,
		func(clip recording.Clip) { asst.Handoff(clip) }, assistant.RecorderSink(convo, sinks), a.logger)
	asst = assistant.New(assistant.Options{
		Recorder:  a.recorder,
		Capturer:  capturer,
		Client:    client,
		Log:       convo,
		Sink:      sinks,
		Activity:  activity,
		Shortcuts: shortcuts,
		Hotkeys:   hotkeys,
	}, a.logger)
	a.assistant = asst
	a.hub.OnKey(asst.HandleKey)

	// Bridge
	handler := bridge.NewHandler(bridge.HandlerOptions{
		Assistant:         asst,
		Conversation:      asst.Conversation(),
		Config:            a.config,
		ConfigPath:        a.configPath,
		Devices:           a.listDevices,
		Hub:               a.hub,
		OnSettingsChanged: a.applySettings,
	}, a.logger)

	serverConfig := bridge.DefaultConfig()
	serverConfig.Port = cfg.ServerPort
	if port != 0 {
		serverConfig.Port = port
	}
	a.server = bridge.NewServer(serverConfig, a.logger)
	if err := a.server.Start(handler.Routes()); err != nil {
		return fmt.Errorf("failed to start bridge: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		asst.Run(ctx)
	}()

	a.refreshDeviceMenu()

	fmt.Println("==========================================================")
	fmt.Println("Genie is running")
	fmt.Printf("Overlay bridge: %s (websocket %s/ws)\n", a.server.URL(), a.server.URL())
	fmt.Printf("Shortcuts: %s\n", hotkey.FormatShortcuts(shortcuts))
	fmt.Println("Quit with Ctrl+C or from the tray menu")
	fmt.Println("==========================================================")
	return nil
}

// stop tears everything down; safe to call more than once
func (a *App) stop() {
	if a.cancel == nil {
		return
	}
	a.stopOnce.Do(a.shutdown)
}

func (a *App) shutdown() {
	a.logger.Info("Shutting down")
	a.cancel()
	<-a.done

	if a.server != nil && a.server.IsRunning() {
		if err := a.server.Stop(); err != nil {
			a.logger.Error("Failed to stop bridge: %v", err)
		}
	}
	a.hub.Close()
	if a.hotkeyMgr != nil {
		a.hotkeyMgr.Close()
	}
	a.engine.Close()
	if a.mic != nil {
		a.mic.Close()
	}
	a.logger.Info("Stopped")
}

func (a *App) waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	signal.Stop(sigChan)
	a.logger.Info("Received shutdown signal")
}

// applySettings pushes saved settings into the running components
func (a *App) applySettings(cfg *config.Config) error {
	a.assistant.ApplyConfig(cfg)
	snapshot := cfg.Clone()
	a.clipboard.SetMode(clipboard.ParseMode(snapshot.Clipboard))

	if a.mic != nil && a.mic.DeviceID() != snapshot.Audio.MicDeviceID {
		a.mic.SetDevice(snapshot.Audio.MicDeviceID)
		a.refreshDeviceMenu()
	}

	shortcuts := assistant.Shortcuts(cfg)
	if a.hotkeyMgr.IsRunning() && shortcuts == a.hotkeyMgr.GetShortcuts() {
		return nil
	}
	return a.reloadHotkeys(shortcuts)
}

// reloadHotkeys re-registers the global chords. Overlay keys follow the
// router, which ApplyConfig has already rebound.
func (a *App) reloadHotkeys(shortcuts hotkey.Shortcuts) error {
	if err := a.hotkeyMgr.Close(); err != nil {
		a.logger.Warn("%v", err)
	}
	if err := a.hotkeyMgr.Register(shortcuts); err != nil {
		return fmt.Errorf("failed to register shortcuts: %w", err)
	}
	a.assistant.SetHotkeys(a.hotkeyMgr.Events())
	a.logger.Info("Shortcuts changed to %s", hotkey.FormatShortcuts(shortcuts))
	return nil
}

func (a *App) listDevices() ([]audio.Device, error) {
	if a.mic == nil {
		return nil, fmt.Errorf("microphone unavailable")
	}
	return a.mic.ListDevices()
}

func (a *App) refreshDeviceMenu() {
	if a.trayMgr == nil || a.mic == nil {
		return
	}
	devices, err := a.mic.ListDevices()
	if err != nil {
		a.logger.Warn("Failed to list microphones: %v", err)
		return
	}
	current := a.mic.DeviceID()
	items := []tray.Device{{ID: -1, Name: "System default", IsCurrent: current == -1}}
	for _, d := range devices {
		items = append(items, tray.Device{ID: d.ID, Name: d.Name, IsDefault: d.IsDefault, IsCurrent: d.ID == current})
	}
	a.trayMgr.UpdateDeviceMenu(items)
}

func (a *App) selectDevice(id int) {
	if err := a.config.Update(map[string]interface{}{"mic_device_id": float64(id)}); err != nil {
		a.logger.Error("Failed to select microphone: %v", err)
		return
	}
	if err := a.config.Save(a.configPath); err != nil {
		a.logger.Warn("Failed to save settings: %v", err)
	}
	if err := a.applySettings(a.config); err != nil {
		a.logger.Warn("Failed to apply settings: %v", err)
	}
}

func (a *App) showOverlay() {
	if err := a.hub.Window().Show(); err != nil {
		a.logger.Warn("Failed to show overlay: %v", err)
	}
}

func (a *App) clearConversation() {
	a.assistant.Conversation().Clear()
	a.logger.Info("Conversation cleared")
}
