package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	externalarchive "github.com/deoncarlette/AutoMod/external/archive"
	configloader "github.com/deoncarlette/AutoMod/external/config"
	externalroom "github.com/deoncarlette/AutoMod/external/room"
	"github.com/deoncarlette/AutoMod/internal/config"
	"github.com/deoncarlette/AutoMod/internal/session"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

var (
	flagAnnouncements       []string
	flagAnnounceIntervalMin int
	flagAnnounceDelaySec    int
	flagPollIntervalSec     int
	flagPrivilegeTimeoutSec int
	flagDumpIntervalTicks   int
)

var rootCmd = &cobra.Command{
	Use:   "automod",
	Short: "AutoMod joins live audio rooms and moderates them by policy",
}

var joinCmd = &cobra.Command{
	Use:   "join <room_id>",
	Short: "Join a room and moderate it until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().StringArrayVar(&flagAnnouncements, "announcement", nil, "recurring announcement line (repeatable)")
	joinCmd.Flags().IntVar(&flagAnnounceIntervalMin, "announcement-interval", 60, "minutes between recurring announcements")
	joinCmd.Flags().IntVar(&flagAnnounceDelaySec, "announcement-delay", 2, "seconds between lines of a multi-line message")
	joinCmd.Flags().IntVar(&flagPollIntervalSec, "poll-interval", 10, "seconds between privilege status polls")
	joinCmd.Flags().IntVar(&flagPrivilegeTimeoutSec, "privilege-timeout", 120, "seconds to wait for a privilege grant")
	joinCmd.Flags().IntVar(&flagDumpIntervalTicks, "dump-interval", 8, "refresh ticks between feed snapshot dumps")
	rootCmd.AddCommand(joinCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runJoin(cmd *cobra.Command, args []string) error {
	roomID := args[0]

	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	injector := setupDI(cfg)
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}

	opts := session.Options{
		Announcements:        flagAnnouncements,
		AnnouncementInterval: time.Duration(flagAnnounceIntervalMin) * time.Minute,
		AnnouncementDelay:    time.Duration(flagAnnounceDelaySec) * time.Second,
		PollInterval:         time.Duration(flagPollIntervalSec) * time.Second,
		PrivilegeTimeout:     time.Duration(flagPrivilegeTimeoutSec) * time.Second,
		DumpInterval:         flagDumpIntervalTicks,
	}

	slog.Info("startup: joining room", "room_id", roomID)
	status, err := manager.Join(context.Background(), roomID, opts)
	if err != nil {
		slog.Error("join failed", "room_id", roomID, "error", err)
		os.Exit(1)
	}
	slog.Info("room joined",
		"room_id", status.RoomID,
		"room_type", string(status.RoomType),
		"host", status.HostName,
		"active_speaker", status.ActiveSpeaker,
		"active_moderator", status.ActiveModerator)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	manager.TerminateAll()
	return nil
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	externalroom.RegisterDI(injector)
	externalarchive.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}
