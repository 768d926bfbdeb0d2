package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"swarmbot.klederson.com/internal/app"
	"swarmbot.klederson.com/internal/config"
	"swarmbot.klederson.com/internal/packet"
	"swarmbot.klederson.com/internal/ui"
)

var (
	flagDemo     bool
	flagFast     bool
	flagAdapter  string
	flagConfig   string
	flagLogLevel string
	flagTicks    uint64
	flagSeed     int64
	flagOut      string
	flagDuration time.Duration

	logLevel = new(slog.LevelVar)
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "swarmbot",
		Short: "Swarm bristle bot controller",
		Long: `swarmbot runs one bristle bot: it localises itself from the RSSI of fixed
BLE beacons, wanders with a Lévy walk, samples ambient sound while the
motors are quiet, and advertises its state to the rest of the swarm.

Real hardware needs access to the Bluetooth adapter, GPIO and I2C, usually
via sudo. Use --demo to run against the built-in simulator.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		RunE:              run,
	}

	pf := rootCmd.PersistentFlags()
	pf.BoolVar(&flagDemo, "demo", false, "Use the simulator instead of hardware")
	pf.BoolVar(&flagFast, "fast", false, "Demo only: run on a virtual clock as fast as possible")
	pf.StringVar(&flagAdapter, "adapter", "hci0", "Bluetooth adapter to use")
	pf.StringVarP(&flagConfig, "config", "c", "", "Provisioning YAML file (defaults are used when empty)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Override settings.logLevel (debug, info, warn, error)")
	pf.Int64Var(&flagSeed, "seed", 0, "Seed for the walk and the simulator (0 picks one from the clock)")

	rootCmd.Flags().Uint64Var(&flagTicks, "ticks", 0, "Stop after this many control loop ticks (0 runs until interrupted)")

	calibrateCmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Spin in place and record the compass hard-iron correction",
		Args:  cobra.NoArgs,
		RunE:  calibrate,
	}
	calibrateCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Write the calibration to this YAML file")

	surveyCmd := &cobra.Command{
		Use:   "survey",
		Short: "Listen for advertisers and estimate their distance",
		Args:  cobra.NoArgs,
		RunE:  survey,
	}
	surveyCmd.Flags().DurationVar(&flagDuration, "duration", 10*time.Second, "How long to listen")

	decodeCmd := &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a bot advertisement payload",
		Args:  cobra.ExactArgs(1),
		RunE:  decode,
	}

	rootCmd.AddCommand(calibrateCmd, surveyCmd, decodeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var cfg *config.Config

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(flagConfig)
	if err != nil {
		return err
	}

	level := cfg.Settings.LogLevel
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	if flagSeed == 0 {
		flagSeed = cfg.Locomotion.Seed
	}
	if flagSeed == 0 {
		flagSeed = time.Now().UnixNano()
	}
	return nil
}

func options() app.Options {
	return app.Options{
		Demo:    flagDemo,
		Fast:    flagFast,
		Adapter: flagAdapter,
		Ticks:   flagTicks,
		Seed:    flagSeed,
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err := app.Run(ctx, cfg, options(), slog.Default())
	if err != nil && !flagDemo {
		fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
		fmt.Fprintln(os.Stderr, "Hardware access usually requires elevated permissions.")
		fmt.Fprintln(os.Stderr, "Try one of:")
		fmt.Fprintln(os.Stderr, "  sudo ./swarmbot")
		fmt.Fprintln(os.Stderr, "  ./swarmbot --demo    (simulator, no hardware needed)")
	}
	return err
}

func calibrate(cmd *cobra.Command, args []string) error {
	cal, err := app.Calibrate(cfg, options(), flagOut, slog.Default())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderCalibration(cal))
	return nil
}

func survey(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices, err := app.Survey(ctx, cfg, options(), flagDuration, slog.Default())
	if err != nil {
		return err
	}
	// The virtual clock runs ahead of the wall clock.
	now := time.Now()
	if flagFast {
		for _, d := range devices {
			if d.LastSeen.After(now) {
				now = d.LastSeen
			}
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderSurvey(devices, now))
	return nil
}

func decode(cmd *cobra.Command, args []string) error {
	raw, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "").Replace(args[0]))
	if err != nil {
		return fmt.Errorf("payload is not hex: %w", err)
	}
	l := cfg.Localization
	d, err := packet.Decode(raw, packet.Bounds{MinX: l.MinX, MaxX: l.MaxX, MinY: l.MinY, MaxY: l.MaxY})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.RenderPacket(d))
	return nil
}
