package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/david-ria/pmscanv2-sub000/adapter"
	"github.com/david-ria/pmscanv2-sub000/internal/prefstore"
	"github.com/david-ria/pmscanv2-sub000/internal/reading"
	"github.com/david-ria/pmscanv2-sub000/internal/recording"
	"github.com/david-ria/pmscanv2-sub000/internal/scan"
	"github.com/david-ria/pmscanv2-sub000/internal/session"
	"github.com/david-ria/pmscanv2-sub000/internal/transport/goble"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect to a sensor and stream live readings",
	Long: `Connect to an air quality sensor and stream its readings until
interrupted.

Without --address the tool scans, remembers the last used device and only
prompts when several new candidates are in range. With --record the link
is treated as part of an active measurement session: a dropped connection
is re-dialed and re-initialized automatically instead of ending the run.`,
	RunE: runWatch,
}

var (
	watchFamily  string
	watchAddress string
	watchRecord  bool
	watchJSON    bool
	watchVerbose bool
)

func init() {
	watchCmd.Flags().StringVar(&watchFamily, "family", "pmscan", "Device family (pmscan, airbeam)")
	watchCmd.Flags().StringVar(&watchAddress, "address", "", "Connect directly to this device address")
	watchCmd.Flags().BoolVar(&watchRecord, "record", false, "Keep the link alive across drops (recording mode)")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Emit readings as JSON lines")
	watchCmd.Flags().BoolVar(&watchVerbose, "verbose", false, "Enable debug logging")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	profiles, err := loadProfiles(cfg)
	if err != nil {
		return err
	}
	prof := profiles.Lookup(watchFamily)
	if prof == nil {
		return fmt.Errorf("unknown family %q", watchFamily)
	}

	cmd.SilenceUsage = true

	prefs, err := openPrefs(cfg)
	if err != nil {
		logger.WithError(err).Warn("Preference store unavailable, continuing without")
	}
	if prefs != nil {
		defer prefs.Close()
	}

	registry := recording.NewRegistry(logger,
		recording.WithReconnectInterval(cfg.Reconnect.Interval))

	picker := buildPicker(cfg)

	deps := adapter.Deps{
		Logger:    logger,
		Transport: goble.New(logger),
		Registry:  registry,
		Picker:    picker,
		ScanOpts:  scan.Options{Duration: cfg.Scan.Duration},
		Callbacks: session.Callbacks{
			OnReading:        printReading,
			OnBatteryUpdate:  func(p int) { fmt.Printf("battery: %d%%\n", p) },
			OnChargingUpdate: func(c bool) { fmt.Printf("charging: %v\n", c) },
		},
	}
	if prefs != nil {
		deps.Prefs = prefs
	}

	a, err := adapter.NewForProfile(prof, deps)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	address := watchAddress
	if address == "" {
		adv, err := a.RequestDevice(ctx)
		if err != nil {
			return err
		}
		address = adv.Addr()
	}

	if err := a.Connect(ctx, address); err != nil {
		return err
	}
	if err := a.InitializeNotifications(ctx); err != nil {
		a.Disconnect(ctx, true)
		return err
	}

	if watchRecord {
		registry.SetForeground(true)
		fmt.Println("Recording: the link will be kept alive across drops")
	}
	fmt.Printf("Streaming from %s (%s), Ctrl+C to stop\n", watchFamily, address)

	<-sigCh
	fmt.Println("\nStopping...")

	// Release the recording flag first; a recording refuses plain disconnects
	if watchRecord {
		registry.SetForeground(false)
	}
	if !a.Disconnect(ctx, false) {
		a.Disconnect(ctx, true)
	}
	a.Close(ctx)
	return nil
}

func openPrefs(cfg *appConfig) (*prefstore.Store, error) {
	path := cfg.Prefs.Path
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return prefstore.Open(nil, path)
}

// buildPicker wires the selection prompt to the terminal. In a pipe or
// headless run there is no prompt; the picker's timeout fallback picks the
// strongest signal instead.
func buildPicker(cfg *appConfig) *scan.Picker {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	var p *scan.Picker
	onShow := func(candidates []*scan.Candidate) {
		fmt.Println("Multiple sensors in range:")
		for i, c := range candidates {
			fmt.Printf("  [%d] %s  %s  %s\n", i, c.Name(), c.Adv.Addr(), colorRSSI(c.Adv.RSSI()))
		}
		fmt.Printf("Pick one (empty cancels, auto-select in %s): ", cfg.Picker.Timeout)

		go func() {
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				p.Reject()
				return
			}
			idx, err := strconv.Atoi(line)
			if err != nil || idx < 0 || idx >= len(candidates) {
				fmt.Println("Invalid selection")
				p.Reject()
				return
			}
			p.Resolve(candidates[idx].Adv.Addr())
		}()
	}
	if !interactive {
		onShow = nil
	}

	p = scan.NewPicker(nil, onShow, scan.WithPickerTimeout(cfg.Picker.Timeout))
	return p
}

func printReading(r *reading.Reading) {
	if watchJSON {
		enc := json.NewEncoder(os.Stdout)
		_ = enc.Encode(r)
		return
	}

	line := fmt.Sprintf("%s  PM1 %5.1f  PM2.5 %5.1f  PM10 %5.1f  %5.1f°C  %5.1f%%RH",
		r.Timestamp.Format("15:04:05"), r.PM1, r.PM25, r.PM10,
		r.TemperatureC, r.RelativeHumidity)
	if r.PressureHPa != nil {
		line += fmt.Sprintf("  %7.1f hPa", *r.PressureHPa)
	}
	if r.VOCIndex != nil {
		line += fmt.Sprintf("  VOC %5.1f", *r.VOCIndex)
	}
	fmt.Println(colorPM(r.PM25, line))
}

// colorPM tints a reading line by PM2.5 severity
func colorPM(pm25 float64, line string) string {
	switch {
	case pm25 <= 12:
		return color.GreenString(line)
	case pm25 <= 35:
		return color.YellowString(line)
	default:
		return color.RedString(line)
	}
}
