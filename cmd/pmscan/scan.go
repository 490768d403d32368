package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/david-ria/pmscanv2-sub000/internal/profile"
	"github.com/david-ria/pmscanv2-sub000/internal/scan"
	"github.com/david-ria/pmscanv2-sub000/internal/transport"
	"github.com/david-ria/pmscanv2-sub000/internal/transport/goble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for supported air quality sensors",
	Long: `Scan for supported air quality sensors in the vicinity.

Only devices matching a known family (by advertised service or name
prefix) are listed, together with their signal strength. Use --all to
drop the family filter and see every BLE device.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanFamily   string
	scanAll      bool
	scanVerbose  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringVar(&scanFamily, "family", "", "Only list one family (pmscan, airbeam)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every BLE device, not just known families")
	scanCmd.Flags().BoolVar(&scanVerbose, "verbose", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	registry, err := loadProfiles(cfg)
	if err != nil {
		return err
	}
	filter, err := familyFilter(registry, scanFamily, scanAll)
	if err != nil {
		return err
	}

	duration := cfg.Scan.Duration
	if scanDuration > 0 {
		duration = scanDuration
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	scanner := scan.NewScanner(logger, goble.New(logger))
	candidates, err := scanner.Scan(ctx, scan.Options{
		Duration: duration,
		Filter:   filter,
	}, nil)
	if err != nil {
		return err
	}

	if scanFormat == "json" {
		return displayCandidatesJSON(os.Stdout, candidates)
	}
	displayCandidatesTable(os.Stdout, registry, candidates)
	return nil
}

// familyFilter builds the scan filter covering the requested families
func familyFilter(registry *profile.Registry, family string, all bool) (transport.ScanFilter, error) {
	if all {
		return transport.ScanFilter{}, nil
	}

	profiles := registry.All()
	if family != "" {
		p := registry.Lookup(family)
		if p == nil {
			return transport.ScanFilter{}, fmt.Errorf("unknown family %q", family)
		}
		profiles = []*profile.Profile{p}
	}

	var filter transport.ScanFilter
	for _, p := range profiles {
		filter.NamePrefixes = append(filter.NamePrefixes, p.NamePrefixes...)
		filter.ServiceUUIDs = append(filter.ServiceUUIDs, p.Discovery.ServiceCandidates...)
	}
	return filter, nil
}

func displayCandidatesTable(out io.Writer, registry *profile.Registry, candidates []*scan.Candidate) {
	if len(candidates) == 0 {
		fmt.Fprintln(out, "No sensors discovered")
		return
	}

	header := color.New(color.Bold)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	header.Fprintln(w, "NAME\tADDRESS\tFAMILY\tRSSI\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 70))

	for _, c := range candidates {
		family := "-"
		if p := registry.Match(c.Adv); p != nil {
			family = p.Family
		}
		name := c.Name()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s ago\n",
			name, c.Adv.Addr(), family, colorRSSI(c.Adv.RSSI()),
			time.Since(c.LastSeen).Truncate(time.Second))
	}
	w.Flush()
}

// colorRSSI renders signal strength green/yellow/red
func colorRSSI(rssi int) string {
	s := fmt.Sprintf("%d dBm", rssi)
	switch {
	case rssi >= -60:
		return color.GreenString(s)
	case rssi >= -80:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}

func displayCandidatesJSON(out io.Writer, candidates []*scan.Candidate) error {
	type entry struct {
		Name     string `json:"name"`
		Address  string `json:"address"`
		RSSI     int    `json:"rssi"`
		LastSeen string `json:"last_seen"`
	}
	entries := make([]entry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, entry{
			Name:     c.Name(),
			Address:  c.Adv.Addr(),
			RSSI:     c.Adv.RSSI(),
			LastSeen: c.LastSeen.Format(time.RFC3339),
		})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}
