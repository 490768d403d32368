package main

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/david-ria/pmscanv2-sub000/internal/decode"
)

// decodeCmd represents the decode command
var decodeCmd = &cobra.Command{
	Use:   "decode [payload...]",
	Short: "Decode captured sensor payloads offline",
	Long: `Decode captured sensor payloads without a device, for protocol
debugging.

For the binary pmscan family each argument is one hex-encoded frame
(whitespace and colons are ignored); with no arguments frames are read
line by line from stdin. For the textual airbeam family raw protocol
lines are read from the arguments or stdin as-is.`,
	RunE: runDecode,
}

var decodeFamily string

func init() {
	decodeCmd.Flags().StringVar(&decodeFamily, "family", "pmscan", "Device family (pmscan, airbeam)")
	decodeCmd.Flags().Bool("verbose", false, "Enable debug logging")
}

func runDecode(cmd *cobra.Command, args []string) error {
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
	prof := profiles.Lookup(decodeFamily)
	if prof == nil {
		return fmt.Errorf("unknown family %q", decodeFamily)
	}

	cmd.SilenceUsage = true

	dec, err := decode.ForProfile(prof, logger)
	if err != nil {
		return err
	}

	payloads, err := collectPayloads(prof.Decoder, args, os.Stdin)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	decoded := 0
	for _, buf := range payloads {
		for _, r := range dec.Decode(buf) {
			decoded++
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
	}
	if decoded == 0 {
		return fmt.Errorf("no payload produced a reading")
	}
	return nil
}

// collectPayloads turns args or stdin into raw decoder input
func collectPayloads(decoder string, args []string, stdin io.Reader) ([][]byte, error) {
	lines := args
	if len(lines) == 0 {
		s := bufio.NewScanner(stdin)
		for s.Scan() {
			if line := strings.TrimSpace(s.Text()); line != "" {
				lines = append(lines, line)
			}
		}
		if err := s.Err(); err != nil {
			return nil, err
		}
	}

	out := make([][]byte, 0, len(lines))
	for _, line := range lines {
		if decoder == "pmscan-binary" {
			buf, err := decodeHex(line)
			if err != nil {
				return nil, fmt.Errorf("invalid hex frame %q: %w", line, err)
			}
			out = append(out, buf)
			continue
		}
		// Textual protocols are line-delimited; restore the terminator
		out = append(out, []byte(line+"\n"))
	}
	return out, nil
}

func decodeHex(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', ':', '-':
			return -1
		}
		return r
	}, s)
	clean = strings.TrimPrefix(clean, "0x")
	return hex.DecodeString(clean)
}
