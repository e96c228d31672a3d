package cli

import (
	"encoding/json"
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X github.com/felixgeelhaar/fieldsync/adapter/cli.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Build reports the linked build values. A dev build installed with
// go install falls back to the module version recorded by the toolchain.
func Build() BuildInfo {
	info := BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate, GoVersion: runtime.Version()}
	if info.Version != "dev" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	return info
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := Build()
			out := cmd.OutOrStdout()
			if JSONOutput() {
				return json.NewEncoder(out).Encode(info)
			}
			_, err := fmt.Fprintf(out, "fieldsync %s (commit %s, built %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, info.GoVersion)
			return err
		},
	})
}
