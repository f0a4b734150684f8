package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"imesync/internal/ipc"
)

// BuildVersion can be set at build time with
//
//	-ldflags "-X imesync/cmd/imesync/cmd.BuildVersion=1.2.3"
var BuildVersion = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "imesync %s\n", version())
		fmt.Fprintf(out, "  protocol: %d\n", ipc.ProtocolVersion)
		fmt.Fprintf(out, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// version prefers BuildVersion, then the module version.
func version() string {
	if BuildVersion != "dev" {
		return BuildVersion
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return BuildVersion
}
