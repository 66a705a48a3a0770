package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-registry/internal/database"
)

// Build metadata variables, set by -ldflags at compile time.
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

// VersionInfo is the build and embedding format the binary was compiled with.
type VersionInfo struct {
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	BuildDate    string `json:"build_date"`
	GoVersion    string `json:"go_version"`
	DefaultModel string `json:"default_model"`
	DefaultDim   int    `json:"default_embedding_dim"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and embedding format",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := VersionInfo{
			Version:      Version,
			Commit:       CommitSHA,
			BuildDate:    BuildDate,
			GoVersion:    runtime.Version(),
			DefaultModel: database.DefaultModelName,
			DefaultDim:   database.DefaultEmbeddingDim,
		}
		if mustGetBool(cmd, "json") {
			return outputJSON(info)
		}
		fmt.Printf("face-registry %s (%s)\n", info.Version, info.GoVersion)
		fmt.Printf("  Commit:     %s\n", info.Commit)
		fmt.Printf("  Built:      %s\n", info.BuildDate)
		fmt.Printf("  Embeddings: %s, %d dims by default\n", info.DefaultModel, info.DefaultDim)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}
