package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "face-registry",
	Short: "Enroll faces and identify people in photos",
	Long: `Face Registry stores face embeddings per enrolled subject and identifies
the subject in a new photo by approximate nearest-neighbor search.

Subjects are enrolled from a short video or a set of photos. Embeddings are
computed by an external embedding server and stored in PostgreSQL (pgvector)
or in an embedded bbolt file.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before reading configuration")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load(envFile)
}
