package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-registry/internal/web/handlers"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <subject-id>",
	Short: "Remove all embeddings of a subject",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	subjectID, err := handlers.NormalizingResolver{}.Resolve(ctx, args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.enroller.Delete(ctx, subjectID)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Printf("Subject %s is not enrolled\n", subjectID)
		return nil
	}
	fmt.Printf("Deleted %d embeddings of %s\n", n, subjectID)
	return nil
}
