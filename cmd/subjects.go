package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var subjectsCmd = &cobra.Command{
	Use:   "subjects",
	Short: "List enrolled subjects",
	RunE:  runSubjects,
}

func init() {
	rootCmd.AddCommand(subjectsCmd)

	subjectsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSubjects(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	subjects, err := a.store.ListSubjects(ctx)
	if err != nil {
		return fmt.Errorf("listing subjects: %w", err)
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(subjects)
	}
	if len(subjects) == 0 {
		fmt.Println("No subjects enrolled")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tEMBEDDINGS\tMODEL\tENROLLED")
	fmt.Fprintln(w, "-------\t----------\t-----\t--------")
	for _, s := range subjects {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.SubjectID, s.Embeddings, s.Model, s.EnrolledAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
	fmt.Printf("\nTotal: %d subjects\n", len(subjects))
	return nil
}
