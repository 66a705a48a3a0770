package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-registry/internal/recognition"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <photo>",
	Short: "Identify the subject in a photo",
	Long: `Identify the subject in a photo by comparing its largest face with all
enrolled embeddings.

Examples:
  face-registry recognize visitor.jpg

  # Stricter matching, more results, JSON output
  face-registry recognize visitor.jpg --threshold 0.6 --top-n 10 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Float64("threshold", 0, "Maximum cosine distance for a match, 0 for exact matches only (overrides MATCH_THRESHOLD)")
	recognizeCmd.Flags().Int("top-n", 0, "Maximum number of subjects to return (overrides MATCH_TOP_N)")
	recognizeCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	photo, err := os.ReadFile(args[0]) //nolint:gosec // path is given by the user
	if err != nil {
		return fmt.Errorf("reading photo: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	recognizer := a.recognizer
	threshold, thresholdSet := float64FlagIfSet(cmd, "threshold")
	topN := mustGetInt(cmd, "top-n")
	if thresholdSet && (threshold < 0 || threshold > 2) {
		return fmt.Errorf("--threshold must be within [0, 2], got %v", threshold)
	}
	if thresholdSet || topN > 0 {
		opts := recognition.RecognizerOptions{
			Threshold:     a.cfg.Matching.Threshold,
			TopN:          a.cfg.Matching.TopN,
			CandidatePool: a.cfg.Matching.CandidatePool,
		}
		if thresholdSet {
			opts.Threshold = threshold
		}
		if topN > 0 {
			opts.TopN = topN
			opts.CandidatePool = max(opts.CandidatePool, topN)
		}
		recognizer = recognition.NewRecognizer(a.embedder, a.store, opts, a.logger.Named("recognize"))
	}

	result, err := recognizer.Recognize(ctx, photo)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(result)
	}
	printRecognizeResult(result)
	return nil
}

func printRecognizeResult(r *recognition.RecognizeResult) {
	if !r.Found {
		fmt.Println(r.Message)
		if r.Diagnostic.BestSubjectID != "" {
			fmt.Printf("  Closest subject: %s\n", r.Diagnostic.BestSubjectID)
		}
		return
	}

	fmt.Printf("Found %d matching subjects:\n\n", len(r.Matches))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tMATCH\tCONFIDENCE\tDISTANCE\tSAMPLES")
	fmt.Fprintln(w, "-------\t-----\t----------\t--------\t-------")
	for _, m := range r.Matches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%d\n", m.SubjectID, m.MatchPercentage, m.Confidence, m.Distance, m.Samples)
	}
	w.Flush()
}
