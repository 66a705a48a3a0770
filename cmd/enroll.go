package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-registry/internal/recognition"
	"github.com/kozaktomas/face-registry/internal/web/handlers"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [subject-id] [video-file]",
	Short: "Enroll a subject from a video or a directory of photos",
	Long: `Enroll a subject and replace any embeddings stored for it before.

Frames are sampled from the video with ffmpeg and the largest face of each
frame is embedded. With --photos, every image in the directory is used
instead. With --dir, each subdirectory of the given directory is enrolled as
a subject named after it.

Examples:
  # Enroll from a short video
  face-registry enroll alice alice.mp4

  # Enroll from a directory of photos
  face-registry enroll bob --photos ./bob

  # Enroll every subdirectory of ./people as its own subject
  face-registry enroll --dir ./people`,
	Args: cobra.MaximumNArgs(2),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("photos", "", "Directory of photos to enroll the subject from")
	enrollCmd.Flags().String("dir", "", "Directory whose subdirectories are enrolled as subjects")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

func runEnroll(cmd *cobra.Command, args []string) error {
	photosDir := mustGetString(cmd, "photos")
	batchDir := mustGetString(cmd, "dir")
	jsonOutput := mustGetBool(cmd, "json")

	switch {
	case batchDir != "":
		if len(args) > 0 || photosDir != "" {
			return errors.New("--dir cannot be combined with a subject id or --photos")
		}
	case len(args) == 0:
		return errors.New("subject id is required")
	case photosDir == "" && len(args) < 2:
		return errors.New("a video file or --photos directory is required")
	case photosDir != "" && len(args) == 2:
		return errors.New("give either a video file or --photos, not both")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if batchDir != "" {
		return enrollBatch(ctx, a, batchDir, jsonOutput)
	}

	subjectID, err := handlers.NormalizingResolver{}.Resolve(ctx, args[0])
	if err != nil {
		return err
	}

	var result *recognition.EnrollResult
	if photosDir != "" {
		photos, err := readImages(photosDir)
		if err != nil {
			return err
		}
		result, err = a.enroller.EnrollImages(ctx, subjectID, photos)
		if err != nil {
			return err
		}
	} else {
		video, err := os.ReadFile(args[1]) //nolint:gosec // path is given by the user
		if err != nil {
			return fmt.Errorf("reading video: %w", err)
		}
		result, err = a.enroller.Enroll(ctx, subjectID, video)
		if err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(result)
	}
	printEnrollResult(result)
	return nil
}

// BatchEnrollResult summarizes an enroll --dir run.
type BatchEnrollResult struct {
	Enrolled []recognition.EnrollResult `json:"enrolled"`
	Failed   map[string]string          `json:"failed"`
}

func enrollBatch(ctx context.Context, a *app, root string, jsonOutput bool) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}
	var subjects []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			subjects = append(subjects, e.Name())
		}
	}
	if len(subjects) == 0 {
		return fmt.Errorf("no subject directories found in %s", root)
	}

	bar := progressbar.NewOptions(len(subjects),
		progressbar.OptionSetDescription("Enrolling subjects"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("subjects"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetVisibility(!jsonOutput),
	)

	out := BatchEnrollResult{Failed: make(map[string]string)}
	for _, name := range subjects {
		err := func() error {
			subjectID, err := handlers.NormalizingResolver{}.Resolve(ctx, name)
			if err != nil {
				return err
			}
			photos, err := readImages(filepath.Join(root, name))
			if err != nil {
				return err
			}
			result, err := a.enroller.EnrollImages(ctx, subjectID, photos)
			if err != nil {
				return err
			}
			out.Enrolled = append(out.Enrolled, *result)
			return nil
		}()
		if err != nil {
			out.Failed[name] = err.Error()
		}
		bar.Add(1)
		if ctx.Err() != nil {
			break
		}
	}
	bar.Finish()

	if jsonOutput {
		return outputJSON(out)
	}
	fmt.Printf("\nEnrolled %d of %d subjects\n", len(out.Enrolled), len(subjects))
	for _, name := range slices.Sorted(maps.Keys(out.Failed)) {
		fmt.Printf("  %s: %s\n", name, out.Failed[name])
	}
	return nil
}

// readImages reads every file with an image extension in dir, sorted by name.
func readImages(dir string) ([][]byte, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading photos directory: %w", err)
	}
	var photos [][]byte
	for _, e := range entries {
		if e.IsDir() || !slices.Contains(imageExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name())) //nolint:gosec // path is given by the user
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		photos = append(photos, data)
	}
	return photos, nil
}

func printEnrollResult(r *recognition.EnrollResult) {
	fmt.Println(r.Message)
	fmt.Printf("  Subject:     %s\n", r.SubjectID)
	fmt.Printf("  Embeddings:  %d\n", r.TotalEmbeddings)
	fmt.Printf("  Processed:   %d\n", r.FramesProcessed)
	fmt.Printf("  Skipped:     %d\n", r.FramesSkipped)
}
