package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/presence-gate/internal/camera"
	"github.com/kozaktomas/presence-gate/internal/config"
	"github.com/kozaktomas/presence-gate/internal/database"
	"github.com/kozaktomas/presence-gate/internal/faceapi"
	"github.com/kozaktomas/presence-gate/internal/facematch"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Manage enrolled face embeddings",
}

var enrollPushCmd = &cobra.Command{
	Use:   "push <encodings.json>",
	Short: "Load face embeddings from an encodings file into PostgreSQL",
	Long: `Load face embeddings from an encodings file into PostgreSQL.

The file lists subjects with one or more embeddings each:

  {"model": "dlib_resnet",
   "subjects": [{"key": "S001", "name": "Asha Verma", "embeddings": [[0.01, ...]]}]}

Every subject in the file has its embeddings replaced. Running gates pick up
the change on their next gallery refresh. Embeddings are tagged with the
file's model; gates only load those matching FACE_SERVICE_MODEL.

Examples:
  # Push embeddings of already registered subjects
  presence-gate enroll push encodings.json

  # Register subjects that are missing from the registry
  presence-gate enroll push encodings.json --register`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollPush,
}

var enrollImagesCmd = &cobra.Command{
	Use:   "images <subject-key> <image-or-dir>...",
	Short: "Compute a subject's embeddings from reference photos",
	Long: `Compute a subject's embeddings from reference photos with the face service
and store them in PostgreSQL, replacing the subject's previous embeddings.

Directories contribute the images directly inside them. By default only the
largest face of each photo is kept; --all-faces keeps every detected face,
for photos that show the subject alone more than once.

Examples:
  # Enroll from a folder of photos
  presence-gate enroll images S001 ./photos/S001

  # Use the fast detector on two single photos
  presence-gate enroll images S001 front.jpg side.jpg --detector hog`,
	Args: cobra.MinimumNArgs(2),
	RunE: runEnrollImages,
}

func init() {
	rootCmd.AddCommand(enrollCmd)
	enrollCmd.AddCommand(enrollPushCmd)
	enrollCmd.AddCommand(enrollImagesCmd)

	enrollPushCmd.Flags().Bool("register", false, "Register subjects missing from the registry (needs a name in the file)")
	enrollPushCmd.Flags().Int("concurrency", 4, "Subjects written in parallel")
	enrollPushCmd.Flags().Bool("json", false, "Output as JSON")

	enrollImagesCmd.Flags().Bool("all-faces", false, "Keep every detected face instead of the largest one")
	enrollImagesCmd.Flags().String("detector", facematch.DetectorCNN, "Face detector used on the photos (hog, cnn, yolo)")
	enrollImagesCmd.Flags().Int("concurrency", 4, "Photos processed in parallel")
	enrollImagesCmd.Flags().Bool("json", false, "Output as JSON")
}

// EnrollResult summarizes an enroll push.
type EnrollResult struct {
	Subjects   int      `json:"subjects"`
	Embeddings int      `json:"embeddings"`
	Registered int      `json:"registered"`
	Skipped    []string `json:"skipped,omitempty"`
}

func runEnrollPush(cmd *cobra.Command, args []string) error {
	register := mustGetBool(cmd, "register")
	jsonOutput := mustGetBool(cmd, "json")
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)

	file, err := facematch.LoadEncodingsFile(args[0])
	if err != nil {
		return err
	}
	if len(file.Subjects) == 0 {
		return errors.New("encodings file lists no subjects")
	}

	ctx := context.Background()
	cfg := config.Load()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	model := file.Model
	if model == "" {
		model = cfg.FaceService.Model
	}

	var result EnrollResult
	pending, registered, skipped, err := resolveEnrollSubjects(ctx, st.subjects, file.Subjects, register)
	if err != nil {
		return err
	}
	result.Registered = registered
	result.Skipped = skipped

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		for _, key := range skipped {
			fmt.Printf("  skipped %s: not registered\n", key)
		}
		bar = progressbar.NewOptions(len(pending),
			progressbar.OptionSetDescription("Pushing embeddings"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("subjects"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
	}

	var stored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, s := range pending {
		g.Go(func() error {
			n, err := st.faces.ReplaceFaces(gctx, s.Key, model, s.Embeddings)
			if err != nil {
				return fmt.Errorf("subject %s: %w", s.Key, err)
			}
			stored.Add(int64(n))
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	result.Subjects = len(pending)
	result.Embeddings = int(stored.Load())

	if jsonOutput {
		return outputJSON(result)
	}
	_ = bar.Finish()
	fmt.Printf("\nStored %d embeddings for %d subjects (%d newly registered)\n",
		result.Embeddings, result.Subjects, result.Registered)
	return nil
}

// resolveEnrollSubjects keeps the file entries whose subject exists, registering
// missing ones when asked to.
func resolveEnrollSubjects(
	ctx context.Context, subjects database.SubjectWriter, entries []facematch.EncodedSubject, register bool,
) ([]facematch.EncodedSubject, int, []string, error) {
	var (
		pending    []facematch.EncodedSubject
		toRegister []database.Subject
		skipped    []string
	)
	for _, e := range entries {
		_, err := subjects.GetSubject(ctx, e.Key)
		switch {
		case err == nil:
			pending = append(pending, e)
		case errors.Is(err, database.ErrSubjectNotFound) && register:
			subject, verr := database.NewSubject(e.Key, e.Name, e.Code)
			if verr != nil {
				return nil, 0, nil, fmt.Errorf("cannot register %s: %w", e.Key, verr)
			}
			toRegister = append(toRegister, subject)
			pending = append(pending, e)
		case errors.Is(err, database.ErrSubjectNotFound):
			skipped = append(skipped, e.Key)
		default:
			return nil, 0, nil, fmt.Errorf("looking up %s: %w", e.Key, err)
		}
	}
	if len(toRegister) > 0 {
		if _, err := subjects.UpsertSubjects(ctx, toRegister); err != nil {
			return nil, 0, nil, fmt.Errorf("registering subjects: %w", err)
		}
	}
	return pending, len(toRegister), skipped, nil
}

// EnrollImagesResult summarizes an enroll images run.
type EnrollImagesResult struct {
	Subject    string         `json:"subject"`
	Images     int            `json:"images"`
	Embeddings int            `json:"embeddings"`
	Model      string         `json:"model"`
	Skipped    []SkippedImage `json:"skipped,omitempty"`
}

// SkippedImage is a photo that contributed no embedding.
type SkippedImage struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func runEnrollImages(cmd *cobra.Command, args []string) error {
	key := args[0]
	jsonOutput := mustGetBool(cmd, "json")
	detector := mustGetString(cmd, "detector")
	concurrency := max(mustGetInt(cmd, "concurrency"), 1)
	mode := facematch.ModeSingle
	if mustGetBool(cmd, "all-faces") {
		mode = facematch.ModeAll
	}

	paths, err := collectImagePaths(args[1:])
	if err != nil {
		return err
	}

	ctx := context.Background()
	cfg := config.Load()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, err := st.subjects.GetSubject(ctx, key); err != nil {
		return fmt.Errorf("subject %s: %w", key, err)
	}

	client := faceapi.NewClient(cfg.FaceService.URL, cfg.FaceService.Model, cfg.FaceService.Timeout)
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}

	images := make([][]byte, 0, len(paths))
	readable := make([]string, 0, len(paths))
	var skipped []SkippedImage
	for _, path := range paths {
		data, err := readEnrollImage(path, cfg.Matching.MaxFrameSize)
		if err != nil {
			skipped = append(skipped, SkippedImage{Path: path, Reason: err.Error()})
			continue
		}
		images = append(images, data)
		readable = append(readable, path)
	}

	results, err := facematch.EmbedImages(ctx, client, detector, images, mode, concurrency)
	if err != nil {
		return err
	}
	embeddings, more := collectImageEmbeddings(readable, results)
	skipped = append(skipped, more...)
	if len(embeddings) == 0 {
		return fmt.Errorf("no faces found in %d images", len(paths))
	}

	stored, err := st.faces.ReplaceFaces(ctx, key, client.Model(), embeddings)
	if err != nil {
		return fmt.Errorf("storing embeddings of %s: %w", key, err)
	}

	result := EnrollImagesResult{
		Subject:    key,
		Images:     len(paths),
		Embeddings: stored,
		Model:      client.Model(),
		Skipped:    skipped,
	}
	if jsonOutput {
		return outputJSON(result)
	}
	for _, s := range skipped {
		fmt.Printf("  skipped %s: %s\n", s.Path, s.Reason)
	}
	fmt.Printf("Stored %d embeddings for %s from %d images\n", result.Embeddings, key, result.Images)
	return nil
}

// collectImagePaths expands directories into the images they hold.
func collectImagePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		files, err := camera.ListImages(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
	}
	if len(paths) == 0 {
		return nil, errors.New("no images given")
	}
	return paths, nil
}

func readEnrollImage(path string, maxDim int) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, _, _, err := camera.Normalize(raw, maxDim)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// collectImageEmbeddings flattens per-image results, reporting photos that
// failed or showed no face.
func collectImageEmbeddings(paths []string, results []facematch.ImageFaces) ([][]float32, []SkippedImage) {
	var (
		embeddings [][]float32
		skipped    []SkippedImage
	)
	for _, r := range results {
		switch {
		case r.Err != nil:
			skipped = append(skipped, SkippedImage{Path: paths[r.Index], Reason: r.Err.Error()})
		case len(r.Embeddings) == 0:
			skipped = append(skipped, SkippedImage{Path: paths[r.Index], Reason: "no face detected"})
		default:
			embeddings = append(embeddings, r.Embeddings...)
		}
	}
	return embeddings, skipped
}
