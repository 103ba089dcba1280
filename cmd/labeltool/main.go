package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/skinscan/labeltool"
	"github.com/skinscan/labeltool/cmd/labeltool/ui"
	"github.com/skinscan/labeltool/pkg/batch"
	"github.com/skinscan/labeltool/pkg/segmentation"
	"github.com/skinscan/labeltool/pkg/store"
	"github.com/skinscan/labeltool/pkg/workspace"
)

var (
	// Global flags
	verbose      bool
	workspaceDir string

	// Logger
	logger *zap.Logger
)

// rootCmd launches the interactive labeling screen.
var rootCmd = &cobra.Command{
	Use:   "labeltool",
	Short: "Image labeling tool backed by SQLite",
	Long: `labeltool manages a workspace of images and their labels.

A workspace is a directory of jpg/png images. labeltool derives the
folder layout for segmentation and blob artifacts, keeps a SQLite
database of labels in sync with the files on disk, and lets you toggle
labels on images by single key presses.

Run without arguments to start the interactive labeling screen.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip logger init for interactive mode (it has its own UI)
		if cmd.Use == "labeltool" && cmd.CalledAs() == "labeltool" {
			return nil
		}

		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runInteractive,
}

// initDBCmd creates the label database for a workspace.
var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the label database and seed it with the workspace images",
	RunE:  runInitDB,
}

// syncCmd reconciles database rows against the files on disk.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the database against the image files on disk",
	RunE:  runSync,
}

// statusCmd prints the workspace state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace images, database state and drift",
	RunE:  runStatus,
}

// labelCmd groups label management.
var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Manage labels and their key bindings",
}

var labelAddCmd = &cobra.Command{
	Use:   "add [name] [key]",
	Short: "Add a label with a single-key binding",
	Args:  cobra.ExactArgs(2),
	RunE:  runLabelAdd,
}

var labelRmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Remove a label and all its image associations",
	Args:  cobra.ExactArgs(1),
	RunE:  runLabelRm,
}

var labelLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List labels in insertion order",
	RunE:  runLabelLs,
}

// segmentCmd runs an external segmenter over workspace images.
var segmentCmd = &cobra.Command{
	Use:   "segment [image]",
	Short: "Segment an image into the derived overlay and mask artifacts",
	Long: `Runs the configured segmentation command on one workspace image.

The command is invoked as:

    <command> [args...] <image> <overlay-out> <mask-out>

and must write an overlay image and an int64 .npy mask to the two
output paths.`,
	Args: cobra.ExactArgs(1),
	RunE: runSegment,
}

// blobsCmd runs blob detection against a segmented image.
var blobsCmd = &cobra.Command{
	Use:   "blobs [image]",
	Short: "Detect blobs on an image and label them against its mask",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlobs,
}

// segmentAllCmd segments every workspace image.
var segmentAllCmd = &cobra.Command{
	Use:   "segment-all",
	Short: "Segment every workspace image with a worker pool",
	RunE:  runSegmentAll,
}

// blobsAllCmd runs blob detection on every segmented image.
var blobsAllCmd = &cobra.Command{
	Use:   "blobs-all",
	Short: "Detect blobs on every workspace image that has a mask",
	RunE:  runBlobsAll,
}

var (
	initDBForce  bool
	segmentWith  string
	batchWorkers int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", ".", "workspace directory")

	initDBCmd.Flags().BoolVar(&initDBForce, "force", false, "recreate the database, discarding all labels")
	for _, c := range []*cobra.Command{segmentCmd, segmentAllCmd} {
		c.Flags().StringVar(&segmentWith, "with", "", "segmentation command to run (required)")
		_ = c.MarkFlagRequired("with")
	}
	segmentAllCmd.Flags().IntVar(&batchWorkers, "workers", 4, "number of images processed in parallel")
	blobsAllCmd.Flags().IntVar(&batchWorkers, "workers", 4, "number of images processed in parallel")

	labelCmd.AddCommand(labelAddCmd, labelRmCmd, labelLsCmd)
	rootCmd.AddCommand(initDBCmd, syncCmd, statusCmd, labelCmd,
		segmentCmd, segmentAllCmd, blobsCmd, blobsAllCmd)
}

// cliLogger returns the command logger. The interactive command skips
// logger construction, so it gets a nop logger instead of a nil one.
func cliLogger() *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// openWorkspace opens the flag-selected workspace.
func openWorkspace() (*labeltool.Workspace, error) {
	dir, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		return labeltool.Open(dir)
	}
	return labeltool.OpenWithLogger(dir, logger)
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	watcher, err := workspace.NewWatcher(ws.Root())
	if err != nil {
		cliLogger().Warn("file watching unavailable", zap.Error(err))
		watcher = nil
	} else {
		defer watcher.Close()
	}

	p := tea.NewProgram(ui.New(ws, watcher), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func runInitDB(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := ws.InitDatabase(initDBForce); err != nil {
		if errors.Is(err, store.ErrDatabaseExists) {
			return fmt.Errorf("database already exists at %s (use --force to recreate)", ws.Settings().DBPath)
		}
		return err
	}
	fmt.Printf("Database created at %s with %d images\n", ws.Settings().DBPath, len(ws.Images()))
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	res, err := ws.Sync()
	if err != nil {
		return err
	}
	fmt.Printf("Synced: %d added, %d removed\n", res.Added, res.Removed)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Printf("Workspace: %s\n", ws.Root())
	fmt.Printf("Images:    %d\n", len(ws.Images()))
	if !ws.HasDatabase() {
		fmt.Println("Database:  not initialized (run init-db)")
		return nil
	}
	fmt.Printf("Database:  %s\n", ws.Settings().DBPath)

	drift, err := ws.Drift()
	if err != nil {
		return err
	}
	if drift == 0 {
		fmt.Println("Sync:      up to date")
	} else {
		fmt.Printf("Sync:      out of sync by %d image(s) (run sync)\n", drift)
	}

	labels, err := ws.Labels()
	if err != nil {
		return err
	}
	fmt.Printf("Labels:    %d\n", len(labels))
	return nil
}

func runLabelAdd(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	id, err := ws.AddLabel(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Added label %q (id %d) bound to %q\n", args[0], id, args[1])
	return nil
}

func runLabelRm(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid label id %q", args[0])
	}
	if err := ws.RemoveLabel(id); err != nil {
		return err
	}
	fmt.Printf("Removed label %d\n", id)
	return nil
}

func runLabelLs(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	labels, err := ws.Labels()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tNAME")
	for _, l := range labels {
		fmt.Fprintf(w, "%d\t%s\t%s\n", l.ID, l.KeyBinding, l.Name)
	}
	return w.Flush()
}

// seekImage positions the session on the named image.
func seekImage(ws *labeltool.Workspace, name string) error {
	for i, img := range ws.Images() {
		if filepath.Base(img) == name {
			ws.Session().Seek(i)
			return nil
		}
	}
	return fmt.Errorf("image %q not in workspace", name)
}

func runSegment(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := seekImage(ws, args[0]); err != nil {
		return err
	}
	seg := segmentation.NewCommandSegmenter(segmentWith)
	outImage, outMask, err := ws.SegmentCurrent(context.Background(), seg)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s and %s\n", outImage, outMask)
	return nil
}

func runBlobs(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	if err := seekImage(ws, args[0]); err != nil {
		return err
	}
	keypoints, err := ws.DetectBlobsCurrent()
	if err != nil {
		return err
	}
	fmt.Printf("Detected %d blob(s)\n", len(keypoints))
	for _, kp := range keypoints {
		fmt.Printf("  (%d, %d) size %.1f  %s\n", kp.X, kp.Y, kp.Size, kp.Label)
	}
	return nil
}

func runSegmentAll(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	seg := segmentation.NewCommandSegmenter(segmentWith)
	res := batch.Run(cmd.Context(), ws.Images(), batchWorkers, func(ctx context.Context, path string) error {
		_, _, err := ws.SegmentImage(ctx, path, seg)
		return err
	})
	fmt.Printf("Segmented %d image(s), %d failure(s)\n", res.Processed, len(res.Failures))
	for _, f := range res.Failures {
		fmt.Fprintf(os.Stderr, "  %v\n", f)
	}
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d image(s) failed", len(res.Failures))
	}
	return nil
}

func runBlobsAll(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	defer ws.Close()

	res := batch.Run(cmd.Context(), ws.Images(), batchWorkers, func(_ context.Context, path string) error {
		_, err := ws.DetectBlobsImage(path)
		return err
	})
	fmt.Printf("Annotated %d image(s), %d failure(s)\n", res.Processed, len(res.Failures))
	for _, f := range res.Failures {
		fmt.Fprintf(os.Stderr, "  %v\n", f)
	}
	if len(res.Failures) > 0 {
		return fmt.Errorf("%d image(s) failed", len(res.Failures))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
