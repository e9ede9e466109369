package cmd

import (
	"EmotionDet/config"
	"EmotionDet/engine"
	iface "EmotionDet/interface"
	"EmotionDet/live"
	"EmotionDet/logger"
	"EmotionDet/model"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfgPath      string
	cascadeFlag  string
	modelDirFlag string
	cameraFlag   int
	debug        bool

	// cfg is loaded once in PersistentPreRunE and shared by subcommands.
	cfg *config.Config
)

// newDetector builds a ready-to-use detector for bundle. Tests replace it to
// avoid depending on a cascade file.
var newDetector = func(c *config.Config, bundle *model.Bundle) (*engine.Detector, error) {
	d := &engine.Detector{}
	params := engine.DetectParams{
		ScaleFactor:  c.Detector.ScaleFactor,
		MinNeighbors: c.Detector.MinNeighbors,
		MinSize:      c.Detector.MinSize,
	}
	if err := d.New(config.Resolve(c.Detector.CascadePath), params); err != nil {
		return nil, err
	}
	if err := d.LoadModel(bundle, c.Classifier.Threshold); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}

// openLive opens the camera and window for live mode. Tests replace it.
var openLive = func(c *config.Config) (live.FrameSource, live.Display, error) {
	src, err := live.OpenCamera(c.Camera.Device)
	if err != nil {
		return nil, nil, err
	}
	return src, live.NewWindow(c.Camera.WindowTitle), nil
}

var rootCmd = &cobra.Command{
	Use:   "emotiondet [image_path]",
	Short: "Facial emotion inference from an image file or a live camera",
	Long: `With an image path, classifies the first face in the image and prints one
JSON result. Without arguments, opens the camera: SPACE classifies the current
frame, ESC quits.`,
	Version:           Version,
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := loadBundle()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			return runOnce(cmd.OutOrStdout(), bundle, args[0])
		}
		return runLive(cmd.Context(), cmd.OutOrStdout(), bundle)
	},
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("cascade") {
		cfg.Detector.CascadePath = cascadeFlag
	}
	if cmd.Flags().Changed("model-dir") {
		cfg.Models.Dir = modelDirFlag
	}
	if cmd.Flags().Changed("camera") {
		cfg.Camera.Device = cameraFlag
	}
	switch {
	case debug:
		err = logger.InitDevelopment("debug")
	case cfg.Log.Development:
		err = logger.InitDevelopment(cfg.Log.Level)
	default:
		err = logger.InitProduction(cfg.Log.Level)
	}
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	return nil
}

// loadBundle loads the advanced model, falling back to the default one. A
// missing model is fatal.
func loadBundle() (*model.Bundle, error) {
	advanced, def := cfg.ModelPaths()
	bundle, err := model.LoadWithFallback(advanced, def)
	if err != nil {
		logger.Log().Error("Error loading model", zap.Error(err))
		return nil, err
	}
	return bundle, nil
}

func writeResult(w io.Writer, res iface.Result) error {
	return json.NewEncoder(w).Encode(res)
}

func runOnce(out io.Writer, bundle *model.Bundle, path string) error {
	d, err := newDetector(cfg, bundle)
	if err != nil {
		logger.Log().Error("Error initializing detector", zap.Error(err))
		if werr := writeResult(out, iface.ErrorResult(err.Error())); werr != nil {
			return werr
		}
		return err
	}
	defer d.Destroy()
	return writeResult(out, d.ClassifyFile(path))
}

func runLive(ctx context.Context, out io.Writer, bundle *model.Bundle) error {
	d, err := newDetector(cfg, bundle)
	if err != nil {
		logger.Log().Error("Error initializing detector", zap.Error(err))
		return err
	}
	defer d.Destroy()

	src, disp, err := openLive(cfg)
	if err != nil {
		logger.Log().Error("Error opening camera", zap.Error(err))
		if werr := writeResult(out, iface.ErrorResult(live.ErrCameraOpen.Error())); werr != nil {
			return werr
		}
		return err
	}
	loop := &live.Loop{Source: src, Display: disp, Detector: d, Out: out}
	return loop.Run(ctx)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&cascadeFlag, "cascade", "", "Path to the Haar cascade XML (overrides detector.cascadePath)")
	rootCmd.PersistentFlags().StringVar(&modelDirFlag, "model-dir", "", "Directory holding the model bundles (overrides models.dir)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Human-readable debug logging on stderr")
	rootCmd.Flags().IntVar(&cameraFlag, "camera", 0, "Camera device index for live mode (overrides camera.device)")
}
