// Package cli implements the turboreg command line
package cli

import (
	"io"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"turboreg/pkg/config"
	"turboreg/pkg/metrics"
	"turboreg/pkg/registration"
	"turboreg/pkg/transform"
)

// Version is overridden at link time
var Version = "1.0.0-dev"

// Root carries the state shared by every subcommand once flags are parsed
type Root struct {
	configPath string
	debug      bool

	cfg      *config.Config
	log      *logrus.Logger
	recorder *metrics.Recorder
}

// NewRootCmd creates the root Cobra command
func NewRootCmd() *cobra.Command {
	root := &Root{}

	rootCmd := &cobra.Command{
		Use:   "turboreg",
		Short: "Turboreg aligns images by multi-resolution landmark registration",
		Long: `Turboreg estimates the translation, rigid-body, scaled-rotation or affine
transformation mapping a source image onto a target image, and aligns whole
slice stacks by registering every slice to a reference.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return root.init(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVarP(&root.configPath, "config", "c", "turboreg.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVar(&root.debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newRegisterCmd(root))
	rootCmd.AddCommand(newStackCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func (r *Root) init(logOutput io.Writer) error {
	cfg, err := config.LoadConfig(r.configPath)
	if err != nil {
		return err
	}
	r.cfg = cfg
	r.log = initLogger(r.debug, cfg, logOutput)
	r.recorder = metrics.NewRecorder()
	r.log.WithField("config", r.configPath).Debug("Configuration loaded")
	return nil
}

// initLogger configures a text logger in debug mode and the configured
// format otherwise
func initLogger(debugMode bool, cfg *config.Config, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
		logger.Debug("Debug logging enabled")
		return logger
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return logger
}

// registrationFlags are shared by the register and stack commands and
// override the configuration when set
type registrationFlags struct {
	transform     string
	accelerated   bool
	maxIterations int
	precision     float64
	coarse        bool
	signed16      bool
	format        string
	rescale       bool
	float32       bool
	saveMask      bool
}

func (f *registrationFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.transform, "transform", "t", "", "transformation (translation|rigid-body|scaled-rotation|affine)")
	cmd.Flags().BoolVarP(&f.accelerated, "accelerated", "a", false, "fast mode: fixed Hessian, nearest-neighbour output and looser convergence")
	cmd.Flags().IntVar(&f.maxIterations, "max-iterations", 0, "per-level iteration base, 0 for the default")
	cmd.Flags().Float64Var(&f.precision, "precision", 0, "stopping landmark displacement in pixels, 0 for the default")
	cmd.Flags().BoolVar(&f.coarse, "coarse", false, "start from the translation found by phase correlation")
	cmd.Flags().BoolVar(&f.signed16, "signed16", false, "16-bit inputs hold signed samples stored with a 32768 bias")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "output format (tiff|png|jpeg)")
	cmd.Flags().BoolVar(&f.rescale, "rescale", false, "stretch output samples to the full output range")
	cmd.Flags().BoolVar(&f.float32, "float32", false, "write TIFF output with unscaled 32-bit float samples")
	cmd.Flags().BoolVar(&f.saveMask, "save-mask", false, "write the validity mask of each output image")
}

// apply copies the flags the user set into cfg
func (f *registrationFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("transform") {
		cfg.Registration.Transform = f.transform
	}
	if flags.Changed("accelerated") {
		cfg.Registration.Accelerated = f.accelerated
	}
	if flags.Changed("max-iterations") {
		cfg.Registration.MaxIterations = f.maxIterations
	}
	if flags.Changed("precision") {
		cfg.Registration.Precision = f.precision
	}
	if flags.Changed("coarse") {
		cfg.Registration.CoarseAlign = f.coarse
	}
	if flags.Changed("signed16") {
		cfg.Input.Signed16 = f.signed16
	}
	if flags.Changed("format") {
		cfg.Output.Format = f.format
	}
	if flags.Changed("rescale") {
		cfg.Output.Rescale = f.rescale
	}
	if flags.Changed("float32") {
		cfg.Output.Float32 = f.float32
	}
	if flags.Changed("save-mask") {
		cfg.Output.SaveMask = f.saveMask
	}
	return cfg.Validate()
}

// registrationOptions builds the library options from the configuration
func (r *Root) registrationOptions() (registration.Options, error) {
	t, err := transform.ParseType(r.cfg.Registration.Transform)
	if err != nil {
		return registration.Options{}, err
	}
	return registration.Options{
		Type:          t,
		Accelerated:   r.cfg.Registration.Accelerated,
		MaxIterations: r.cfg.Registration.MaxIterations,
		Precision:     r.cfg.Registration.Precision,
		CoarseAlign:   r.cfg.Registration.CoarseAlign,
		Logger:        r.log,
	}, nil
}

// exportMetrics writes the metrics textfile when one is configured
func (r *Root) exportMetrics() {
	path := r.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := r.recorder.WriteTextfile(path); err != nil {
		r.log.WithError(err).Warn("Failed to export metrics")
		return
	}
	r.log.WithField("path", path).Debug("Metrics exported")
}

// report logs an error with its stack trace in debug mode
func (r *Root) report(err error) error {
	if err != nil && r.debug {
		r.log.Debugf("%+v", err)
	}
	return err
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("turboreg %s\n", Version)
			cmd.Printf("Built with Go %s\n", runtime.Version())
		},
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
