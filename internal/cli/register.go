package cli

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"turboreg/internal/models"
	"turboreg/pkg/imageio"
	"turboreg/pkg/registration"
)

func newRegisterCmd(root *Root) *cobra.Command {
	var (
		flags        registrationFlags
		output       string
		sourceMask   string
		targetMask   string
		landmarksIn  string
		landmarksOut string
		manual       bool
		showQuality  bool
		showProgress bool
	)

	cmd := &cobra.Command{
		Use:   "register <source> <target>",
		Short: "Register a source image onto a target image",
		Long: `Estimate the transformation mapping the source image onto the target image,
resample the source onto the target grid and write the refined landmarks.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, root.cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("landmarks-out") {
				root.cfg.Output.SaveLandmarks = landmarksOut != ""
			}
			format := imageio.Format(root.cfg.Output.Format)
			if output == "" {
				output = defaultOutputPath(args[0], "registered", format)
			} else if f, err := imageio.FormatFromPath(output); err == nil {
				format = f
			} else {
				return err
			}
			if landmarksOut == "" && root.cfg.Output.SaveLandmarks {
				landmarksOut = strings.TrimSuffix(output, filepath.Ext(output)) + "_landmarks.yaml"
			}

			return root.report(root.runRegister(cmd, registerRequest{
				source:       args[0],
				target:       args[1],
				output:       output,
				format:       format,
				sourceMask:   sourceMask,
				targetMask:   targetMask,
				landmarksIn:  landmarksIn,
				landmarksOut: landmarksOut,
				manual:       manual,
				showQuality:  showQuality,
				showProgress: showProgress,
			}))
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output image path, derived from the source name if empty")
	cmd.Flags().StringVar(&sourceMask, "source-mask", "", "source mask image, nonzero pixels take part")
	cmd.Flags().StringVar(&targetMask, "target-mask", "", "target mask image, nonzero pixels take part")
	cmd.Flags().StringVarP(&landmarksIn, "landmarks", "l", "", "initial landmarks (YAML written by a previous run)")
	cmd.Flags().StringVar(&landmarksOut, "landmarks-out", "", "where to write the refined landmarks, empty to skip")
	cmd.Flags().BoolVar(&manual, "manual", false, "use the initial landmarks as given, without refinement")
	cmd.Flags().BoolVarP(&showQuality, "quality", "q", false, "print RMSE and correlation against the target")
	cmd.Flags().BoolVar(&showProgress, "progress", false, "log progress while registering")

	return cmd
}

type registerRequest struct {
	source, target         string
	output                 string
	format                 imageio.Format
	sourceMask, targetMask string
	landmarksIn            string
	landmarksOut           string
	manual                 bool
	showQuality            bool
	showProgress           bool
}

func (r *Root) runRegister(cmd *cobra.Command, req registerRequest) error {
	signed16 := r.cfg.Input.Signed16
	source, err := imageio.Load(req.source, signed16)
	if err != nil {
		return errors.Wrap(err, "source")
	}
	target, err := imageio.Load(req.target, signed16)
	if err != nil {
		return errors.Wrap(err, "target")
	}

	opts, err := r.registrationOptions()
	if err != nil {
		return err
	}
	if opts.SourceMask, err = loadOptionalMask(req.sourceMask); err != nil {
		return errors.Wrap(err, "source mask")
	}
	if opts.TargetMask, err = loadOptionalMask(req.targetMask); err != nil {
		return errors.Wrap(err, "target mask")
	}
	if req.landmarksIn != "" {
		file, err := readLandmarks(req.landmarksIn)
		if err != nil {
			return err
		}
		opts.Landmarks = file.Landmarks
		if !cmd.Flags().Changed("transform") {
			opts.Type = file.Landmarks.Type
		}
	}
	opts.Manual = req.manual
	if req.showProgress {
		opts.Progress = progressLogger(r.log)
	}

	log := r.log.WithFields(logrus.Fields{
		"source": filepath.Base(req.source),
		"target": filepath.Base(req.target),
	})
	log.WithField("transform", opts.Type.String()).Info("Registering")

	result, err := registration.Register(cmd.Context(), source, target, opts)
	if err != nil {
		r.recorder.ObserveFailure(opts.Type)
		r.exportMetrics()
		return err
	}
	r.recorder.ObserveRegistration(opts.Type, result)

	out, outMask, err := result.Apply(source, opts.SourceMask, target.Width, target.Height, opts.Accelerated)
	if err != nil {
		return err
	}
	saveOpts := imageio.SaveOptions{Rescale: r.cfg.Output.Rescale, Signed16: signed16, Float32: r.cfg.Output.Float32}
	if err := imageio.Save(req.output, out, saveOpts); err != nil {
		return err
	}
	log.WithField("path", req.output).Info("Registered image written")

	if r.cfg.Output.SaveMask {
		maskPath := siblingPath(req.output, "mask", req.format)
		if err := imageio.Save(maskPath, imageio.MaskImage(outMask), imageio.SaveOptions{}); err != nil {
			return err
		}
	}

	if req.landmarksOut != "" {
		file := landmarkFile{
			Source:      req.source,
			Target:      req.target,
			Landmarks:   result.Landmarks,
			Matrix:      result.Matrix,
			MeanSquares: result.Trace.MeanSquares(),
		}
		if err := writeLandmarks(req.landmarksOut, &file); err != nil {
			return err
		}
		log.WithField("path", req.landmarksOut).Info("Landmarks written")
	}

	if req.showQuality {
		q, err := registration.Assess(out, outMask, target, opts.TargetMask)
		if err != nil {
			return err
		}
		cmd.Printf("Overlap:       %d pixels (%.1f%%)\n", q.Overlap, 100*q.Coverage)
		cmd.Printf("RMSE:          %.6f\n", q.RMSE)
		cmd.Printf("Mean abs diff: %.6f\n", q.MeanAbsDiff)
		cmd.Printf("Correlation:   %.6f\n", q.Correlation)
	}

	r.exportMetrics()
	return nil
}

func loadOptionalMask(path string) (*models.Mask, error) {
	if path == "" {
		return nil, nil
	}
	return imageio.LoadMask(path)
}

// progressLogger logs every tenth of the announced workload
func progressLogger(log logrus.FieldLogger) registration.ProgressCallback {
	lastDecile := -1
	return func(completed, total int, message string) {
		if message != "" {
			log.Info(message)
			return
		}
		if total == 0 {
			return
		}
		if decile := 10 * completed / total; decile != lastDecile {
			lastDecile = decile
			log.WithField("percent", 10*decile).Info("Progress")
		}
	}
}

// defaultOutputPath places name_suffix.ext next to the input
func defaultOutputPath(input, suffix string, f imageio.Format) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(filepath.Dir(input), base+"_"+suffix+f.Extension())
}

// siblingPath returns path with _suffix appended to its base name
func siblingPath(path, suffix string, f imageio.Format) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "_" + suffix + f.Extension()
}
