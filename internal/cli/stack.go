package cli

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"turboreg/internal/models"
	"turboreg/pkg/imageio"
	"turboreg/pkg/registration"
	"turboreg/pkg/stack"
)

func newStackCmd(root *Root) *cobra.Command {
	var (
		flags      registrationFlags
		mode       string
		reference  int
		noPrefetch bool
		orthogonal bool
	)

	cmd := &cobra.Command{
		Use:   "stack <input_directory> [output_directory]",
		Short: "Align every slice of an image sequence",
		Long: `Load the numbered slices of a directory, register each one to the reference
slice (or, in propagate mode, to its neighbour towards the reference) and write
the aligned sequence together with the per-slice transformations.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, root.cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("mode") {
				root.cfg.Stack.Mode = mode
			}
			if cmd.Flags().Changed("reference") {
				root.cfg.Stack.Reference = reference
			}
			if cmd.Flags().Changed("no-prefetch") {
				root.cfg.Stack.Prefetch = !noPrefetch
			}
			if cmd.Flags().Changed("orthogonal") {
				root.cfg.Output.OrthogonalViews = orthogonal
			}
			if err := root.cfg.Validate(); err != nil {
				return err
			}

			output := filepath.Join(args[0], "aligned")
			if len(args) > 1 {
				output = args[1]
			}
			return root.report(root.runStack(cmd, args[0], output))
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "stack mode (reference|propagate)")
	cmd.Flags().IntVarP(&reference, "reference", "r", 0, "index of the reference slice")
	cmd.Flags().BoolVar(&noPrefetch, "no-prefetch", false, "prepare slices sequentially")
	cmd.Flags().BoolVar(&orthogonal, "orthogonal", false, "also write x and y reslices of the aligned stack")

	return cmd
}

func (r *Root) runStack(cmd *cobra.Command, input, output string) error {
	st, names, err := imageio.LoadStack(input, r.cfg.Input.Signed16)
	if err != nil {
		return err
	}
	regOpts, err := r.registrationOptions()
	if err != nil {
		return err
	}
	mode, err := stack.ParseMode(r.cfg.Stack.Mode)
	if err != nil {
		return err
	}

	log := r.log.WithFields(logrus.Fields{
		"input":  input,
		"slices": st.Depth(),
		"width":  st.Width,
		"height": st.Height,
	})
	log.Info("Stack loaded")

	opts := stack.Options{
		Registration: regOpts,
		Mode:         mode,
		Reference:    r.cfg.Stack.Reference,
		Prefetch:     r.cfg.Stack.Prefetch,
		Progress: func(completed, total int) {
			log.WithField("completed", completed).Debug("Slice done")
		},
		Observer: func(slice int, result *registration.Result) {
			r.recorder.ObserveRegistration(regOpts.Type, result)
		},
	}
	result, err := stack.Align(cmd.Context(), st, opts)
	if err != nil {
		r.recorder.ObserveFailure(regOpts.Type)
		r.exportMetrics()
		return err
	}

	format := imageio.Format(r.cfg.Output.Format)
	saveOpts := imageio.SaveOptions{
		Rescale:  r.cfg.Output.Rescale,
		Signed16: r.cfg.Input.Signed16,
		Float32:  r.cfg.Output.Float32,
	}
	paths, err := imageio.SaveStack(output, "aligned", result.Aligned, format, saveOpts)
	if err != nil {
		return err
	}
	for range paths {
		r.recorder.ObserveSlice()
	}

	if r.cfg.Output.SaveMask {
		masks := &models.Stack{Width: st.Width, Height: st.Height}
		for _, m := range result.Masks {
			masks.Slices = append(masks.Slices, imageio.MaskImage(m))
		}
		if _, err := imageio.SaveStack(output, "mask", masks, format, imageio.SaveOptions{}); err != nil {
			return err
		}
	}

	if r.cfg.Output.OrthogonalViews {
		if _, err := imageio.SaveOrthogonalViews(output, "view", result.Aligned, format, imageio.SaveOptions{Rescale: true}); err != nil {
			return err
		}
	}

	if r.cfg.Output.SaveLandmarks {
		doc := stackTransforms{
			Transform: regOpts.Type.String(),
			Mode:      mode.String(),
			Reference: opts.Reference,
		}
		for i, m := range result.Matrices {
			entry := sliceTransform{Index: i, File: names[i], Matrix: m}
			if reg := result.Results[i]; reg != nil {
				entry.MeanSquares = reg.Trace.MeanSquares()
			}
			doc.Slices = append(doc.Slices, entry)
		}
		if err := writeYAML(filepath.Join(output, "transforms.yaml"), &doc); err != nil {
			return errors.Wrap(err, "transforms")
		}
	}

	log.WithField("output", output).Info("Stack aligned")
	r.exportMetrics()
	return nil
}
