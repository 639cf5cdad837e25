package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/kpalign/internal/homography"
	"github.com/MeKo-Tech/kpalign/internal/pointsio"
	"github.com/MeKo-Tech/kpalign/internal/resample"
	"github.com/MeKo-Tech/kpalign/internal/utils"
)

var warpCmd = &cobra.Command{
	Use:   "warp IMAGE",
	Short: "Warp an image with a saved transform",
	Long: `Warp an image into another frame with a transform file written by
"kpalign fit" or the server's /transform endpoint.

The output size is taken from --reference, from --width/--height, or defaults
to the input size. Pixels that map outside the input are black.

Examples:
  kpalign warp moving.png --transform H.txt --reference fixed.png -o aligned.png
  kpalign warp moving.png --transform H.txt --width 800 --height 600 -o out.png --interpolation lanczos`,
	Args: cobra.ExactArgs(1),
	RunE: runWarp,
}

func runWarp(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	interpName := cfg.View.Interpolation
	if cmd.Flags().Changed("interpolation") {
		interpName, _ = cmd.Flags().GetString("interpolation")
	}
	interp, err := resample.ParseInterpolation(interpName)
	if err != nil {
		return err
	}

	transformPath, _ := cmd.Flags().GetString("transform")
	output, _ := cmd.Flags().GetString("output")
	if transformPath == "" {
		return errors.New("--transform is required")
	}
	if output == "" {
		return errors.New("--output is required")
	}

	src, meta, err := utils.LoadImage(args[0])
	if err != nil {
		return err
	}
	h, err := pointsio.LoadTransform(transformPath)
	if err != nil {
		return err
	}
	inverse, err := homography.Invert(h)
	if err != nil {
		return fmt.Errorf("transform %s: %w", transformPath, err)
	}

	w, ht := meta.Width, meta.Height
	if ref, _ := cmd.Flags().GetString("reference"); ref != "" {
		_, refMeta, err := utils.LoadImage(ref)
		if err != nil {
			return err
		}
		w, ht = refMeta.Width, refMeta.Height
	}
	if cmd.Flags().Changed("width") {
		w, _ = cmd.Flags().GetInt("width")
	}
	if cmd.Flags().Changed("height") {
		ht, _ = cmd.Flags().GetInt("height")
	}
	if w <= 0 || ht <= 0 {
		return fmt.Errorf("invalid output size %dx%d", w, ht)
	}

	start := time.Now()
	out := resample.Warp(src, inverse, w, ht, interp)
	slog.Debug("image warped", "width", w, "height", ht, "interpolation", interp.String(),
		"duration", time.Since(start))

	if err := utils.SaveImage(output, out); err != nil {
		return err
	}
	slog.Info("warped image saved", "output", output)
	return nil
}

func init() {
	rootCmd.AddCommand(warpCmd)
	warpCmd.Flags().StringP("transform", "t", "", "transform file (3x3 matrix)")
	warpCmd.Flags().StringP("reference", "r", "", "image whose size the output takes")
	warpCmd.Flags().Int("width", 0, "output width")
	warpCmd.Flags().Int("height", 0, "output height")
	warpCmd.Flags().String("interpolation", "linear", "interpolation (nearest, linear, area, cubic, lanczos)")
	warpCmd.Flags().StringP("output", "o", "", "output image path")
}
