package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/pointsio"
	"github.com/MeKo-Tech/kpalign/internal/session"
)

// FitReport is the JSON output of the fit command.
type FitReport struct {
	Class       string        `json:"class"`
	From        string        `json:"from"`
	Pairs       int           `json:"pairs"`
	Matrix      [3][3]float64 `json:"matrix"`
	RMSE        float64       `json:"rmse"`
	InlierCount int           `json:"inlier_count"`
	Inliers     []bool        `json:"inliers"`
}

var fitCmd = &cobra.Command{
	Use:   "fit POINTS",
	Short: "Fit an alignment transform from a points file",
	Long: `Fit the transform that maps one side of a points file onto the other.

The points file holds one pair per line as "x1 y1 x2 y2", where the first two
columns are the left image and the last two the right image. By default the
transform maps left onto right; use --from right for the opposite direction.

Examples:
  kpalign fit points.txt
  kpalign fit points.txt --class similarity --from right -o H.txt
  kpalign fit points.txt --robust --threshold 2 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runFit,
}

func runFit(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	className := cfg.Fit.TransformClass
	if cmd.Flags().Changed("class") {
		className, _ = cmd.Flags().GetString("class")
	}
	class, err := fit.ParseTransformClass(className)
	if err != nil {
		return err
	}

	robust := cfg.Fit.Robust
	if cmd.Flags().Changed("robust") {
		robust, _ = cmd.Flags().GetBool("robust")
	}
	opts := cfg.RANSACOptions()
	if cmd.Flags().Changed("threshold") {
		opts.Threshold, _ = cmd.Flags().GetFloat64("threshold")
	}
	if cmd.Flags().Changed("iterations") {
		opts.Iterations, _ = cmd.Flags().GetInt("iterations")
	}
	if cmd.Flags().Changed("seed") {
		opts.Seed, _ = cmd.Flags().GetUint64("seed")
	}

	fromName, _ := cmd.Flags().GetString("from")
	from, err := session.ParseSide(fromName)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format: %q (must be one of: text, json)", format)
	}

	left, right, err := pointsio.LoadPoints(args[0])
	if err != nil {
		return err
	}
	src, dst := left, right
	if from == session.Right {
		src, dst = right, left
	}

	var res fit.Result
	if robust {
		res, err = fit.FitRANSAC(src, dst, class, opts)
	} else {
		res.Matrix, err = fit.Fit(src, dst, class)
		if err == nil {
			res.RMSE, err = fit.RMSE(res.Matrix, src, dst)
			res.InlierCount = len(src)
			res.Inliers = make([]bool, len(src))
			for i := range res.Inliers {
				res.Inliers[i] = true
			}
		}
	}
	if err != nil {
		return fmt.Errorf("fit %s: %w", args[0], err)
	}
	slog.Info("transform fitted", "class", class.String(), "from", from.String(),
		"pairs", len(src), "inliers", res.InlierCount, "rmse", res.RMSE)

	write := func(w io.Writer) error {
		if format == "json" {
			return writeFitReport(w, FitReport{
				Class:       class.String(),
				From:        from.String(),
				Pairs:       len(src),
				Matrix:      res.Matrix.Rows(),
				RMSE:        res.RMSE,
				InlierCount: res.InlierCount,
				Inliers:     res.Inliers,
			})
		}
		return pointsio.WriteTransform(w, res.Matrix)
	}

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		return write(cmd.OutOrStdout())
	}
	return writeOutput(output, write)
}

// writeOutput creates path and reports write and close failures alike.
func writeOutput(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path) //nolint:gosec // G304: output path is user-provided
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func writeFitReport(w io.Writer, report FitReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func init() {
	rootCmd.AddCommand(fitCmd)
	fitCmd.Flags().String("class", "homography", "transform class (translation, rigid, similarity, affine, homography)")
	fitCmd.Flags().Bool("robust", false, "reject outlier pairs with RANSAC")
	fitCmd.Flags().Float64("threshold", 3, "RANSAC inlier threshold in pixels")
	fitCmd.Flags().Int("iterations", 500, "RANSAC iterations")
	fitCmd.Flags().Uint64("seed", 1, "RANSAC random seed")
	fitCmd.Flags().String("from", "left", "side the transform maps from (left, right)")
	fitCmd.Flags().String("format", "text", "output format (text, json)")
	fitCmd.Flags().StringP("output", "o", "", "write the result to a file instead of stdout")
}
