package cmd

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/kpalign/internal/config"
	"github.com/MeKo-Tech/kpalign/internal/contrast"
	"github.com/MeKo-Tech/kpalign/internal/pointsio"
	"github.com/MeKo-Tech/kpalign/internal/resample"
	"github.com/MeKo-Tech/kpalign/internal/session"
	"github.com/MeKo-Tech/kpalign/internal/utils"
	"github.com/MeKo-Tech/kpalign/internal/view"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

var renderCmd = &cobra.Command{
	Use:   "render IMAGE",
	Short: "Render a navigation or detail panel to an image file",
	Long: `Render one panel of the pairing view without the server.

The navigation panel fits the whole image and outlines the region a detail
panel with the given zoom and center would show. The detail panel shows the
image at --zoom percent around --center (raw pixel coordinates). Points from a
points file are drawn as confirmed markers; --side picks their column pair.

Examples:
  kpalign render left.png --panel nav -o nav.png
  kpalign render left.png --panel detail --zoom 800 --center 320,240 --points pts.txt -o detail.png
  kpalign render right.png --transform H.txt --reference left.png --side right --points pts.txt -o aligned.png`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

func parsePoint(s string) (r2.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return r2.Point{}, fmt.Errorf("invalid point %q (want x,y)", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return r2.Point{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return r2.Point{}, fmt.Errorf("invalid point %q: %w", s, err)
	}
	return r2.Point{X: x, Y: y}, nil
}

// renderViewport applies the size, zoom, alignment and center flags to vp,
// which already shows img.
func renderViewport(cmd *cobra.Command, vp *viewport.Viewport, img image.Image, size viewport.Size, zoom float64) error {
	if err := vp.SetPanelSize(size.Width, size.Height); err != nil {
		return err
	}
	if err := vp.SetZoom(zoom); err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("transform"); path != "" {
		h, err := pointsio.LoadTransform(path)
		if err != nil {
			return err
		}
		shape := viewport.SizeOf(img)
		if ref, _ := cmd.Flags().GetString("reference"); ref != "" {
			_, meta, err := utils.LoadImage(ref)
			if err != nil {
				return err
			}
			shape = viewport.Size{Width: meta.Width, Height: meta.Height}
		}
		if err := vp.SetAlignTransform(h, shape); err != nil {
			return err
		}
	}

	if c, _ := cmd.Flags().GetString("center"); c != "" {
		center, err := parsePoint(c)
		if err != nil {
			return err
		}
		if err := vp.SetCenter(center); err != nil {
			return err
		}
	}
	return nil
}

func panelSize(cmd *cobra.Command, cfg *config.Config, panel session.Panel) viewport.Size {
	size := viewport.Size{Width: cfg.View.DetailWidth, Height: cfg.View.DetailHeight}
	if panel == session.Navigation {
		size = viewport.Size{Width: cfg.View.NavWidth, Height: cfg.View.NavHeight}
	}
	if cmd.Flags().Changed("width") {
		size.Width, _ = cmd.Flags().GetInt("width")
	}
	if cmd.Flags().Changed("height") {
		size.Height, _ = cmd.Flags().GetInt("height")
	}
	return size
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	opts, err := cfg.ToSessionOptions()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("interpolation") {
		name, _ := cmd.Flags().GetString("interpolation")
		if opts.Interpolation, err = resample.ParseInterpolation(name); err != nil {
			return err
		}
	}

	panelName, _ := cmd.Flags().GetString("panel")
	panel, err := session.ParsePanel(panelName)
	if err != nil {
		return err
	}
	sideName, _ := cmd.Flags().GetString("side")
	sd, err := session.ParseSide(sideName)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		return errors.New("--output is required")
	}
	zoom := opts.InitialZoom
	if cmd.Flags().Changed("zoom") {
		zoom, _ = cmd.Flags().GetFloat64("zoom")
	}

	img, _, err := utils.LoadImage(args[0])
	if err != nil {
		return err
	}
	if slider, _ := cmd.Flags().GetInt("contrast"); slider > 0 {
		img = contrast.Apply(img, contrast.ClipFromSlider(slider), opts.ContrastGrid)
	}

	viewOpts := []view.Option{
		view.WithInterpolation(opts.Interpolation),
		view.WithStyle(opts.Style),
		view.WithLocale(opts.Locale),
	}
	detail := view.New(viewport.Detail, viewOpts...)
	if err := detail.SetImage(img); err != nil {
		return err
	}
	detailSize := viewport.Size{Width: cfg.View.DetailWidth, Height: cfg.View.DetailHeight}
	if panel == session.Detail {
		detailSize = panelSize(cmd, cfg, panel)
	}
	if err := renderViewport(cmd, detail.Viewport(), img, detailSize, zoom); err != nil {
		return err
	}

	target := detail
	if panel == session.Navigation {
		target = view.New(viewport.Navigation, viewOpts...)
		if err := target.SetImage(img); err != nil {
			return err
		}
		if err := renderViewport(cmd, target.Viewport(), img, panelSize(cmd, cfg, panel), zoom); err != nil {
			return err
		}
		poly, err := view.DetailWindow(target.Viewport(), detail.Viewport())
		if err != nil {
			return err
		}
		target.SetOutline(poly)
	} else {
		target.SetCaption(detail.Viewport().ZoomLabel(opts.Locale))
	}

	if path, _ := cmd.Flags().GetString("points"); path != "" {
		left, right, err := pointsio.LoadPoints(path)
		if err != nil {
			return err
		}
		pts := left
		if sd == session.Right {
			pts = right
		}
		target.SetMarkers(view.Confirmed, pts)
	}

	out, err := target.Render()
	if err != nil {
		return err
	}
	if err := utils.SaveImage(output, out); err != nil {
		return err
	}
	slog.Info("panel rendered", "panel", panel.String(), "output", output,
		"width", out.Rect.Dx(), "height", out.Rect.Dy())
	return nil
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().String("panel", "detail", "panel to render (nav, detail)")
	renderCmd.Flags().Int("width", 0, "panel width (default from config)")
	renderCmd.Flags().Int("height", 0, "panel height (default from config)")
	renderCmd.Flags().Float64("zoom", 400, "detail zoom in percent")
	renderCmd.Flags().String("center", "", "detail center in raw pixels as x,y (default image center)")
	renderCmd.Flags().String("points", "", "points file whose markers are drawn")
	renderCmd.Flags().String("side", "left", "which side of the points file to draw (left, right)")
	renderCmd.Flags().StringP("transform", "t", "", "alignment transform applied before display")
	renderCmd.Flags().StringP("reference", "r", "", "image whose frame the alignment maps into")
	renderCmd.Flags().Int("contrast", 0, "contrast enhancement slider position (0-1000)")
	renderCmd.Flags().String("interpolation", "linear", "interpolation (nearest, linear, area, cubic, lanczos)")
	renderCmd.Flags().StringP("output", "o", "", "output image path")
}
