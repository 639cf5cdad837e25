package config

import (
	"fmt"
	"slices"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/text/language"

	"github.com/MeKo-Tech/kpalign/internal/contrast"
	"github.com/MeKo-Tech/kpalign/internal/fit"
	"github.com/MeKo-Tech/kpalign/internal/resample"
	"github.com/MeKo-Tech/kpalign/internal/session"
	"github.com/MeKo-Tech/kpalign/internal/view"
	"github.com/MeKo-Tech/kpalign/internal/viewport"
)

// Config represents the complete configuration for kpalign.
// It is shared by all commands (fit, warp, render, serve) and can be loaded
// from configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	View     ViewConfig     `mapstructure:"view" yaml:"view" json:"view"`
	Markers  MarkerConfig   `mapstructure:"markers" yaml:"markers" json:"markers"`
	Fit      FitConfig      `mapstructure:"fit" yaml:"fit" json:"fit"`
	Contrast ContrastConfig `mapstructure:"contrast" yaml:"contrast" json:"contrast"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
	Feed   FeedConfig   `mapstructure:"feed" yaml:"feed" json:"feed"`
}

// ViewConfig contains display settings.
type ViewConfig struct {
	Interpolation string  `mapstructure:"interpolation" yaml:"interpolation" json:"interpolation"`
	InitialZoom   float64 `mapstructure:"initial_zoom" yaml:"initial_zoom" json:"initial_zoom"`
	NavWidth      int     `mapstructure:"nav_width" yaml:"nav_width" json:"nav_width"`
	NavHeight     int     `mapstructure:"nav_height" yaml:"nav_height" json:"nav_height"`
	DetailWidth   int     `mapstructure:"detail_width" yaml:"detail_width" json:"detail_width"`
	DetailHeight  int     `mapstructure:"detail_height" yaml:"detail_height" json:"detail_height"`
	Locale        string  `mapstructure:"locale" yaml:"locale" json:"locale"`
}

// MarkerConfig contains point marker overlay settings.
type MarkerConfig struct {
	Radius         float64 `mapstructure:"radius" yaml:"radius" json:"radius"`
	Thickness      float64 `mapstructure:"thickness" yaml:"thickness" json:"thickness"`
	PendingColor   string  `mapstructure:"pending_color" yaml:"pending_color" json:"pending_color"`
	ConfirmedColor string  `mapstructure:"confirmed_color" yaml:"confirmed_color" json:"confirmed_color"`
	ReferenceColor string  `mapstructure:"reference_color" yaml:"reference_color" json:"reference_color"`
	WindowColor    string  `mapstructure:"window_color" yaml:"window_color" json:"window_color"`
	WindowWidth    float64 `mapstructure:"window_width" yaml:"window_width" json:"window_width"`
}

// FitConfig contains transform fitting settings.
type FitConfig struct {
	TransformClass   string  `mapstructure:"transform_class" yaml:"transform_class" json:"transform_class"`
	Robust           bool    `mapstructure:"robust" yaml:"robust" json:"robust"`
	RANSACThreshold  float64 `mapstructure:"ransac_threshold" yaml:"ransac_threshold" json:"ransac_threshold"`
	RANSACIterations int     `mapstructure:"ransac_iterations" yaml:"ransac_iterations" json:"ransac_iterations"`
	Seed             uint64  `mapstructure:"seed" yaml:"seed" json:"seed"`
}

// ContrastConfig contains CLAHE settings.
type ContrastConfig struct {
	TileGrid int `mapstructure:"tile_grid" yaml:"tile_grid" json:"tile_grid"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// FeedConfig contains live image feed settings.
type FeedConfig struct {
	MaxFrameMB int `mapstructure:"max_frame_mb" yaml:"max_frame_mb" json:"max_frame_mb"`
}

// DefaultConfig returns a configuration with the interactive tool's defaults.
func DefaultConfig() Config {
	ransac := fit.DefaultRANSACOptions()
	style := view.DefaultStyle()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		View: ViewConfig{
			Interpolation: resample.DefaultInterpolation.String(),
			InitialZoom:   viewport.DefaultZoom,
			NavWidth:      400,
			NavHeight:     300,
			DetailWidth:   400,
			DetailHeight:  400,
			Locale:        "en",
		},
		Markers: MarkerConfig{
			Radius:         style.Radius,
			Thickness:      style.Thickness,
			PendingColor:   "#0000ff",
			ConfirmedColor: "#ff0000",
			ReferenceColor: "#00ff00",
			WindowColor:    "#ff0000",
			WindowWidth:    style.WindowWidth,
		},
		Fit: FitConfig{
			TransformClass:   fit.Homography.String(),
			Robust:           false,
			RANSACThreshold:  ransac.Threshold,
			RANSACIterations: ransac.Iterations,
			Seed:             ransac.Seed,
		},
		Contrast: ContrastConfig{
			TileGrid: contrast.DefaultTileGrid,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		Feed: FeedConfig{
			MaxFrameMB: 16,
		},
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var err error

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		err = multierr.Append(err, fmt.Errorf("invalid log level: %s (must be one of: %s)",
			c.LogLevel, strings.Join(validLogLevels, ", ")))
	}

	if _, perr := resample.ParseInterpolation(c.View.Interpolation); perr != nil {
		err = multierr.Append(err, perr)
	}
	if c.View.InitialZoom <= 0 || c.View.InitialZoom > viewport.MaxZoom {
		err = multierr.Append(err, fmt.Errorf("invalid view.initial_zoom: %.1f (must be in (0, %.0f])",
			c.View.InitialZoom, viewport.MaxZoom))
	}
	err = multierr.Append(err, validatePanel("view.nav", c.View.NavWidth, c.View.NavHeight))
	err = multierr.Append(err, validatePanel("view.detail", c.View.DetailWidth, c.View.DetailHeight))
	if _, perr := language.Parse(c.View.Locale); perr != nil {
		err = multierr.Append(err, fmt.Errorf("invalid view.locale %q: %w", c.View.Locale, perr))
	}

	if _, serr := c.Style(); serr != nil {
		err = multierr.Append(err, serr)
	}

	if _, perr := fit.ParseTransformClass(c.Fit.TransformClass); perr != nil {
		err = multierr.Append(err, perr)
	}
	if c.Fit.RANSACThreshold <= 0 {
		err = multierr.Append(err, fmt.Errorf("invalid fit.ransac_threshold: %.2f (must be positive)", c.Fit.RANSACThreshold))
	}
	if c.Fit.RANSACIterations <= 0 {
		err = multierr.Append(err, fmt.Errorf("invalid fit.ransac_iterations: %d (must be positive)", c.Fit.RANSACIterations))
	}

	if c.Contrast.TileGrid <= 0 {
		err = multierr.Append(err, fmt.Errorf("invalid contrast.tile_grid: %d (must be positive)", c.Contrast.TileGrid))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		err = multierr.Append(err, fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB))
	}
	if c.Server.TimeoutSec <= 0 {
		err = multierr.Append(err, fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec))
	}
	if c.Server.ShutdownTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout))
	}
	if c.Feed.MaxFrameMB <= 0 {
		err = multierr.Append(err, fmt.Errorf("invalid feed.max_frame_mb: %d (must be positive)", c.Feed.MaxFrameMB))
	}

	return err
}

func validatePanel(name string, w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("invalid %s panel size: %dx%d (must be positive)", name, w, h)
	}
	return nil
}

// Style converts the marker settings to an overlay style.
func (c *Config) Style() (view.Style, error) {
	return view.ParseStyle(view.StyleSpec{
		Radius:      c.Markers.Radius,
		Thickness:   c.Markers.Thickness,
		Pending:     c.Markers.PendingColor,
		Confirmed:   c.Markers.ConfirmedColor,
		Reference:   c.Markers.ReferenceColor,
		WindowColor: c.Markers.WindowColor,
		WindowWidth: c.Markers.WindowWidth,
	})
}

// RANSACOptions returns the robust fitting settings.
func (c *Config) RANSACOptions() fit.RANSACOptions {
	return fit.RANSACOptions{
		Threshold:  c.Fit.RANSACThreshold,
		Iterations: c.Fit.RANSACIterations,
		Seed:       c.Fit.Seed,
	}
}

// ToSessionOptions converts the config to session options. The config should
// have passed Validate.
func (c *Config) ToSessionOptions() (session.Options, error) {
	opts := session.DefaultOptions()

	interp, err := resample.ParseInterpolation(c.View.Interpolation)
	if err != nil {
		return opts, err
	}
	class, err := fit.ParseTransformClass(c.Fit.TransformClass)
	if err != nil {
		return opts, err
	}
	style, err := c.Style()
	if err != nil {
		return opts, err
	}
	locale, err := language.Parse(c.View.Locale)
	if err != nil {
		return opts, fmt.Errorf("invalid view.locale %q: %w", c.View.Locale, err)
	}

	opts.InitialZoom = c.View.InitialZoom
	opts.Interpolation = interp
	opts.TransformClass = class
	opts.Style = style
	opts.Locale = locale
	opts.ContrastGrid = c.Contrast.TileGrid
	opts.Robust = c.Fit.Robust
	opts.RANSAC = c.RANSACOptions()
	return opts, nil
}
