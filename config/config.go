// Package config loads verifier settings from labelkit.yaml, with
// LABELKIT_ environment overrides and defaults matching the shipped
// tuning. Commands pass the loaded Config to the pipeline and stores;
// the library packages never read configuration themselves.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/labelkit/labelkit/cluster"
	"github.com/labelkit/labelkit/compliance"
	"github.com/labelkit/labelkit/fusion"
	"github.com/labelkit/labelkit/ocr"
)

// Detectors selects and tunes the two OCR engines.
type Detectors struct {
	Primary   string        `mapstructure:"primary"`
	Secondary string        `mapstructure:"secondary"`
	Timeout   time.Duration `mapstructure:"timeout"`
	DPI       int           `mapstructure:"dpi"`
	Languages []string      `mapstructure:"languages"`
	// Settings carries provider-specific keys per engine name, passed
	// verbatim to the engine factory.
	Settings map[string]map[string]string `mapstructure:"settings"`
}

// Fusion tunes token pairing and voting.
type Fusion struct {
	Overlap       float64 `mapstructure:"overlap"`
	Similarity    float64 `mapstructure:"similarity"`
	LineTolerance float64 `mapstructure:"line_tolerance"`
	// TieBreak is "primary" or "secondary".
	TieBreak string `mapstructure:"tie_break"`
}

// Match tunes fuzzy matching of record fields.
type Match struct {
	Threshold float64 `mapstructure:"threshold"`
}

// Cluster tunes the spatial grouping used by format checks.
type Cluster struct {
	Eps       float64 `mapstructure:"eps"`
	MinPoints int     `mapstructure:"min_points"`
	Proximity float64 `mapstructure:"proximity"`
}

// Batch bounds batch processing.
type Batch struct {
	Workers int `mapstructure:"workers"`
}

// Store selects the persistence backend.
type Store struct {
	// Driver is "sqlite" or "json".
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	JSONPath string `mapstructure:"json_path"`
}

// Images configures the label artwork search path.
type Images struct {
	Dirs []string `mapstructure:"dirs"`
}

// Server configures the HTTP API.
type Server struct {
	Addr string `mapstructure:"addr"`
}

// Config is the full verifier configuration.
type Config struct {
	Detectors Detectors `mapstructure:"detectors"`
	Fusion    Fusion    `mapstructure:"fusion"`
	Match     Match     `mapstructure:"match"`
	Cluster   Cluster   `mapstructure:"cluster"`
	Batch     Batch     `mapstructure:"batch"`
	Store     Store     `mapstructure:"store"`
	Images    Images    `mapstructure:"images"`
	Server    Server    `mapstructure:"server"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("detectors.primary", "tesseract")
	v.SetDefault("detectors.secondary", "onnx")
	v.SetDefault("detectors.timeout", "30s")
	v.SetDefault("detectors.dpi", 300)
	v.SetDefault("detectors.languages", []string{"eng"})
	v.SetDefault("fusion.overlap", 0.4)
	v.SetDefault("fusion.similarity", 60.0)
	v.SetDefault("fusion.line_tolerance", 25.0)
	v.SetDefault("fusion.tie_break", "primary")
	v.SetDefault("match.threshold", compliance.DefaultMatchThreshold)
	v.SetDefault("cluster.eps", cluster.DefaultEps)
	v.SetDefault("cluster.min_points", cluster.DefaultMinPoints)
	v.SetDefault("cluster.proximity", compliance.DefaultProximity)
	v.SetDefault("batch.workers", 4)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "labelkit.db")
	v.SetDefault("store.json_path", "data.json")
	v.SetDefault("images.dirs", []string{"test_labels"})
	v.SetDefault("server.addr", ":8080")
}

// Load reads configuration from path, or from labelkit.yaml in the
// working directory when path is empty. A missing default file is fine;
// a missing explicit file is an error. Every key can be overridden via
// LABELKIT_ environment variables (LABELKIT_BATCH_WORKERS=8).
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("labelkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	setDefaults(v)
	v.SetEnvPrefix("LABELKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Detectors.Primary == "" {
		return errors.New("config: detectors.primary is required")
	}
	if c.Detectors.Timeout <= 0 {
		return errors.New("config: detectors.timeout must be positive")
	}
	if c.Fusion.Overlap < 0 {
		return errors.New("config: fusion.overlap must not be negative")
	}
	if c.Fusion.Similarity < 0 || c.Fusion.Similarity > 100 {
		return errors.New("config: fusion.similarity must be between 0 and 100")
	}
	if c.Fusion.TieBreak != "primary" && c.Fusion.TieBreak != "secondary" {
		return fmt.Errorf("config: fusion.tie_break must be primary or secondary, got %q", c.Fusion.TieBreak)
	}
	if c.Match.Threshold <= 0 || c.Match.Threshold > 1 {
		return errors.New("config: match.threshold must be in (0, 1]")
	}
	if c.Cluster.Eps <= 0 {
		return errors.New("config: cluster.eps must be positive")
	}
	if c.Cluster.MinPoints < 1 {
		return errors.New("config: cluster.min_points must be at least 1")
	}
	if c.Cluster.Proximity <= 0 {
		return errors.New("config: cluster.proximity must be positive")
	}
	if c.Batch.Workers < 1 {
		return errors.New("config: batch.workers must be at least 1")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DSN == "" {
			return errors.New("config: store.dsn is required for the sqlite driver")
		}
	case "json":
		if c.Store.JSONPath == "" {
			return errors.New("config: store.json_path is required for the json driver")
		}
	default:
		return fmt.Errorf("config: store.driver must be sqlite or json, got %q", c.Store.Driver)
	}
	if len(c.Images.Dirs) == 0 {
		return errors.New("config: images.dirs must name at least one directory")
	}
	if c.Server.Addr == "" {
		return errors.New("config: server.addr is required")
	}
	return nil
}

// FusionOptions maps the fusion section onto engine options.
func (c Config) FusionOptions() fusion.Options {
	opts := fusion.Options{
		Overlap:       c.Fusion.Overlap,
		Similarity:    c.Fusion.Similarity,
		LineTolerance: c.Fusion.LineTolerance,
	}
	if c.Fusion.TieBreak == "secondary" {
		opts.TieBreak = fusion.PreferB
	}
	return opts
}

// VerificationOptions maps the match and cluster sections onto
// verification options.
func (c Config) VerificationOptions() compliance.Options {
	return compliance.Options{
		MatchThreshold: c.Match.Threshold,
		Cluster: cluster.Params{
			Eps:       c.Cluster.Eps,
			MinPoints: c.Cluster.MinPoints,
		},
		Proximity: c.Cluster.Proximity,
	}
}

// InputOptions maps the detector section onto per-scan input options.
func (c Config) InputOptions() []ocr.InputOption {
	var opts []ocr.InputOption
	if c.Detectors.DPI > 0 {
		opts = append(opts, ocr.WithDPI(c.Detectors.DPI))
	}
	if len(c.Detectors.Languages) > 0 {
		opts = append(opts, ocr.WithLanguages(c.Detectors.Languages...))
	}
	return opts
}

// EnginePair constructs the configured detectors through the engine
// registry. Provider packages must be imported (usually blank) for
// their names to resolve. An empty secondary runs single-detector.
func (c Config) EnginePair() (ocr.Pair, error) {
	pair := ocr.Pair{Timeout: c.Detectors.Timeout}
	a, err := ocr.New(c.Detectors.Primary, c.Detectors.Settings[c.Detectors.Primary])
	if err != nil {
		return ocr.Pair{}, err
	}
	pair.A = a
	if c.Detectors.Secondary != "" {
		b, err := ocr.New(c.Detectors.Secondary, c.Detectors.Settings[c.Detectors.Secondary])
		if err != nil {
			return ocr.Pair{}, err
		}
		pair.B = b
	}
	return pair, nil
}
