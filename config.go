package surfcache

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultAtlasTexels is the default physical atlas dimension
	// (square, in texels).
	DefaultAtlasTexels = 4096

	// DefaultMaxDistance is the default admission range from the
	// camera, in world units.
	DefaultMaxDistance = 10000

	// DefaultTexelDensityScale converts world extent over distance
	// into projected texels.
	DefaultTexelDensityScale = 100

	// DefaultMaxTexelDensity caps card resolution in texels per world
	// unit regardless of camera proximity.
	DefaultMaxTexelDensity = 128

	// DefaultMaxCapturePagesPerFrame bounds per-frame capture work.
	DefaultMaxCapturePagesPerFrame = 128

	// DefaultMeshCardsAddBudgetFactor scales the per-frame mesh-cards
	// add cap relative to the capture budget.
	DefaultMeshCardsAddBudgetFactor = 2

	// DefaultCaptureAtlasFactor scales the transient capture atlas
	// capacity relative to the capture budget.
	DefaultCaptureAtlasFactor = 1

	// DefaultHysteresisPenalty is the distance penalty added to
	// reallocation requests for already-visible cards.
	DefaultHysteresisPenalty = 2500

	// DefaultHysteresisDeltaDivisor controls how quickly the penalty
	// fades for larger resolution-level deltas.
	DefaultHysteresisDeltaDivisor = 3

	// DefaultScanChunkSize is the number of elements per parallel scan
	// chunk.
	DefaultScanChunkSize = 64
)

// Config holds the tunable parameters of the surface cache.
//
// The zero value is not usable; start from DefaultConfig. All fields
// are plain knobs: changing AtlasTexels through Scene.Reconfigure
// triggers a full cache reset because page coordinates are
// atlas-size-relative.
type Config struct {
	// AtlasTexels is the physical atlas dimension in texels (square).
	// Must be a positive multiple of PageTexelSize, at most
	// MaxAtlasTexels.
	AtlasTexels int32 `yaml:"atlas_texels"`

	// MaxDistance is the admission range from the camera.
	MaxDistance float32 `yaml:"max_distance"`

	// TexelDensityScale converts world extent over distance into
	// projected texels for admission and resolution decisions.
	TexelDensityScale float32 `yaml:"texel_density_scale"`

	// MaxTexelDensity caps resolution in texels per world unit.
	MaxTexelDensity float32 `yaml:"max_texel_density"`

	// MaxCapturePagesPerFrame bounds how many pages may be queued for
	// capture in one update.
	MaxCapturePagesPerFrame int `yaml:"max_capture_pages_per_frame"`

	// MeshCardsAddBudgetFactor times MaxCapturePagesPerFrame caps
	// mesh-cards additions per frame.
	MeshCardsAddBudgetFactor int `yaml:"mesh_cards_add_budget_factor"`

	// CaptureAtlasFactor times MaxCapturePagesPerFrame sets the
	// transient capture atlas capacity in pages.
	CaptureAtlasFactor int `yaml:"capture_atlas_factor"`

	// HysteresisPenalty and HysteresisDeltaDivisor shape the
	// reallocation penalty: larger resolution deltas receive
	// proportionally less penalty. Tunables, not semantic guarantees.
	HysteresisPenalty      float32 `yaml:"hysteresis_penalty"`
	HysteresisDeltaDivisor float32 `yaml:"hysteresis_delta_divisor"`

	// ParallelUpdate enables chunked parallel scan stages. Disable to
	// force single-threaded execution, e.g. for determinism debugging.
	ParallelUpdate bool `yaml:"parallel_update"`

	// Workers is the scan worker count; 0 means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// ScanChunkSize is the number of elements per scan chunk; 0 means
	// DefaultScanChunkSize.
	ScanChunkSize int32 `yaml:"scan_chunk_size"`
}

// DefaultConfig returns the default surface cache configuration.
func DefaultConfig() Config {
	return Config{
		AtlasTexels:              DefaultAtlasTexels,
		MaxDistance:              DefaultMaxDistance,
		TexelDensityScale:        DefaultTexelDensityScale,
		MaxTexelDensity:          DefaultMaxTexelDensity,
		MaxCapturePagesPerFrame:  DefaultMaxCapturePagesPerFrame,
		MeshCardsAddBudgetFactor: DefaultMeshCardsAddBudgetFactor,
		CaptureAtlasFactor:       DefaultCaptureAtlasFactor,
		HysteresisPenalty:        DefaultHysteresisPenalty,
		HysteresisDeltaDivisor:   DefaultHysteresisDeltaDivisor,
		ParallelUpdate:           true,
		ScanChunkSize:            DefaultScanChunkSize,
	}
}

// LoadConfig reads a YAML config file, layering it over DefaultConfig.
// A missing file is not an error: defaults are returned so hosts can
// ship without a config file. A malformed file is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("surfcache: reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("surfcache: parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return DefaultConfig(), err
	}
	return cfg, nil
}

// Validate checks the configuration for values the cache cannot run
// with. Returns an error wrapping ErrInvalidConfig on failure.
func (c Config) Validate() error {
	if c.AtlasTexels < PageTexelSize || c.AtlasTexels%PageTexelSize != 0 {
		return fmt.Errorf("%w: atlas_texels %d must be a positive multiple of %d",
			ErrInvalidConfig, c.AtlasTexels, PageTexelSize)
	}
	if c.AtlasTexels > MaxAtlasTexels {
		return fmt.Errorf("%w: atlas_texels %d exceeds the maximum of %d",
			ErrInvalidConfig, c.AtlasTexels, MaxAtlasTexels)
	}
	if c.MaxDistance <= 0 {
		return fmt.Errorf("%w: max_distance must be positive, got %g",
			ErrInvalidConfig, c.MaxDistance)
	}
	if c.TexelDensityScale <= 0 {
		return fmt.Errorf("%w: texel_density_scale must be positive, got %g",
			ErrInvalidConfig, c.TexelDensityScale)
	}
	if c.MaxTexelDensity <= 0 {
		return fmt.Errorf("%w: max_texel_density must be positive, got %g",
			ErrInvalidConfig, c.MaxTexelDensity)
	}
	if c.MaxCapturePagesPerFrame <= 0 {
		return fmt.Errorf("%w: max_capture_pages_per_frame must be positive, got %d",
			ErrInvalidConfig, c.MaxCapturePagesPerFrame)
	}
	if c.MeshCardsAddBudgetFactor <= 0 {
		return fmt.Errorf("%w: mesh_cards_add_budget_factor must be positive, got %d",
			ErrInvalidConfig, c.MeshCardsAddBudgetFactor)
	}
	if c.CaptureAtlasFactor <= 0 {
		return fmt.Errorf("%w: capture_atlas_factor must be positive, got %d",
			ErrInvalidConfig, c.CaptureAtlasFactor)
	}
	if c.HysteresisDeltaDivisor <= 0 {
		return fmt.Errorf("%w: hysteresis_delta_divisor must be positive, got %g",
			ErrInvalidConfig, c.HysteresisDeltaDivisor)
	}
	return nil
}

// maxMeshCardsAddsPerFrame is the per-frame structural add cap.
func (c Config) maxMeshCardsAddsPerFrame() int {
	return c.MeshCardsAddBudgetFactor * c.MaxCapturePagesPerFrame
}

// scanChunkSize returns the effective chunk size for parallel scans.
func (c Config) scanChunkSize() int32 {
	if c.ScanChunkSize <= 0 {
		return DefaultScanChunkSize
	}
	return c.ScanChunkSize
}
