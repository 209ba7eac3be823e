package configs

// CaptchaConfig controls challenge geometry, rendering and validation.
// The tolerance values are deliberately tunable: they trade human
// forgiveness against how precisely a click must localize the odd shape.
type CaptchaConfig struct {
	Width      int `yaml:"width"`
	Height     int `yaml:"height"`
	ShapeCount int `yaml:"shape_count"`
	RadiusMin  int `yaml:"radius_min"`
	RadiusMax  int `yaml:"radius_max"`
	Margin     int `yaml:"margin"`
	// MinGap is the required clearance between circle edges during placement.
	MinGap      int `yaml:"min_gap"`
	CutAngleDeg int `yaml:"cut_angle_deg"`
	// PlacementRetries bounds reject-and-resample before generation fails.
	PlacementRetries int  `yaml:"placement_retries"`
	UseNoise         bool `yaml:"use_noise"`

	TTLSeconds  int `yaml:"ttl_seconds"`
	MaxAttempts int `yaml:"max_attempts"`

	ToleranceFactor   float64 `yaml:"tolerance_factor"`
	ToleranceMarginPx float64 `yaml:"tolerance_margin_px"`
}

func (c *CaptchaConfig) ApplyDefaults() {
	if c.Width == 0 {
		c.Width = 300
	}
	if c.Height == 0 {
		c.Height = 150
	}
	if c.ShapeCount == 0 {
		c.ShapeCount = 6
	}
	if c.RadiusMin == 0 {
		c.RadiusMin = 20
	}
	if c.RadiusMax == 0 {
		c.RadiusMax = 28
	}
	if c.Margin == 0 {
		c.Margin = 25
	}
	if c.MinGap == 0 {
		c.MinGap = 8
	}
	if c.CutAngleDeg == 0 {
		c.CutAngleDeg = 60
	}
	if c.PlacementRetries == 0 {
		c.PlacementRetries = 1000
	}
	if c.TTLSeconds == 0 {
		c.TTLSeconds = 300
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.ToleranceFactor == 0 {
		c.ToleranceFactor = 0.5
	}
	if c.ToleranceMarginPx == 0 {
		c.ToleranceMarginPx = 5
	}
}
