package stream

// MediaConfig caps local capture. Higher resolutions increase VP8 encoding
// latency, so the defaults stay conservative.
type MediaConfig struct {
	MaxWidth  int
	MaxHeight int
	BitRate   int
}

// DefaultMedia matches the config-file defaults.
func DefaultMedia() MediaConfig {
	return MediaConfig{
		MaxWidth:  640,
		MaxHeight: 480,
		BitRate:   1_500_000,
	}
}

// withDefaults fills unset fields from DefaultMedia, so a zero MediaConfig
// still yields a usable capture stack.
func (c MediaConfig) withDefaults() MediaConfig {
	def := DefaultMedia()
	if c.MaxWidth <= 0 {
		c.MaxWidth = def.MaxWidth
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = def.MaxHeight
	}
	if c.BitRate <= 0 {
		c.BitRate = def.BitRate
	}
	return c
}
