package configs

// RateWindowConfig is one (window size, limit) pair for an endpoint class.
type RateWindowConfig struct {
	Seconds int `yaml:"seconds"`
	Limit   int `yaml:"limit"`
}

// EndpointClassConfig configures admission control for one endpoint class.
// FailMode decides what happens when the counter store is unreachable:
// "open" admits the request, "closed" rejects it.
type EndpointClassConfig struct {
	Windows  []RateWindowConfig `yaml:"windows"`
	FailMode string             `yaml:"fail_mode"`
	Paths    []string           `yaml:"paths"`
}

type RateLimitConfig struct {
	Enabled bool                           `yaml:"enabled"`
	Classes map[string]EndpointClassConfig `yaml:"classes"`
	// ClearanceExpireMin is the lifetime of a clearance token issued after a
	// solved challenge; holders skip counting on all classes except those
	// with fail_mode "closed".
	ClearanceExpireMin int `yaml:"clearance_expire_min"`
	PowDifficulty      int `yaml:"pow_difficulty"`
	PowExpireSeconds   int `yaml:"pow_expire_seconds"`
}

func (c *RateLimitConfig) ApplyDefaults() {
	if c.Classes == nil {
		c.Classes = map[string]EndpointClassConfig{}
	}
	if _, ok := c.Classes["general"]; !ok {
		c.Classes["general"] = EndpointClassConfig{
			Windows: []RateWindowConfig{
				{Seconds: 60, Limit: 30},
				{Seconds: 300, Limit: 100},
				{Seconds: 3600, Limit: 500},
			},
			FailMode: "open",
		}
	}
	if _, ok := c.Classes["login"]; !ok {
		c.Classes["login"] = EndpointClassConfig{
			Windows: []RateWindowConfig{
				{Seconds: 60, Limit: 5},
				{Seconds: 3600, Limit: 30},
			},
			FailMode: "open",
			Paths:    []string{"/auth/login"},
		}
	}
	if _, ok := c.Classes["registration"]; !ok {
		c.Classes["registration"] = EndpointClassConfig{
			Windows: []RateWindowConfig{
				{Seconds: 60, Limit: 3},
				{Seconds: 3600, Limit: 10},
			},
			FailMode: "open",
			Paths:    []string{"/auth/register"},
		}
	}
	if _, ok := c.Classes["withdrawal"]; !ok {
		c.Classes["withdrawal"] = EndpointClassConfig{
			Windows: []RateWindowConfig{
				{Seconds: 60, Limit: 2},
				{Seconds: 3600, Limit: 5},
			},
			FailMode: "closed",
			Paths:    []string{"/wallet/withdraw"},
		}
	}
	if c.ClearanceExpireMin == 0 {
		c.ClearanceExpireMin = 60
	}
	if c.PowDifficulty == 0 {
		c.PowDifficulty = 4
	}
	if c.PowExpireSeconds == 0 {
		c.PowExpireSeconds = 300
	}
}
