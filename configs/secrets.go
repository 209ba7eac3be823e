package configs

type Secrets struct {
	SessionSecret   string `yaml:"session_secret"`
	ClearanceSecret string `yaml:"clearance_secret"`
	PowSecret       string `yaml:"pow_secret"`
}
