package configs

type ServiceConfig struct {
	HttpPort         string `yaml:"http_port"`
	SessionExpireMin int    `yaml:"session_expire_min"`
	// SecureCookies should stay false for plain-HTTP onion service deployments,
	// where the hidden service itself provides the transport security.
	SecureCookies bool `yaml:"secure_cookies"`
}
