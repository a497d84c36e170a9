package config

// MeterConfig is the shared connection section for both commands.
type MeterConfig struct {
	// Address is a serial device path or a tcp://host:port tunnel
	// endpoint.
	Address string `toml:"address"`
	// BusAddress is the meter address on a shared line, usually empty.
	BusAddress string `toml:"bus_address"`
	Password   string `toml:"password"`
	ModelHint  string `toml:"model_hint"`
	// FallbackProfile enables the default profile for identification
	// strings that match no known model.
	FallbackProfile bool `toml:"fallback_profile"`
	InitialBaud     uint `toml:"initial_baud"`
	TimeoutSeconds  int  `toml:"timeout_seconds"`
	Retries         int  `toml:"retries"`
}

// MonitorConfig configures the nevamon live API.
type MonitorConfig struct {
	Meter MeterConfig `toml:"meter"`

	ListenAddress       string `toml:"listen_address"`
	ListenPort          int    `toml:"listen_port"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
}
