package config

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/nnemirovsky/goneva/pkg/pathing"
)

var ActiveMonitorConfig *MonitorConfig

// LoadMonitorConfig loads the nevamon config, writing a default file on
// first run so the installation can be edited in place.
func LoadMonitorConfig() error {
	configPath := pathing.GetConfigPath("nevamon.toml")

	// Create default if not exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := &MonitorConfig{
			Meter: MeterConfig{
				Address:     "/dev/ttyUSB0",
				InitialBaud: 300,
			},
			ListenAddress:       "0.0.0.0",
			ListenPort:          9040,
			PollIntervalSeconds: 60,
		}
		if err := os.MkdirAll(pathing.GetConfigDir(), 0755); err != nil {
			return err
		}
		cfgFile, err := os.Create(configPath)
		if err != nil {
			return err
		}
		defer cfgFile.Close()
		if err := toml.NewEncoder(cfgFile).Encode(cfg); err != nil {
			return err
		}
		ActiveMonitorConfig = cfg
		return nil
	}

	// Load existing config
	var cfg MonitorConfig
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		return err
	}
	ActiveMonitorConfig = &cfg
	return nil
}
