package config

import (
	"log/slog"

	"github.com/spf13/viper"
)

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")

	viper.SetDefault("AUDIO_DEV", "default")
	viper.SetDefault("CARD_SAMPLE_RATE", 48000)
	viper.SetDefault("CARD_CHANNELS", 1)
	viper.SetDefault("BLOCK_SIZE", 1024)
	viper.SetDefault("BLOCK_COUNT", 4)

	viper.SetDefault("RECONNECT_RETRIES", 5)
	viper.SetDefault("ANNOUNCEMENT_FILE", "")
	viper.SetDefault("RX_RECORD_FILE", "")
}

// LoadConfig reads the config file into the global viper instance. A missing
// file is tolerated (defaults apply); account keys are validated later by
// the session engine.
func LoadConfig(configFilePath string) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("no config file found", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			panic(err)
		}
	}
}
