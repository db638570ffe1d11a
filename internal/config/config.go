// Package config loads the translator's own settings, reads and rewrites the
// local device-connection file, and rehashes external configuration
// documents into the internal device/metric shape.
package config

import (
	"bytes"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// MQTTConfig carries the northbound broker session settings.
type MQTTConfig struct {
	URL                   string `mapstructure:"url" json:"url,omitempty"`
	QoS                   uint8  `mapstructure:"qos" json:"qos,omitempty"`
	ClientID              string `mapstructure:"client_id" json:"client_id,omitempty"`
	CleanStart            bool   `mapstructure:"clean_start" json:"clean_start,omitempty"`
	SessionExpiryInterval uint32 `mapstructure:"session_expiry_interval" json:"session_expiry_interval,omitempty"`
	User                  string `mapstructure:"user" json:"user,omitempty"`
	Password              string `mapstructure:"password" json:"password,omitempty"`
	ConnectTimeout        string `mapstructure:"connect_timeout" json:"connect_timeout,omitempty"`
	KeepAlive             uint16 `mapstructure:"keep_alive" json:"keep_alive,omitempty"`
	// How long to wait between connection attempts, in seconds.
	ConnectRetry int64 `mapstructure:"connect_retry" json:"connect_retry,omitempty"`
	// Primary host application id; its STATE topic is watched when set.
	PrimaryHost string `mapstructure:"primary_host" json:"primary_host,omitempty"`
	// Store-and-forward: frames that cannot be published are held this many
	// seconds and republished on reconnect. Zero disables it.
	StoreForwardTTL uint32 `mapstructure:"store_forward_ttl" json:"store_forward_ttl,omitempty"`
}

type Logger struct {
	Level            string `mapstructure:"level"`
	Format           string `mapstructure:"format"`
	DisableTimestamp bool   `mapstructure:"disable_timestamp"`
}

// Cfg is the translator's bootstrap configuration (not the device
// connections; those come from the config service or the local file).
type Cfg struct {
	MQTTConfig       MQTTConfig `mapstructure:"mqtt_config"`
	LoggerConfig     Logger     `mapstructure:"logger"`
	EnablePrometheus bool       `mapstructure:"enable_prometheus"`
	PrometheusAddr   string     `mapstructure:"prometheus_addr"`
	// Base URLs of the directory services.
	ConfigAPI   string `mapstructure:"config_api"`
	IdentityAPI string `mapstructure:"identity_api"`
	// Retry cadence for identity and config polling, in seconds.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
	// Path of the locally persisted device-connection file.
	LocalFile string `mapstructure:"local_file"`
}

func GetConfigs() Cfg {
	var configs Cfg
	logger := logrus.New()
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath("./config/")
	v.AddConfigPath("./configs/")
	v.AddConfigPath("/configs/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Errorln("⛔ Config file not found! using default configs ⛔")
			return setDefault(v, logger)
		}
		logger.Errorln("Config file was found but another error was produced ⛔")
		panic(err)
	}
	logger.Infoln("Config file found")

	if err := v.Unmarshal(&configs); err != nil {
		logger.Errorln("Unable to unmarshal configs ⛔")
		panic(err)
	}
	logger.Infoln("Config file parsed successfully ✅")
	return configs
}

func setDefault(v *viper.Viper, log *logrus.Logger) Cfg {
	var configs Cfg

	defaultConfig := []byte(`
	{
		"mqtt_config": {
			"url": "tcp://localhost:1883",
			"qos": 1,
			"client_id": "",
			"user": "",
			"password": "",
			"keep_alive": 10,
			"connect_timeout": "30s",
			"connect_retry": 3,
			"clean_start": false,
			"session_expiry_interval": 60,
			"store_forward_ttl": 300
		},

		"logger": {
			"level": "INFO",
			"format": "TEXT",
			"disable_timestamp": false
		},

		"enable_prometheus": true,
		"prometheus_addr": ":8080",

		"config_api": "http://localhost:8400",
		"identity_api": "http://localhost:8401",
		"poll_interval_seconds": 10,
		"local_file": "./config/conf.json"
	}
	`)

	if err := v.MergeConfig(bytes.NewReader(defaultConfig)); err != nil {
		log.Errorln("Error using default configs, exiting ⛔")
		panic(err)
	}
	if err := v.Unmarshal(&configs); err != nil {
		log.Errorln("Unable to unmarshal default configs ⛔")
		panic(err)
	}
	log.Infoln("Default configs parsed successfully ✅")
	return configs
}
