package config

import (
	"encoding/json"
	"errors"
	"os"
)

// Config holds the broker's on-disk configuration (config.json).
type Config struct {
	// Listen is a list of D-Bus addresses to bind, e.g.
	// "unix:path=/run/dbusd/system_bus_socket" or "tcp:host=127.0.0.1,port=0".
	Listen []string `json:"listen"`

	Audit struct {
		Enabled            bool   `json:"enabled"`
		Host               string `json:"host"`
		Port               uint64 `json:"port"`
		Username           string `json:"username"`
		Password           string `json:"password"`
		Database           string `json:"database"`
		UseTLS             bool   `json:"use_tls"`
		ConnectTimeout     string `json:"connect_timeout"`
		SocketTimeout      string `json:"socket_timeout"`
		ConnectIdleTimeout string `json:"connect_idle_timeout"`
		OperationTimeout   string `json:"operation_timeout"`
		Heartbeat          string `json:"heartbeat"`
		MinPoolSize        uint64 `json:"min_pool_size"`
		MaxPoolSize        uint64 `json:"max_pool_size"`
	} `json:"audit"`

	DebugMode bool   `json:"debug_mode"`
	AppName   string `json:"app_name"`
}

var config Config
var initialized = false

func defaultConfig() Config {
	var c Config
	c.Listen = []string{"unix:path=/run/dbusd/system_bus_socket"}
	c.AppName = "dbusd"
	c.Audit.OperationTimeout = "10s"
	c.Audit.ConnectTimeout = "10s"
	c.Audit.SocketTimeout = "10s"
	c.Audit.ConnectIdleTimeout = "5m"
	c.Audit.Heartbeat = "10s"
	c.Audit.MinPoolSize = 1
	c.Audit.MaxPoolSize = 10
	return c
}

// ReadConfig reads config.json, creating a default one on first run.
func ReadConfig() (Config, error) {
	bytes, err := os.ReadFile("config.json")

	if err != nil {
		config = defaultConfig()
		writer, _ := os.OpenFile("config.json", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		data, _ := json.MarshalIndent(config, "", "\t")
		_, _ = writer.Write(data)
		_ = writer.Close()
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	config = defaultConfig()
	if err := json.Unmarshal(bytes, &config); err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	if initialized {
		return config, nil
	}
	return ReadConfig()
}
