package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// netplay components. Only cmd/ packages should load it; library packages
// receive the values they need through their constructors.
type Config struct {
	// Hostname or IP address on which the relay will listen for connections.
	// Blank binds all interfaces.
	Hostname string `mapstructure:"hostname"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	RelayServer struct {
		// Port on which the relay server will listen.
		Port int `mapstructure:"port"`
		// Maximum number of concurrently connected clients.
		MaxClients int `mapstructure:"max_clients"`
	} `mapstructure:"relay_server"`

	Web struct {
		// HTTP endpoint port for the relay's status API.
		HTTPPort int `mapstructure:"http_port"`
	} `mapstructure:"web"`

	Database struct {
		// Database engine for the session history store. Only sqlite is
		// supported; a blank engine disables persistence entirely.
		Engine string `mapstructure:"engine"`
		// Path to the sqlite database file.
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Debugging struct {
		// Log every message routed through the relay.
		MessageLoggingEnabled bool `mapstructure:"message_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "NETPLAY"

// Defaults that allow the relay to come up with no config file present.
const (
	DefaultRelayPort  = 7777
	DefaultHTTPPort   = 7780
	DefaultMaxClients = 10
)

// LoadConfig initializes Viper with the contents of the config file under
// configPath. A missing config file is not an error since every option has
// a usable default; a malformed one is.
func LoadConfig(configPath string) (*Config, error) {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, relay_server.port can be set using: NETPLAY_RELAY_SERVER_PORT
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

func setDefaults() {
	viper.SetDefault("hostname", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("relay_server.port", DefaultRelayPort)
	viper.SetDefault("relay_server.max_clients", DefaultMaxClients)
	viper.SetDefault("web.http_port", DefaultHTTPPort)
	viper.SetDefault("database.engine", "")
	viper.SetDefault("database.path", "netplay.db")
}

// RelayAddress returns the full bind address for the relay server.
func (c *Config) RelayAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.RelayServer.Port)
}

// WebAddress returns the full bind address for the status HTTP endpoint.
func (c *Config) WebAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Web.HTTPPort)
}
