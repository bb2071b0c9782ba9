package commands

import (
	"strings"

	"github.com/mosaicnetworks/parley/src/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Defaults of the server commands.
const (
	DefaultEnvFile    = ".env"
	DefaultRelayAddr  = "127.0.0.1:8080"
	DefaultRedisDB    = 0
	DefaultConfigName = "parley"
	DefaultEnvPrefix  = "parley"
)

//CLIConfig contains the configuration of every command
type CLIConfig struct {
	Parley config.Config `mapstructure:",squash"`

	// EnvFile is loaded into the environment before the configuration is
	// read.
	EnvFile string `mapstructure:"env-file"`

	// Listen is the address of the signal and relay servers.
	Listen string `mapstructure:"listen"`

	// CertFile and KeyFile are the TLS key pair of the WAMP signaling server.
	CertFile string `mapstructure:"cert"`
	KeyFile  string `mapstructure:"key"`

	// Redis, when set, is the address of the redis server holding the
	// presence of the relay.
	Redis         string `mapstructure:"redis"`
	RedisPassword string `mapstructure:"redis-password"`
	RedisDB       int    `mapstructure:"redis-db"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Parley:  *config.NewDefaultConfig(),
		EnvFile: DefaultEnvFile,
		Listen:  config.DefaultSignalAddr,
		RedisDB: DefaultRedisDB,
	}
}

// Bind all flags and read the config into viper. Values are read, by order of
// precedence, from the flags, the PARLEY_ environment variables, and the
// parley.toml file in the datadir.
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// PARLEY_SIGNAL_ADDR sets signal-addr
	viper.SetEnvPrefix(DefaultEnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// first unmarshal to read from CLI flags and environment
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/parley.toml (.json, .yaml also work)
	viper.SetConfigName(DefaultConfigName)
	viper.AddConfigPath(_config.Parley.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Parley.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Parley.Logger().Debugf("No config file found in: %s", _config.Parley.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
