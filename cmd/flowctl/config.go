package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serverConfig is flowctl serve's layered configuration: defaults, overridden
// by a config file, overridden by FLOWCTL_*-prefixed environment variables,
// overridden by explicit flags -- the same precedence CliForge's config
// loader documents, built here directly on viper instead of a hand-rolled
// merge.
type serverConfig struct {
	Host        string
	Port        int
	WatchDir    string
	DispatchURL string
}

func loadServerConfig(cmd *cobra.Command) (*serverConfig, error) {
	v := viper.New()
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8787)
	v.SetDefault("watchDir", "")
	v.SetDefault("dispatchUrl", "")

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$XDG_CONFIG_HOME/flowctl")
		v.AddConfigPath("$HOME/.flowctl")
		_ = v.ReadInConfig() // optional; absence is fine
	}

	v.SetEnvPrefix("FLOWCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindFlag(v, cmd, "host")
	bindFlag(v, cmd, "port")
	bindFlag(v, cmd, "watch-dir", "watchDir")
	bindFlag(v, cmd, "dispatch-url", "dispatchUrl")

	return &serverConfig{
		Host:        v.GetString("host"),
		Port:        v.GetInt("port"),
		WatchDir:    v.GetString("watchDir"),
		DispatchURL: v.GetString("dispatchUrl"),
	}, nil
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, flagName string, key ...string) {
	k := flagName
	if len(key) > 0 {
		k = key[0]
	}
	if f := cmd.Flags().Lookup(flagName); f != nil {
		_ = v.BindPFlag(k, f)
	}
}
