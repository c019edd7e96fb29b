package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/driftwood/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "driftwood",
		Short:         "Resilient content client for inconsistent news backends",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)

	rootCmd.AddCommand(
		newGetCommand(),
		newLikeCommand(),
		newUnlikeCommand(),
		newViewCommand(),
		newCommentCommand(),
		newEditCommand(),
		newDiscardEditCommand(),
		newLoginCommand(),
		newLogoutCommand(),
		newSessionCommand(),
		newDevServerCommand(),
	)
	return rootCmd
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("base-url", defaults.GetString("backend.base_url"), "Backend base URL")
	cmd.PersistentFlags().String("store-driver", defaults.GetString("store.driver"), "Cache store driver (memory, sqlite, file)")
	cmd.PersistentFlags().String("store-path", defaults.GetString("store.path"), "Cache store path")
	cmd.PersistentFlags().Bool("allow-unlike", defaults.GetBool("interactions.allow_unlike"), "Let a second like withdraw the first")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	cmd.PersistentFlags().String("devserver-address", defaults.GetString("devserver.address"), "Dev backend listen address")

	bindFlag(cmd, "backend.base_url", "base-url")
	bindFlag(cmd, "store.driver", "store-driver")
	bindFlag(cmd, "store.path", "store-path")
	bindFlag(cmd, "interactions.allow_unlike", "allow-unlike")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "devserver.address", "devserver-address")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("driftwood")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
