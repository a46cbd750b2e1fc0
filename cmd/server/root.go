package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/and161185/fileshare/internal/config"
	"github.com/and161185/fileshare/internal/logging"
)

// app carries state shared by subcommands once PersistentPreRunE has run.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
}

func newRootCmd() *cobra.Command {
	root, _ := buildRoot()
	return root
}

func buildRoot() (*cobra.Command, *app) {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:          "fileshare-server",
		Short:        "File sharing HTTP API",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.init(true)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./fileshare.yaml if present)")
	pf.String("dsn", "", "PostgreSQL DSN")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	bindFlags(a.v, root, map[string]string{
		"db.dsn":    "dsn",
		"log.level": "log-level",
	})

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newVersionCmd())
	return root, a
}

// bindFlags maps config keys onto flags; a flag only wins when set explicitly.
func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		f := cmd.PersistentFlags().Lookup(name)
		if f == nil {
			f = cmd.Flags().Lookup(name)
		}
		if f == nil {
			panic("unknown flag " + name)
		}
		_ = v.BindPFlag(key, f)
	}
}

// init reads configuration and builds the logger. Without full validation only
// the database DSN is required.
func (a *app) init(full bool) error {
	if err := config.Read(a.v, a.cfgFile); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if full {
		cfg, err = config.Load(a.v)
	} else {
		cfg, err = config.Decode(a.v)
		if err == nil && cfg.DB.DSN == "" {
			err = errors.New("config: db.dsn is required")
		}
	}
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.cfg, a.log = cfg, log
	return nil
}
