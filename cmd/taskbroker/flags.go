package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dermesser/taskbroker/config"
)

type flagBinding struct {
	name, key string
}

// Bindings are kept per command and only applied for the command that runs,
// so that flags of different commands may set the same key.
var bindings = map[*cobra.Command][]flagBinding{}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.PersistentFlags().Lookup(name)
}

func bindFlag(cmd *cobra.Command, name, key string) {
	if lookupFlag(cmd, name) == nil {
		panic(fmt.Sprintf("%s has no flag %q", cmd.Name(), name))
	}
	bindings[cmd] = append(bindings[cmd], flagBinding{name, key})
}

// bindFlags binds the flags of cmd and of its parents.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for c := cmd; c != nil; c = c.Parent() {
		for _, b := range bindings[c] {
			if err := v.BindPFlag(b.key, lookupFlag(c, b.name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfig sets cfg from the flags of cmd, the environment and the config
// file, and applies the log settings.
func loadConfig(cmd *cobra.Command) error {
	v := viper.GetViper()
	if err := bindFlags(v, cmd); err != nil {
		return err
	}
	if err := config.Init(v, v.GetString("config")); err != nil {
		return err
	}
	c, err := config.Load(v)
	if err != nil {
		return err
	}
	if err := c.Log.Apply(); err != nil {
		return err
	}
	cfg = c
	return nil
}
