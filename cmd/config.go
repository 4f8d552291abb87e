// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phloton/boardup/pkg/config"
)

var saveGlobal bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or save the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the resolved configuration (including flags) to disk",
	Long: `Write the resolved configuration to .boardup/config.json in the
workspace, or to ~/.config/boardup/config.json with --global.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Save(cfg, configDir, saveGlobal); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		if saveGlobal {
			dir, _ := config.GlobalDir()
			fmt.Printf("Saved %s/config.json\n", dir)
		} else {
			fmt.Printf("Saved %s/%s/config.json\n", configDir, config.DirName)
		}
		return nil
	},
}

func init() {
	configSaveCmd.Flags().BoolVar(&saveGlobal, "global", false, "Save to the global config")
	configCmd.AddCommand(configSaveCmd)
	rootCmd.AddCommand(configCmd)
}
