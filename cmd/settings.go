package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence-gate/internal/attendance"
	"github.com/kozaktomas/presence-gate/internal/config"
	"github.com/kozaktomas/presence-gate/internal/database"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change runtime settings",
	Long: `Show or change the settings stored in PostgreSQL.

Stored settings override the environment and are read by every running gate:
  minimum_duration_minutes  minutes needed for PRESENT (applies to sessions closed afterwards)
  active_category           category used when a flow or request names none`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)

	settingsSetCmd.Flags().Int("minimum-minutes", -1, "Minimum duration in minutes for PRESENT")
	settingsSetCmd.Flags().String("category", "", "Active attendance category")
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stored, err := st.settings.ListSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	minutes, minutesSource := strconv.Itoa(cfg.Attendance.MinimumMinutes), "environment"
	if cfg.Attendance.MinimumMinutes < 0 {
		minutes, minutesSource = "unset", "environment"
	}
	if v, ok := stored[database.SettingMinimumMinutes]; ok {
		minutes, minutesSource = v, "database"
	}
	category, categorySource := cfg.Categories.Default, "environment"
	if v, ok := stored[database.SettingActiveCategory]; ok {
		category, categorySource = v, "database"
	}

	fmt.Println(renderTable(
		[]string{"Setting", "Value", "Source"},
		[][]string{
			{database.SettingMinimumMinutes, minutes, minutesSource},
			{database.SettingActiveCategory, category, categorySource},
		},
		nil,
	))
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	minutes := mustGetInt(cmd, "minimum-minutes")
	category := mustGetString(cmd, "category")
	changeMinutes := cmd.Flags().Changed("minimum-minutes")
	if !changeMinutes && category == "" {
		return errors.New("nothing to update, pass --minimum-minutes or --category")
	}

	cfg := config.Load()
	if changeMinutes {
		if _, err := attendance.NewPolicy(minutes); err != nil {
			return err
		}
	}
	if category != "" && !cfg.Categories.Contains(category) {
		return fmt.Errorf("unknown category %q (known: %v)", category, cfg.Categories.Categories)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if changeMinutes {
		if err := st.settings.SetSetting(ctx, database.SettingMinimumMinutes, strconv.Itoa(minutes)); err != nil {
			return fmt.Errorf("failed to store minimum duration: %w", err)
		}
		fmt.Printf("Minimum duration set to %d minutes\n", minutes)
	}
	if category != "" {
		if err := st.settings.SetSetting(ctx, database.SettingActiveCategory, category); err != nil {
			return fmt.Errorf("failed to store active category: %w", err)
		}
		fmt.Printf("Active category set to %s\n", category)
	}
	return nil
}
