package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"nmrauto/internal/config"
	"nmrauto/internal/queue"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigShowCommand(ctx))
	configCmd.AddCommand(newConfigSetCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set autosampler.port and the spectrometer address before starting the daemon.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", ctx.configPath)
			if _, err := os.Stat(ctx.configPath); os.IsNotExist(err) {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

// deviceSettings maps the editable live settings to accessors on
// queue.DeviceConfig.
var deviceSettings = map[string]struct {
	get func(queue.DeviceConfig) string
	set func(*queue.DeviceConfig, string) error
}{
	"autosampler_port": {
		get: func(d queue.DeviceConfig) string { return d.AutosamplerPort },
		set: func(d *queue.DeviceConfig, v string) error { d.AutosamplerPort = v; return nil },
	},
	"spectrometer_host": {
		get: func(d queue.DeviceConfig) string { return d.SpectrometerHost },
		set: func(d *queue.DeviceConfig, v string) error { d.SpectrometerHost = v; return nil },
	},
	"spectrometer_port": {
		get: func(d queue.DeviceConfig) string { return strconv.Itoa(d.SpectrometerPort) },
		set: func(d *queue.DeviceConfig, v string) error {
			port, err := strconv.Atoi(v)
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("spectrometer_port must be between 1 and 65535")
			}
			d.SpectrometerPort = port
			return nil
		},
	},
	"data_folder": {
		get: func(d queue.DeviceConfig) string { return d.DataFolder },
		set: func(d *queue.DeviceConfig, v string) error {
			expanded, err := config.ExpandPath(v)
			if err != nil {
				return err
			}
			d.DataFolder = expanded
			return nil
		},
	},
	"eval_tool_folder": {
		get: func(d queue.DeviceConfig) string { return d.EvalToolFolder },
		set: func(d *queue.DeviceConfig, v string) error {
			if v == "" {
				d.EvalToolFolder = ""
				return nil
			}
			expanded, err := config.ExpandPath(v)
			if err != nil {
				return err
			}
			d.EvalToolFolder = expanded
			return nil
		},
	},
}

func deviceSettingKeys() []string {
	keys := make([]string, 0, len(deviceSettings))
	for key := range deviceSettings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the live device settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *queue.Store) error {
				devices, err := store.DeviceConfig(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(deviceSettings))
				for _, key := range deviceSettingKeys() {
					rows = append(rows, []string{key, orDash(deviceSettings[key].get(devices))})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable([]column{{Header: "Setting"}, {Header: "Value"}}, rows))
				fmt.Fprintf(out, "Last changed %s\n", formatTime(devices.UpdatedAt))
				return nil
			})
		},
	}
}

func newConfigSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "set <setting> <value>",
		Short:     "Change a live device setting; the daemon applies it on its next poll",
		Args:      cobra.ExactArgs(2),
		ValidArgs: deviceSettingKeys(),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := strings.ToLower(strings.TrimSpace(args[0]))
			setting, ok := deviceSettings[key]
			if !ok {
				return fmt.Errorf("unknown setting %q (known: %s)", args[0], strings.Join(deviceSettingKeys(), ", "))
			}
			return ctx.withStore(func(store *queue.Store) error {
				devices, err := store.DeviceConfig(cmd.Context())
				if err != nil {
					return err
				}
				if err := setting.set(&devices, strings.TrimSpace(args[1])); err != nil {
					return err
				}
				if err := store.UpdateDeviceConfig(cmd.Context(), devices); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, orDash(setting.get(devices)))
				return nil
			})
		},
	}
}
