package control

import (
	"fmt"
	"os"
	"strings"

	"scribe/internal/config"
	"scribe/internal/service"

	"github.com/spf13/cobra"
)

func newServiceInstallCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install user service (launchd on macOS, systemd elsewhere)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			envPairs, _ := cmd.Flags().GetStringArray("env")
			env := make(map[string]string)
			for _, p := range envPairs {
				parts := strings.SplitN(p, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("bad env %q, want KEY=VAL", p)
				}
				env[parts[0]] = parts[1]
			}
			kind := serviceKind(cmd)
			params := service.Params{
				Label:  service.DefaultLabel,
				Binary: exe,
				Config: cfg.Paths.ConfigPath,
				Log:    cfg.Paths.LogPath,
				Env:    env,
			}
			path, err := service.Write(kind, params)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s unit written: %s\n", kind, path)
			if kind == service.Launchd {
				fmt.Fprintln(out, "Load:   launchctl load -w", path)
				fmt.Fprintf(out, "Start:  launchctl kickstart gui/$(id -u)/%s\n", params.Label)
				fmt.Fprintf(out, "Stop:   launchctl bootout gui/$(id -u)/%s\n", params.Label)
				return nil
			}
			fmt.Fprintln(out, "Load:   systemctl --user daemon-reload")
			fmt.Fprintf(out, "Start:  systemctl --user enable --now %s\n", params.Label)
			fmt.Fprintf(out, "Stop:   systemctl --user stop %s\n", params.Label)
			return nil
		},
	}
	cmd.Flags().StringArray("env", nil, "Env to set in the unit (KEY=VAL)")
	return cmd
}

func newServiceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := serviceKind(cmd)
			path := service.Path(kind, service.DefaultLabel)
			_ = os.Remove(path)
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s (if present); stop the running %s job manually\n", path, kind)
			return nil
		},
	}
}

func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the unit path and whether it exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, ok := service.Status(serviceKind(cmd), service.DefaultLabel)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "unit: %s\n", path)
			if ok {
				fmt.Fprintln(out, "status: present")
			} else {
				fmt.Fprintln(out, "status: missing (install via: scribe service install)")
			}
			return nil
		},
	}
}

// NewServiceRootCmd groups the service helpers.
func NewServiceRootCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the user service (launchd or systemd)",
	}
	cmd.PersistentFlags().String("kind", string(service.DefaultKind()), "service manager: launchd or systemd")
	cmd.AddCommand(newServiceInstallCmd(cfgPath))
	cmd.AddCommand(newServiceUninstallCmd())
	cmd.AddCommand(newServiceStatusCmd())
	return cmd
}

func serviceKind(cmd *cobra.Command) service.Kind {
	kind, _ := cmd.Flags().GetString("kind")
	if service.Kind(kind) == service.Launchd {
		return service.Launchd
	}
	return service.Systemd
}
