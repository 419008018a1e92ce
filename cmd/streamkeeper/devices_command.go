package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"streamkeeper/internal/config"
	"streamkeeper/internal/devices"
	"streamkeeper/internal/logging"
)

func newDevicesCommand(ctx *commandContext) *cobra.Command {
	var probe bool
	var jsonOut bool
	var known bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List capture devices with their uuid and stream name without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if known {
				return printKnownIdentities(cmd, cfg.Paths.IdentityMap, jsonOut)
			}
			resolved, err := previewDevices(cmd, cfg, probe, ctx.logLevel())
			if errors.Is(err, devices.ErrNoDevicesFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "No capture devices found")
				return err
			}
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), resolved)
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(
				[]string{"Card", "Stream", "UUID", "USB ID", "Port", "Input"},
				deviceRows(resolved),
				[]columnAlignment{alignRight},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Run the capture probe (never unlocks busy devices)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print devices as JSON")
	cmd.Flags().BoolVar(&known, "known", false, "List recorded identities instead of scanning for devices")
	return cmd
}

// previewDevices discovers without persisting identities. Busy-device
// unlocking is always off here so a listing never kills a running pipeline.
func previewDevices(cmd *cobra.Command, cfg *config.Config, probe bool, logLevel string) ([]devices.ResolvedDevice, error) {
	logger, err := logging.NewFromConfig(cfg, logLevel)
	if err != nil {
		return nil, err
	}
	opts := devices.OptionsFromConfig(cfg)
	opts.Probe = probe
	if opts.Prober != nil {
		opts.Prober.UnlockBusy = false
	}
	resolver := devices.NewResolver(opts, logger)
	found, err := resolver.Discover(cmd.Context(), devices.DiscoverOptions{})
	if err != nil {
		return nil, err
	}
	return resolver.Preview(found)
}

// printKnownIdentities lists the identity map, including devices that are
// currently unplugged.
func printKnownIdentities(cmd *cobra.Command, path string, jsonOut bool) error {
	idmap, err := devices.LoadIdentityMap(path)
	if err != nil {
		return err
	}
	entries := idmap.Entries()
	if jsonOut {
		return writeJSON(cmd.OutOrStdout(), entries)
	}
	if idmap.Len() == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No recorded identities in %s\n", path)
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.FriendlyName, e.UUID})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Stream", "UUID"}, rows, nil))
	return nil
}

func deviceRows(resolved []devices.ResolvedDevice) [][]string {
	rows := make([][]string, 0, len(resolved))
	for _, r := range resolved {
		rows = append(rows, []string{
			strconv.Itoa(r.Device.Index),
			r.Identity.FriendlyName,
			r.Identity.UUID,
			r.Device.USBID(),
			r.Device.PortPath,
			r.Device.ALSARef(),
		})
	}
	return rows
}
