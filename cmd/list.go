// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"

	"tapbeat/internal/audio"
	"tapbeat/internal/tui"

	"github.com/gen2brain/malgo"
	"github.com/spf13/cobra"
)

func newListCmd(_ *options) *cobra.Command {
	var (
		backend     string
		interactive bool
	)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available audio devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := audio.ParseBackend(backend)
			if err != nil {
				return err
			}
			if b == audio.BackendFile {
				return fmt.Errorf("backend %q has no devices", b)
			}

			if b == audio.BackendPortAudio {
				if err := audio.Initialize(); err != nil {
					return err
				}
				defer audio.Terminate()
			}

			fetch := deviceFetcher(b)
			if interactive {
				return pickDevice(cmd.OutOrStdout(), b, fetch)
			}
			if b == audio.BackendPortAudio {
				return audio.ListDevices(cmd.OutOrStdout())
			}
			devices, err := fetch()
			if err != nil {
				return err
			}
			writeDevices(cmd.OutOrStdout(), devices)
			return nil
		},
	}

	listCmd.Flags().StringVarP(&backend, "backend", "b", string(audio.BackendPortAudio),
		"Backend whose devices to list (portaudio, malgo, loopback)")
	listCmd.Flags().BoolVarP(&interactive, "interactive", "I", false,
		"Pick a device in the terminal UI")
	return listCmd
}

func deviceFetcher(b audio.Backend) tui.DeviceFetcher {
	switch b {
	case audio.BackendMalgo:
		return func() ([]audio.Device, error) { return audio.MalgoDevices(malgo.Capture) }
	case audio.BackendLoopback:
		return func() ([]audio.Device, error) { return audio.MalgoDevices(malgo.Loopback) }
	default:
		return audio.HostDevices
	}
}

func pickDevice(w io.Writer, b audio.Backend, fetch tui.DeviceFetcher) error {
	device, ok, err := tui.PickDevice(fetch)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, "No device selected.")
		return nil
	}
	fmt.Fprintf(w, "Selected [%d] %s\n\n  tapbeat --backend %s --device %d\n", device.ID, device.Name, b, device.ID)
	return nil
}

func writeDevices(w io.Writer, devices []audio.Device) {
	fmt.Fprintf(w, "\nAvailable Audio Devices\n\n")
	if len(devices) == 0 {
		fmt.Fprintln(w, "No audio devices found.")
		return
	}
	for _, device := range devices {
		fmt.Fprintf(w, "[%d] %s (%s)\n", device.ID, device.Name, device.Kind())
	}
	fmt.Fprintln(w)
}
