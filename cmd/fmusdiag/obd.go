package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/ebus"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/obd"
)

var obdCmd = &cobra.Command{
	Use:   "obd",
	Short: "OBD-II operations",
}

func init() {
	obdCmd.AddCommand(obdReadCmd, obdMonitorCmd, obdDTCCmd, obdVINCmd, obdPIDsCmd)
	obdMonitorCmd.Flags().DurationVar(&flagMonitorInterval, "interval", time.Second, "polling interval")
}

var flagMonitorInterval time.Duration

func withOBD(fn func(ctx context.Context, client *obd.Client) error) error {
	profile, err := loadProfile()
	if err != nil {
		return err
	}
	proto, err := connect(profile)
	if err != nil {
		return err
	}
	defer proto.Shutdown()

	ex := can.NewExchanger(proto)
	defer ex.Close()

	client := obd.New(ex, profile.OBDConfig())
	defer client.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return fn(ctx, client)
}

func parsePIDs(args []string) ([]byte, error) {
	pids := make([]byte, 0, len(args))
	for _, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("bad PID %q: %w", arg, err)
		}
		pids = append(pids, byte(v))
	}
	return pids, nil
}

var obdReadCmd = &cobra.Command{
	Use:   "read <pid>...",
	Short: "Read and decode mode 01 PIDs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pids, err := parsePIDs(args)
		if err != nil {
			return err
		}
		return withOBD(func(ctx context.Context, client *obd.Client) error {
			params, err := client.ReadParameters(ctx, pids)
			if err != nil {
				return err
			}
			for _, p := range params {
				fmt.Printf("%-28s %8.2f %s\n", p.Name, p.Value, p.Unit)
			}
			return nil
		})
	},
}

var obdMonitorCmd = &cobra.Command{
	Use:   "monitor <pid>...",
	Short: "Poll PIDs continuously until interrupted",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pids, err := parsePIDs(args)
		if err != nil {
			return err
		}
		return withOBD(func(ctx context.Context, client *obd.Client) error {
			bus := ebus.New()
			defer bus.Close()
			err := client.StartMonitoring(pids, flagMonitorInterval, func(params []obd.Parameter) {
				for _, p := range params {
					fmt.Printf("%s  %-28s %8.2f %s\n", time.Now().Format("15:04:05"), p.Name, p.Value, p.Unit)
				}
			}, bus)
			if err != nil {
				return err
			}
			<-ctx.Done()
			client.StopMonitoring()
			return nil
		})
	},
}

var obdDTCCmd = &cobra.Command{
	Use:   "dtc [clear]",
	Short: "Read (or clear) diagnostic trouble codes",
	RunE: func(cmd *cobra.Command, args []string) error {
		clear := len(args) > 0 && args[0] == "clear"
		return withOBD(func(ctx context.Context, client *obd.Client) error {
			if clear {
				if err := client.ClearDTCs(ctx); err != nil {
					return err
				}
				fmt.Println("codes cleared")
				return nil
			}
			stored, err := client.ReadStoredDTCs(ctx)
			if err != nil {
				return err
			}
			pending, err := client.ReadPendingDTCs(ctx)
			if err != nil {
				return err
			}
			for _, d := range stored {
				fmt.Printf("%s  stored\n", d)
			}
			for _, d := range pending {
				fmt.Printf("%s  pending\n", d)
			}
			if len(stored)+len(pending) == 0 {
				fmt.Println("no trouble codes")
			}
			return nil
		})
	},
}

var obdVINCmd = &cobra.Command{
	Use:   "vin",
	Short: "Read the vehicle identification number",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOBD(func(ctx context.Context, client *obd.Client) error {
			vin, err := client.VIN(ctx)
			if err != nil {
				return err
			}
			fmt.Println(vin)
			return nil
		})
	},
}

var obdPIDsCmd = &cobra.Command{
	Use:   "pids",
	Short: "List the PIDs the vehicle reports as supported",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOBD(func(ctx context.Context, client *obd.Client) error {
			pids, err := client.SupportedPIDs(ctx)
			if err != nil {
				return err
			}
			for _, pid := range pids {
				fmt.Printf("0x%02X  %s\n", pid, obd.PIDDescription(pid))
			}
			return nil
		})
	},
}
