package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/common"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/uds"
)

var udsCmd = &cobra.Command{
	Use:   "uds",
	Short: "UDS operations",
}

func init() {
	udsCmd.AddCommand(udsReadDIDCmd, udsSessionCmd, udsDTCCmd, udsResetCmd)
}

func withUDS(fn func(ctx context.Context, client *uds.Client) error) error {
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

	client := uds.New(ex, profile.UDSConfig())
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return fn(ctx, client)
}

var udsReadDIDCmd = &cobra.Command{
	Use:   "read-did <did>...",
	Short: "Read data identifiers",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dids := make([]uint16, 0, len(args))
		for _, arg := range args {
			v, err := strconv.ParseUint(arg, 0, 16)
			if err != nil {
				return fmt.Errorf("bad DID %q: %w", arg, err)
			}
			dids = append(dids, uint16(v))
		}
		return withUDS(func(ctx context.Context, client *uds.Client) error {
			values, err := client.ReadMultipleDataByIdentifier(ctx, dids)
			if err != nil {
				return err
			}
			for did, data := range values {
				fmt.Printf("0x%04X: %s\n", did, common.BytesToHex(data))
			}
			return nil
		})
	},
}

var udsSessionCmd = &cobra.Command{
	Use:   "session <default|programming|extended>",
	Short: "Switch the diagnostic session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var session uds.Session
		switch args[0] {
		case "default":
			session = uds.SessionDefault
		case "programming":
			session = uds.SessionProgramming
		case "extended":
			session = uds.SessionExtendedDiagnostic
		default:
			return fmt.Errorf("unknown session %q", args[0])
		}
		return withUDS(func(ctx context.Context, client *uds.Client) error {
			if err := client.DiagnosticSessionControl(ctx, session); err != nil {
				return err
			}
			fmt.Printf("session: %s\n", client.Session())
			return nil
		})
	},
}

var udsDTCCmd = &cobra.Command{
	Use:   "dtc",
	Short: "Read DTCs via service 0x19",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUDS(func(ctx context.Context, client *uds.Client) error {
			codes, err := client.ReadDTCInformation(ctx, uds.REPORT_DTC_BY_STATUS_MASK, 0xFF)
			if err != nil {
				return err
			}
			for _, d := range codes {
				fmt.Printf("%s  %s\n", d, d.StatusString())
			}
			if len(codes) == 0 {
				fmt.Println("no trouble codes")
			}
			return nil
		})
	},
}

var udsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Perform a hard ECU reset",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUDS(func(ctx context.Context, client *uds.Client) error {
			return client.ECUReset(ctx, uds.RESET_HARD)
		})
	},
}
