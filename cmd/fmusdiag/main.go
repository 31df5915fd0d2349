package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/can"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/config"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/transport"
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	flagPort     string
	flagPortBaud int
	flagProfile  string
)

var rootCmd = &cobra.Command{
	Use:   "fmusdiag",
	Short: "fmusdiag talks OBD-II and UDS to vehicle ECUs over an SLCAN adapter",
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagPort, "port", "p", "", "serial port of the SLCAN adapter")
	rootCmd.PersistentFlags().IntVar(&flagPortBaud, "port-baud", 115200, "serial port baud rate")
	rootCmd.PersistentFlags().StringVarP(&flagProfile, "profile", "c", "", "profile file (.toml or .yaml)")

	rootCmd.AddCommand(obdCmd, udsCmd, flashCmd, fileCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadProfile() (*config.Profile, error) {
	if flagProfile == "" {
		return config.Default(), nil
	}
	return config.Load(flagProfile)
}

// connect opens the SLCAN transport and brings up the CAN protocol.
func connect(profile *config.Profile) (*can.Protocol, error) {
	if flagPort == "" {
		return nil, fmt.Errorf("no adapter port given, use --port")
	}
	tr, err := transport.OpenSLCAN(flagPort, flagPortBaud, profile.CAN.BaudRate)
	if err != nil {
		return nil, err
	}
	cfg := profile.CANConfig()
	cfg.OnError = func(err error) { log.Println(err) }
	proto, err := can.New(tr, cfg)
	if err != nil {
		tr.Close()
		return nil, err
	}
	return proto, nil
}
