package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mexyusef/fmus-ev-diagnostics/pkg/flasher"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/flashfile"
	"github.com/mexyusef/fmus-ev-diagnostics/pkg/uds"
)

var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "ECU reprogramming",
}

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Flash image inspection",
}

func init() {
	flashCmd.AddCommand(flashProgramCmd)
	fileCmd.AddCommand(fileInfoCmd)
	flashProgramCmd.Flags().BoolVar(&flagFlashVerify, "verify", false, "verify after writing")
	flashProgramCmd.Flags().Uint8Var(&flagFlashSecurityLevel, "security-level", 0, "security access level (0 skips unlock)")
}

var (
	flagFlashVerify        bool
	flagFlashSecurityLevel uint8
)

// xorSeedToKey is the demo key derivation: every seed byte xor 0xFF.
// Real targets need their manufacturer algorithm plugged in here.
func xorSeedToKey(seed []byte, level byte) []byte {
	key := make([]byte, len(seed))
	for i, b := range seed {
		key[i] = b ^ 0xFF
	}
	return key
}

var flashProgramCmd = &cobra.Command{
	Use:   "program <image>",
	Short: "Program a flash image (.hex, .srec/.s19, .bin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := flashfile.Load(args[0])
		if err != nil {
			return err
		}
		if err := file.Validate(); err != nil {
			return err
		}
		fmt.Println(file)

		return withUDS(func(ctx context.Context, client *uds.Client) error {
			profile, err := loadProfile()
			if err != nil {
				return err
			}
			cfg := profile.FlashConfig(nil)
			cfg.VerifyAfterWrite = flagFlashVerify
			if flagFlashSecurityLevel > 0 {
				cfg.SecurityLevel = flagFlashSecurityLevel
				cfg.SeedToKey = xorSeedToKey
			}

			m := flasher.New(client, cfg)
			m.OnProgress(func(operation string, current, total int, message string) {
				if message != "" {
					fmt.Printf("[%s] %d/%d %s\n", operation, current, total, message)
				} else {
					fmt.Printf("[%s]\n", operation)
				}
			})
			if err := m.Program(ctx, file); err != nil {
				return err
			}
			fmt.Println(m.Statistics())
			return nil
		})
	},
}

var fileInfoCmd = &cobra.Command{
	Use:   "info <image>",
	Short: "Show the blocks of a flash image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := flashfile.Load(args[0])
		if err != nil {
			return err
		}
		fmt.Println(file)
		for _, b := range file.SortedBlocks() {
			n := len(b.Data)
			if n > 8 {
				n = 8
			}
			fmt.Printf("  0x%08X  %6d bytes  crc32 %08X  % X\n",
				b.Address, len(b.Data), b.Checksum, b.Data[:n])
		}
		if err := file.Validate(); err != nil {
			return err
		}
		fmt.Println("image valid")
		return nil
	},
}
