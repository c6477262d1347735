package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/tabcon/internal/pipe"
	"github.com/standardbeagle/tabcon/internal/protocol"
	"github.com/standardbeagle/tabcon/internal/value"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a captured channel message",
	Long: `Decode one captured channel frame and print it as a message.

The frame is read from file, or from stdin when no file is given. By
default it is a channel frame: UTF-16LE message text ending in a NUL. With
--flat it is a legacy name/value frame; its metadata keys are shown as
Command and ID.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().Bool("flat", false, "Input is a legacy flat frame")
}

func runDecode(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read frame: %w", err)
	}

	flat, _ := cmd.Flags().GetBool("flat")
	msg, err := decodeFrame(data, flat)
	if err != nil {
		return fmt.Errorf("failed to decode frame: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), value.WriteIndent(value.ObjectValue(msg), "  "))
	return nil
}

func decodeFrame(data []byte, flat bool) (value.Object, error) {
	if !flat {
		return pipe.DecodeMessage(data)
	}
	m, err := protocol.ParseFlatMessage(data)
	if err != nil {
		return value.Object{}, err
	}
	return m.Object(), nil
}
