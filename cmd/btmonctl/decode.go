package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/btmon/internal/protocol"
	"github.com/danmuck/btmon/internal/protocol/frame"
	"github.com/spf13/cobra"
)

func decodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [file]",
		Short: "Print the packets of a monitor stream (stdin when no file is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			_, err := decodeStream(in, cmd.OutOrStdout())
			return err
		},
	}
}

// decodeStream prints one line per frame until r is exhausted and returns the
// number of frames read. A stream cut mid-frame is an error.
func decodeStream(r io.Reader, w io.Writer) (int, error) {
	count := 0
	for {
		f, err := frame.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("frame %d: %w", count, err)
		}
		count++
		fmt.Fprintf(w, "%s %-12s len=%-4d %s\n", formatTS32(f.Header.TS32), f.Header.Opcode, len(f.Payload), describe(f))
	}
}

func formatTS32(ts uint32) string {
	return fmt.Sprintf("%d.%04d", ts/10000, ts%10000)
}

func describe(f frame.Frame) string {
	switch f.Header.Opcode {
	case protocol.OpNewIndex:
		rec, err := protocol.DecodeNewIndex(f.Payload)
		if err != nil {
			return "malformed: " + err.Error()
		}
		return fmt.Sprintf("bus=%s addr=%s name=%q", rec.Bus, protocol.FormatAddr(rec.Addr), rec.Name)
	case protocol.OpUserLogging:
		rec, err := protocol.DecodeUserLogging(f.Payload)
		if err != nil {
			return "malformed: " + err.Error()
		}
		return fmt.Sprintf("priority=%d ident=%s %q", rec.Priority, rec.Ident, rec.Message)
	case protocol.OpSystemNote:
		note, err := protocol.DecodeSystemNote(f.Payload)
		if err != nil {
			return "malformed: " + err.Error()
		}
		return fmt.Sprintf("%q", note)
	default:
		return hex.EncodeToString(f.Payload)
	}
}
