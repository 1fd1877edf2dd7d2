// Command test-command is a manual test for the device command path.
// It connects to a peripheral-role device, writes one command to its data
// characteristic, and disconnects.
//
// Usage:
//
//	go run ./cmd/test-command --mac AA:BB:CC:DD:EE:FF [--command reset|set_game] [--game "Name"]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/s3-scoreboard/internal/ble"
	"github.com/chaz8081/s3-scoreboard/internal/ble/protocol"
)

func main() {
	mac := flag.String("mac", "", "device address to send to (required)")
	command := flag.String("command", protocol.CommandReset, "command: reset or set_game")
	game := flag.String("game", "", "game name for set_game")
	adapterID := flag.String("adapter", "", "HCI adapter id on Linux (default hci0)")
	timeout := flag.Duration("timeout", 15*time.Second, "connect timeout")
	flag.Parse()

	if *mac == "" {
		fmt.Fprintln(os.Stderr, "Error: --mac is required")
		flag.Usage()
		os.Exit(2)
	}
	switch *command {
	case protocol.CommandReset:
	case protocol.CommandSetGame:
		if *game == "" {
			fmt.Fprintln(os.Stderr, "Error: --game is required for set_game")
			os.Exit(2)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", *command)
		os.Exit(2)
	}

	payload, err := protocol.EncodeCommand(protocol.Command{Command: *command, GameName: *game})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sending %s to %s...\n", payload, *mac)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	adapter := ble.NewTinyGoAdapter(*adapterID)
	if err := ble.SendCommand(ctx, adapter, ble.DefaultUUIDs(), *mac, payload); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nDone!")
}
