// Command test-scan lists nearby BLE devices and marks the ones advertising
// the scoreboard service.
//
// Usage:
//
//	go run ./cmd/test-scan [--timeout 10s] [--all]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/s3-scoreboard/internal/ble"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "scan duration")
	all := flag.Bool("all", false, "also list devices without the scoreboard service")
	adapterID := flag.String("adapter", "", "HCI adapter id on Linux (default hci0)")
	flag.Parse()

	fmt.Printf("Scanning for %s...\n", *timeout)

	adapter := ble.NewTinyGoAdapter(*adapterID)
	devices, err := ble.ScanForDevices(adapter, ble.ScanFilter{
		ServiceUUID:   ble.ServiceUUID,
		IncludeOthers: *all,
	}, *timeout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		mark := " "
		if d.HasService {
			mark = "*"
		}
		fmt.Printf("%s %s  %-24s  %d dBm\n", mark, d.MAC, name, d.RSSI)
	}
	fmt.Printf("\n%d device(s), * = scoreboard service\n", len(devices))
}
