package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/s3-scoreboard/internal/ble"
	"github.com/chaz8081/s3-scoreboard/internal/config"
	"github.com/chaz8081/s3-scoreboard/internal/dashboard"
	"github.com/chaz8081/s3-scoreboard/internal/events"
	"github.com/chaz8081/s3-scoreboard/internal/hub"
	"github.com/chaz8081/s3-scoreboard/internal/logging"
	"github.com/chaz8081/s3-scoreboard/internal/mqtt"
	"github.com/chaz8081/s3-scoreboard/internal/scoreboard"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/scoreboard/config.yaml)")
	role := flag.String("role", "", "override the configured role: central, peripheral, or hub")
	flag.Parse()

	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring .env: %v", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *role != "" {
		cfg.Role = *role
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(logging.New(os.Stderr, cfg.LogFormat, config.ParseLogLevel(cfg.LogLevel), cfg.Role))
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapter := ble.NewTinyGoAdapter(cfg.Adapter)
	uuids := ble.UUIDs{Service: cfg.BLE.ServiceUUID, RX: cfg.BLE.RXCharUUID, TX: cfg.BLE.TXCharUUID}

	switch cfg.Role {
	case config.RoleCentral:
		err = runCentral(ctx, cfg, adapter, uuids)
	case config.RolePeripheral:
		err = runPeripheral(ctx, cfg, adapter, uuids)
	default:
		err = runHub(ctx, cfg, adapter, uuids)
	}
	if err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
	log.Println("Goodbye!")
}

func runCentral(ctx context.Context, cfg *config.Config, adapter *ble.TinyGoAdapter, uuids ble.UUIDs) error {
	state := scoreboard.NewState(cfg.Device.GameName, cfg.Device.InitialScore)
	client := ble.NewClient(adapter, uuids, state, ble.ClientOptions{
		ScanTimeout:    cfg.Device.ScanTimeout,
		RescanDelay:    cfg.Device.RescanDelay,
		ConnectTimeout: cfg.Device.ConnectTimeout,
		UpdateInterval: cfg.Device.UpdateInterval,
		StepMin:        cfg.Device.StepMin,
		StepMax:        cfg.Device.StepMax,
	})
	return client.Run(ctx)
}

func runPeripheral(ctx context.Context, cfg *config.Config, adapter *ble.TinyGoAdapter, uuids ble.UUIDs) error {
	state := scoreboard.NewState(cfg.Device.GameName, cfg.Device.InitialScore)
	server := ble.NewServer(adapter, uuids, state, ble.ServerOptions{
		LocalName:        cfg.Device.Name,
		UpdateInterval:   cfg.Device.UpdateInterval,
		ReadvertiseDelay: cfg.Device.ReadvertiseDelay,
		StepMin:          cfg.Device.StepMin,
		StepMax:          cfg.Device.StepMax,
	})
	return server.Run(ctx)
}

func runHub(ctx context.Context, cfg *config.Config, adapter *ble.TinyGoAdapter, uuids ble.UUIDs) error {
	bus := events.NewBus()
	h := hub.New(adapter, bus, uuids, hub.Options{
		ScanInterval:   cfg.Hub.ScanInterval,
		ScanTimeout:    cfg.Hub.ScanTimeout,
		ConnectTimeout: cfg.Hub.ConnectTimeout,
		MaxDevices:     cfg.Hub.MaxDevices,
		StrictFilter:   cfg.Hub.StrictServiceFilter,
		NamePatterns:   cfg.Hub.NamePatterns,
	})

	if cfg.Hub.GATTServer || cfg.Hub.Advertise {
		srv := hub.NewGATTServer(adapter, h.Registry(), uuids, hub.ServerOptions{
			Name:      cfg.Hub.AdvertisingName,
			Host:      cfg.Hub.GATTServer,
			Advertise: cfg.Hub.Advertise,
		})
		if err := srv.Start(); err != nil {
			slog.Warn("[HUB] could not start advertiser/GATT server", "error", err)
		} else {
			h.SetServer(srv)
			defer srv.Stop()
		}
	}

	web := dashboard.New(dashboard.Options{
		Backend:       h,
		Bus:           bus,
		Info:          func() hub.Info { return hub.NewInfo(cfg.Hub.AdvertisingName, uuids, adapter) },
		TestEndpoints: cfg.Hub.TestEndpoints,
		StaticDir:     cfg.Hub.StaticDir,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return web.ListenAndServe(gctx, cfg.Hub.Listen) })

	if cfg.MQTT.Enabled {
		client := mqtt.NewClient(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		defer client.Disconnect()
		bridge := mqtt.NewBridge(client, h, cfg.MQTT.TopicPrefix)

		g.Go(func() error {
			// Connect blocks until the first session; paho retries meanwhile.
			if err := client.Connect(gctx); err != nil && gctx.Err() == nil {
				slog.Warn("[MQTT] connect failed", "broker", cfg.MQTT.Broker, "error", err)
			}
			return nil
		})
		// Subscriptions are replayed on connect; publishes fail until then.
		g.Go(func() error { return bridge.Run(gctx, bus) })
	}

	return g.Wait()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or writes and uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	if written, err := config.WriteDefault(); err != nil {
		log.Printf("Could not write default config: %v", err)
	} else if written != "" {
		log.Printf("Wrote default config to %s", written)
	}

	log.Println("No config file found, using defaults")
	cfg := config.Default()
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== scoreboard ===")
	fmt.Printf("  Role:     %s\n", cfg.Role)
	fmt.Printf("  Service:  %s\n", cfg.BLE.ServiceUUID)
	switch cfg.Role {
	case config.RoleHub:
		fmt.Printf("  Listen:   %s\n", cfg.Hub.Listen)
		fmt.Printf("  Scan:     every %s (strict: %t, max %d)\n", cfg.Hub.ScanInterval, cfg.Hub.StrictServiceFilter, cfg.Hub.MaxDevices)
		fmt.Printf("  Advert:   %t (GATT server: %t)\n", cfg.Hub.Advertise, cfg.Hub.GATTServer)
		fmt.Printf("  MQTT:     %t\n", cfg.MQTT.Enabled)
	default:
		fmt.Printf("  Game:     %s\n", cfg.Device.GameName)
		fmt.Printf("  Tick:     %s\n", cfg.Device.UpdateInterval)
	}
	fmt.Printf("  Log:      %s (%s)\n", cfg.LogLevel, cfg.LogFormat)
	fmt.Println("==================")
}
