package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gobuffalo/packr/v2"
	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/the-lightning-land/wifid/api"
	"github.com/the-lightning-land/wifid/connectivity"
	"github.com/the-lightning-land/wifid/netif"
	"github.com/the-lightning-land/wifid/network"
	"github.com/the-lightning-land/wifid/provisioner"

	// Blank import to set up profiling HTTP handlers.
	_ "net/http/pprof"
)

var (
	// commit stores the current commit hash of this build. This should be set using -ldflags during compilation.
	Commit string
	// version stores the version string of this build. This should be set using -ldflags during compilation.
	Version string
	// date stores the date of this build. This should be set using -ldflags during compilation.
	Date string
)

// wifidMain is the true entry point for wifid. This is required since defers
// created in the top-level scope of a main method aren't executed if os.Exit() is called.
func wifidMain() error {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	// Load CLI configuration and defaults
	cfg, err := loadConfig(os.Args[1:])
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil
	} else if err != nil {
		return errors.Errorf("Failed parsing arguments: %v", err)
	}

	// Set logger into debug mode if called with --debug
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		log.Info("Setting debug mode.")
	}

	log.Debug("Loaded config.")

	// Print version of the daemon
	log.Infof("Version %s (commit %s)", Version, Commit)
	log.Infof("Built on %s", Date)

	// Stop here if only version was requested
	if cfg.ShowVersion {
		return nil
	}

	if cfg.Profiling.Listen != "" {
		go func() {
			log.Infof("Starting profiling server on %v", cfg.Profiling.Listen)
			// Redirect the root path
			http.Handle("/", http.RedirectHandler("/debug/pprof", http.StatusSeeOther))
			// All other handlers are registered on DefaultServeMux through the import of pprof
			err := http.ListenAndServe(cfg.Profiling.Listen, nil)
			if err != nil {
				log.Errorf("Could not run profiler: %v", err)
			}
		}()
	}

	// The radio driver and the addressing of the access point interface
	var driver network.Driver
	var addresser network.Addresser

	switch cfg.Driver {
	case "wpa":
		wpaDriver := network.NewWpaDriver(&network.WpaConfig{
			Interface: cfg.Interface,
			Logger:    log.New().WithField("system", "wpa"),
		})

		defer func() {
			err := wpaDriver.Close()
			if err != nil {
				log.Errorf("Could not properly close wpa_supplicant connection: %v", err)
			} else {
				log.Info("Closed wpa_supplicant connection.")
			}
		}()

		driver = wpaDriver
		addresser = netif.New(&netif.Config{
			Interface: cfg.Interface,
			Dnsmasq:   cfg.AP.Dnsmasq,
			Logger:    log.New().WithField("system", "netif"),
		})

		log.Infof("Created wpa_supplicant driver on %v.", cfg.Interface)
	case "mock":
		mockDriver := network.NewMockDriver()
		mockDriver.AutoConnect = true

		driver = mockDriver
		addresser = network.NewMockAddresser()

		log.Info("Created a mock driver.")
	default:
		return errors.Errorf("Unknown driver type %v", cfg.Driver)
	}

	manager, err := network.NewManager(&network.ManagerConfig{
		Driver:       driver,
		Addresser:    addresser,
		AccessPoint:  cfg.accessPoint(),
		Subnet:       cfg.AP.subnet,
		MaxRetries:   cfg.Station.MaxRetries,
		RetryDelay:   cfg.Station.RetryDelay,
		ScanCapacity: cfg.Scan.Capacity,
		ScanTimeout:  cfg.Scan.Timeout,
		Logger:       log.New().WithField("system", "network"),
	})
	if err != nil {
		return errors.Errorf("Could not create network manager: %v", err)
	}

	log.Info("Created network manager.")

	box := packr.New("web", "./web")

	page, err := box.Find("index.html")
	if err != nil {
		return errors.Errorf("Could not load provisioning page: %v", err)
	}

	api := api.New(&api.Config{
		Log: log.New().WithField("system", "api"),
	})

	log.Infof("Created API")

	reporter := connectivity.NewReporter()

	// central controller for everything the device does to get online
	provisioner := provisioner.NewProvisioner(&provisioner.Config{
		Network:      manager,
		Listen:       cfg.Realtime.Listen,
		Page:         page,
		Api:          api,
		Reporter:     reporter,
		ApOnStartup:  cfg.AP.Startup,
		StationSsid:  cfg.Station.Ssid,
		StationPsk:   cfg.Station.Psk,
		MaxFrameSize: cfg.Realtime.MaxFrameSize,
		PingInterval: cfg.Realtime.PingInterval,
		PongTimeout:  cfg.Realtime.PongTimeout,
		Logger:       log.New().WithField("system", "provisioner"),
	})

	log.Infof("Created provisioner.")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchConnectivity(ctx, reporter)

	// Handle interrupt signals correctly
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		sig := <-signals
		log.Info(sig)
		log.Info("Received an interrupt, stopping provisioner...")
		provisioner.Shutdown()
	}()

	// blocks until the provisioner is shut down
	err = provisioner.Run()
	if err != nil {
		return errors.Errorf("Failed running provisioner: %v", err)
	}

	// finish with no error
	return nil
}

// watchConnectivity logs whenever the device goes on- or offline.
func watchConnectivity(ctx context.Context, reporter connectivity.Reporter) {
	state := reporter.CurrentState()

	for reporter.WaitForStateChange(ctx, state) {
		state = reporter.CurrentState()
		log.Infof("Device is %v.", state)
	}
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := wifidMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			log.WithError(err).Println("Failed running wifid.")
		}
		os.Exit(1)
	}
}
