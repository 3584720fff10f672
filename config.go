package main

import (
	"net/netip"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/the-lightning-land/wifid/network"
	"github.com/the-lightning-land/wifid/realtime"
)

type apConfig struct {
	Ssid       string `long:"ssid" description:"Name of the provisioning access point" default:"wifid"`
	Password   string `long:"password" description:"Password of the provisioning access point" default:"12345678"`
	Channel    int    `long:"channel" description:"Channel the access point runs on" default:"5"`
	MaxClients int    `long:"maxclients" description:"Maximum number of devices joining the access point" default:"5"`
	Auth       string `long:"auth" description:"Authentication of the access point" default:"wpa2-psk"`
	Subnet     string `long:"subnet" description:"IPv4 subnet served to joining devices" default:"192.168.100.0/24"`
	Startup    bool   `long:"startup" description:"Enter access point mode on startup"`
	Dnsmasq    string `long:"dnsmasq" description:"Path of the dnsmasq binary serving DHCP" default:"dnsmasq"`

	auth   network.AuthMode
	subnet netip.Prefix
}

type stationConfig struct {
	Ssid       string        `long:"ssid" description:"Network to join on startup"`
	Psk        string        `long:"psk" description:"Password of the network to join on startup"`
	MaxRetries int           `long:"maxretries" description:"Reconnect attempts after a disconnect" default:"5"`
	RetryDelay time.Duration `long:"retrydelay" description:"Delay between reconnect attempts" default:"0s"`
}

type scanConfig struct {
	Capacity int           `long:"capacity" description:"Maximum number of reported networks" default:"20"`
	Timeout  time.Duration `long:"timeout" description:"Maximum duration of a scan" default:"10s"`
}

type realtimeConfig struct {
	Listen       string        `long:"listen" description:"Address the page, websocket and api are served on" default:":80"`
	MaxFrameSize int64         `long:"maxframesize" description:"Maximum size of inbound websocket frames" default:"4096"`
	PingInterval time.Duration `long:"pinginterval" description:"Interval of websocket pings" default:"54s"`
	PongTimeout  time.Duration `long:"pongtimeout" description:"Time a peer has to answer a ping" default:"60s"`
}

type profilingConfig struct {
	Listen string `long:"listen" description:"Address of the profiling server, disabled if empty"`
}

type config struct {
	ConfigFile  string `long:"configfile" description:"Path to an ini configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	Debug       bool   `long:"debug" description:"Start in debug mode"`
	Driver      string `long:"driver" description:"Radio driver" choice:"wpa" choice:"mock" default:"wpa"`
	Interface   string `long:"interface" description:"Wireless interface" default:"wlan0"`

	AP        apConfig        `group:"ap" namespace:"ap"`
	Station   stationConfig   `group:"station" namespace:"station"`
	Scan      scanConfig      `group:"scan" namespace:"scan"`
	Realtime  realtimeConfig  `group:"realtime" namespace:"realtime"`
	Profiling profilingConfig `group:"profiling" namespace:"profiling"`
}

// loadConfig reads the command line, then the config file it names if any,
// and the command line again so that flags override the file.
func loadConfig(args []string) (*config, error) {
	preCfg := config{}

	_, err := flags.NewParser(&preCfg, flags.Default).ParseArgs(args)
	if err != nil {
		return nil, err
	}

	if preCfg.ShowVersion || preCfg.ConfigFile == "" {
		return &preCfg, preCfg.validate()
	}

	cfg := config{}
	parser := flags.NewParser(&cfg, flags.Default)

	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); ok {
			return nil, errors.Errorf("config file %v not found", preCfg.ConfigFile)
		}
		return nil, err
	}

	_, err = parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}

	return &cfg, cfg.validate()
}

func (c *config) validate() error {
	if c.AP.Channel < 1 || c.AP.Channel > 14 {
		return errors.Errorf("access point channel %v is not within 1 and 14", c.AP.Channel)
	}

	if c.AP.MaxClients < 1 || c.AP.MaxClients > 10 {
		return errors.Errorf("access point clients %v are not within 1 and 10", c.AP.MaxClients)
	}

	auth, err := network.ParseAuthMode(c.AP.Auth)
	if err != nil {
		return err
	}

	switch auth {
	case network.AuthOpen:
	case network.AuthWPAPSK, network.AuthWPA2PSK, network.AuthWPAWPA2PSK:
		if len(c.AP.Password) < 8 || len(c.AP.Password) > 63 {
			return errors.New("access point password must have 8 to 63 characters")
		}
	default:
		return errors.Errorf("access point auth %v is not supported", auth)
	}

	c.AP.auth = auth

	subnet, err := netip.ParsePrefix(c.AP.Subnet)
	if err != nil {
		return errors.Errorf("invalid access point subnet: %v", err)
	}

	_, err = network.IPInfoFromPrefix(subnet)
	if err != nil {
		return err
	}

	c.AP.subnet = subnet

	if c.Station.MaxRetries < 0 {
		return errors.New("station retries must not be negative")
	}

	if c.Station.RetryDelay < 0 {
		return errors.New("station retry delay must not be negative")
	}

	if c.Scan.Capacity <= 0 {
		return errors.New("scan capacity must be positive")
	}

	if c.Scan.Timeout <= 0 {
		return errors.New("scan timeout must be positive")
	}

	if c.Realtime.MaxFrameSize <= 0 {
		c.Realtime.MaxFrameSize = realtime.DefaultMaxFrameSize
	}

	if c.Realtime.Listen == "" {
		return errors.New("realtime listen address is required")
	}

	return nil
}

func (c *config) accessPoint() network.AccessPointConfig {
	return network.AccessPointConfig{
		SSID:          c.AP.Ssid,
		Password:      c.AP.Password,
		Channel:       c.AP.Channel,
		MaxConnection: c.AP.MaxClients,
		Auth:          c.AP.auth,
	}
}
