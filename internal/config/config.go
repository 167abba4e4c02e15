// Package config resolves runtime settings. Each setting comes from its
// environment variable when set and valid, else from its flag, else from
// the flag default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"socksmon/internal/capture"
	"socksmon/internal/flow"
	"socksmon/internal/models"
)

const (
	FlagInterface     = "interface"
	FlagMode          = "mode"
	FlagPcap          = "pcap"
	FlagListen        = "listen"
	FlagSnapLen       = "snaplen"
	FlagSessions      = "sessions"
	FlagReportWindow  = "report-window"
	FlagStatsInterval = "stats-interval"
	FlagVerbose       = "verbose"
)

// DefaultListen is the consumer API address. Its port must stay outside
// parser.ProxyPorts.
const DefaultListen = ":9797"

// Config holds the resolved settings.
type Config struct {
	Interface     string
	Mode          string
	PcapFile      string
	Listen        string
	SnapLen       int
	Sessions      int
	ReportWindow  time.Duration
	StatsInterval time.Duration
	Verbose       bool
}

// RegisterFlags adds every setting to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP(FlagInterface, "i", "", "Interface to attach to at startup")
	fs.String(FlagMode, models.ModePcap, "Attachment point: pcap (interface capture) or socket (packet socket)")
	fs.String(FlagPcap, "", "Replay a pcap file through the inspector and exit")
	fs.String(FlagListen, DefaultListen, "HTTP/WebSocket listen address for consumers. Empty disables.")
	fs.Int(FlagSnapLen, capture.DefaultSnapLen, "Capture snap length")
	fs.Int(FlagSessions, flow.DefaultCapacity, "Session table capacity")
	fs.Duration(FlagReportWindow, time.Minute, "Console report de-duplication window (0 disables)")
	fs.Duration(FlagStatsInterval, 30*time.Second, "Status report interval")
	fs.BoolP(FlagVerbose, "v", false, "Debug logging")
}

// EnvName returns the environment variable overriding a flag.
func EnvName(flag string) string {
	b := []byte("SOCKSMON_")
	for i := 0; i < len(flag); i++ {
		switch c := flag[i]; {
		case c == '-':
			b = append(b, '_')
		case c >= 'a' && c <= 'z':
			b = append(b, c-'a'+'A')
		default:
			b = append(b, c)
		}
	}
	return string(b)
}

// Loader resolves settings from an environment and a parsed flag set.
type Loader struct {
	Flags  *pflag.FlagSet
	Getenv func(string) string
	Log    logrus.FieldLogger
}

// Load resolves settings using os.Getenv.
func Load(fs *pflag.FlagSet) (Config, error) {
	l := Loader{Flags: fs, Getenv: os.Getenv, Log: logrus.StandardLogger()}
	return l.Load()
}

// Load resolves every setting and validates the result.
func (l Loader) Load() (Config, error) {
	cfg := Config{
		Interface:     l.getString(FlagInterface),
		Mode:          l.getString(FlagMode),
		PcapFile:      l.getString(FlagPcap),
		Listen:        l.getString(FlagListen),
		SnapLen:       l.getInt(FlagSnapLen),
		Sessions:      l.getInt(FlagSessions),
		ReportWindow:  l.getDuration(FlagReportWindow),
		StatsInterval: l.getDuration(FlagStatsInterval),
		Verbose:       l.getBool(FlagVerbose),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	switch c.Mode {
	case models.ModePcap, models.ModeSocket:
	default:
		return fmt.Errorf("invalid mode %q (want %s or %s)", c.Mode, models.ModePcap, models.ModeSocket)
	}
	if c.Mode == models.ModeSocket && !capture.RawSocketSupported {
		return fmt.Errorf("mode %s needs packet sockets, which this platform lacks", models.ModeSocket)
	}
	if c.SnapLen <= 0 {
		return fmt.Errorf("invalid snaplen %d", c.SnapLen)
	}
	if c.Sessions <= 0 {
		return fmt.Errorf("invalid session capacity %d", c.Sessions)
	}
	if c.ReportWindow < 0 {
		return fmt.Errorf("invalid report window %s", c.ReportWindow)
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("invalid stats interval %s", c.StatsInterval)
	}
	if c.PcapFile == "" && c.Interface == "" && c.Listen == "" {
		return errors.New("nothing to do: set an interface, a pcap file or a listen address")
	}
	return nil
}

func (l Loader) env(flag string) (string, bool) {
	if l.Getenv == nil {
		return "", false
	}
	v := l.Getenv(EnvName(flag))
	return v, v != ""
}

func (l Loader) warn(flag, value string, err error) {
	if l.Log != nil {
		l.Log.WithError(err).WithFields(logrus.Fields{
			"env_key": EnvName(flag),
			"value":   value,
		}).Warn("ignoring invalid environment value")
	}
}

func (l Loader) getString(flag string) string {
	if v, ok := l.env(flag); ok {
		return v
	}
	v, _ := l.Flags.GetString(flag)
	return v
}

func (l Loader) getInt(flag string) int {
	if v, ok := l.env(flag); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		l.warn(flag, v, err)
	}
	n, _ := l.Flags.GetInt(flag)
	return n
}

func (l Loader) getDuration(flag string) time.Duration {
	if v, ok := l.env(flag); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		l.warn(flag, v, err)
	}
	d, _ := l.Flags.GetDuration(flag)
	return d
}

func (l Loader) getBool(flag string) bool {
	if v, ok := l.env(flag); ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		l.warn(flag, v, err)
	}
	b, _ := l.Flags.GetBool(flag)
	return b
}
