package config

import (
	"flag"
	"strings"
	"time"
)

// Flags holds command-line overrides. Only flags the user actually set are
// applied, so the file and environment keep precedence over flag defaults.
type Flags struct {
	fs *flag.FlagSet

	ConfigFile string
	EnvFile    string

	port         string
	baudRate     int
	destination  int
	timeout      time.Duration
	camera       string
	cascade      string
	step         int
	priority     string
	dispatchMode string
	pause        time.Duration
	tracking     bool
	active       bool
	listen       string
	authSecret   string
	previewURL   string
	iceServers   string
	valkeyAddr   string
	valkeyPrefix string
	logLevel     string
	logFile      string
}

// BindFlags registers the tracker flags on fs, using Default for the help
// text.
func BindFlags(fs *flag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}

	fs.StringVar(&f.ConfigFile, "config", "", "YAML configuration file")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "dotenv file with PANTILT_* overrides")

	fs.StringVar(&f.port, "port", d.Link.Port, "Serial port of the XBee radio")
	fs.IntVar(&f.baudRate, "baud", d.Link.BaudRate, "Serial baud rate")
	fs.IntVar(&f.destination, "dest", d.Link.Destination, "16-bit address of the pan/tilt radio")
	fs.DurationVar(&f.timeout, "timeout", d.Link.Timeout, "Per-command transmit timeout")

	fs.StringVar(&f.camera, "camera", d.Tracking.Camera, "Camera device index or stream URL")
	fs.StringVar(&f.cascade, "cascade", d.Tracking.Cascade, "Cascade classifier XML")
	fs.IntVar(&f.step, "step", d.Tracking.Step, "Tracking step per correction (1-45)")
	fs.StringVar(&f.priority, "priority", d.Tracking.Priority, "Axis corrected first when both are off: pan or tilt")
	fs.StringVar(&f.dispatchMode, "dispatch", d.Tracking.DispatchMode, "Tracking dispatch: supersede or skip-busy")
	fs.DurationVar(&f.pause, "pause", d.Tracking.Pause, "Pause between frame reads")
	fs.BoolVar(&f.tracking, "tracking", d.Tracking.Enabled, "Run the camera frame loop")
	fs.BoolVar(&f.active, "active", d.Tracking.Active, "Start with tracking actuation on")

	fs.StringVar(&f.listen, "listen", d.Server.Listen, "HTTP listen address")
	fs.StringVar(&f.authSecret, "auth-secret", "", "HS256 secret required on console connections")
	fs.StringVar(&f.previewURL, "rtsp", "", "RTSP URL relayed to the console as live preview")
	fs.StringVar(&f.iceServers, "ice", "", "Comma separated STUN/TURN URLs")

	fs.StringVar(&f.valkeyAddr, "valkey", "", "Valkey address for the remote command bus")
	fs.StringVar(&f.valkeyPrefix, "valkey-prefix", d.Remote.Prefix, "Channel prefix on the command bus")

	fs.StringVar(&f.logLevel, "log-level", d.Log.Level, "Log level (trace..panic, off)")
	fs.StringVar(&f.logFile, "log-file", "", "Also log to this rotated file")

	return f
}

// Apply copies every explicitly set flag into cfg.
func (f *Flags) Apply(cfg *Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Link.Port = f.port
		case "baud":
			cfg.Link.BaudRate = f.baudRate
		case "dest":
			cfg.Link.Destination = f.destination
		case "timeout":
			cfg.Link.Timeout = f.timeout
		case "camera":
			cfg.Tracking.Camera = f.camera
		case "cascade":
			cfg.Tracking.Cascade = f.cascade
		case "step":
			cfg.Tracking.Step = f.step
		case "priority":
			cfg.Tracking.Priority = f.priority
		case "dispatch":
			cfg.Tracking.DispatchMode = f.dispatchMode
		case "pause":
			cfg.Tracking.Pause = f.pause
		case "tracking":
			cfg.Tracking.Enabled = f.tracking
		case "active":
			cfg.Tracking.Active = f.active
		case "listen":
			cfg.Server.Listen = f.listen
		case "auth-secret":
			cfg.Server.AuthSecret = f.authSecret
		case "rtsp":
			cfg.Server.PreviewURL = f.previewURL
		case "ice":
			cfg.Server.ICEServers = splitList(f.iceServers)
		case "valkey":
			cfg.Remote.Address = f.valkeyAddr
		case "valkey-prefix":
			cfg.Remote.Prefix = f.valkeyPrefix
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "log-file":
			cfg.Log.File = f.logFile
		}
	})
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
