// Package config loads the btmonctl TOML file onto built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/btmon/internal/logging"
	"github.com/danmuck/btmon/internal/protocol"
	"github.com/danmuck/btmon/internal/protocol/frame"
	"github.com/danmuck/btmon/internal/transport/rtt"
	"github.com/danmuck/btmon/internal/transport/serial"
	"github.com/rs/zerolog"
)

const (
	TransportSerial = serial.Name
	TransportRTT    = rtt.Name

	DefaultBaud       = 1000000
	DefaultStatusAddr = "127.0.0.1:9480"
	DefaultIndexName  = "btmon"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	LogLevel  zerolog.Level
	Transport string
	Monitor   MonitorConfig
	Serial    SerialConfig
	RTT       RTTConfig
	Status    StatusConfig
	Index     IndexConfig
}

type MonitorConfig struct {
	Ident    string
	LineSize int
}

// SerialConfig describes the line the serial pump drains into. An empty
// Device means stdout.
type SerialConfig struct {
	Device   string
	Baud     int
	RingSize int
}

// RTTConfig describes the in-process trace channel. Output is where the host
// side of the up-buffer is copied; empty means stdout.
type RTTConfig struct {
	Channel      string
	Size         int
	Buffered     bool
	PacketBuffer int
	Mode         rtt.Mode
	Output       string
}

type StatusConfig struct {
	Enabled bool
	Addr    string
}

// IndexConfig is the controller announced with a new-index packet at start.
type IndexConfig struct {
	Announce bool
	Bus      protocol.BusType
	Addr     [protocol.AddrLen]byte
	Name     string
}

func DefaultConfig() Config {
	return Config{
		LogLevel:  zerolog.InfoLevel,
		Transport: TransportSerial,
		Monitor: MonitorConfig{
			Ident:    protocol.DefaultIdent,
			LineSize: protocol.DefaultLineLen,
		},
		Serial: SerialConfig{
			Baud:     DefaultBaud,
			RingSize: serial.DefaultRingSize,
		},
		RTT: RTTConfig{
			Channel:      rtt.DefaultChannelName,
			Size:         rtt.DefaultBufferSize,
			Buffered:     true,
			PacketBuffer: rtt.DefaultPacketBufferSize,
			Mode:         rtt.ModeNoBlockSkip,
		},
		Status: StatusConfig{
			Enabled: true,
			Addr:    DefaultStatusAddr,
		},
		Index: IndexConfig{
			Announce: true,
			Bus:      protocol.BusUART,
			Name:     DefaultIndexName,
		},
	}
}

type fileConfig struct {
	LogLevel  string `toml:"log_level"`
	Transport string `toml:"transport"`
	Monitor   struct {
		Ident    string `toml:"ident"`
		LineSize int    `toml:"line_size"`
	} `toml:"monitor"`
	Serial struct {
		Device   string `toml:"device"`
		Baud     int    `toml:"baud"`
		RingSize int    `toml:"ring_size"`
	} `toml:"serial"`
	RTT struct {
		Channel      string `toml:"channel"`
		Size         int    `toml:"size"`
		Buffered     bool   `toml:"buffered"`
		PacketBuffer int    `toml:"packet_buffer"`
		Mode         string `toml:"mode"`
		Output       string `toml:"output"`
	} `toml:"rtt"`
	Status struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"status"`
	Index struct {
		Announce bool   `toml:"announce"`
		Bus      string `toml:"bus"`
		Addr     string `toml:"addr"`
		Name     string `toml:"name"`
	} `toml:"index"`
}

// Load decodes path onto DefaultConfig and validates the result. Keys absent
// from the file keep their defaults.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}
	cfg, err := apply(DefaultConfig(), meta, raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func apply(cfg Config, meta toml.MetaData, raw fileConfig) (Config, error) {
	if meta.IsDefined("log_level") {
		lvl, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return Config{}, fmt.Errorf("%w: log_level %q", ErrInvalid, raw.LogLevel)
		}
		cfg.LogLevel = lvl
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}

	if meta.IsDefined("monitor", "ident") {
		cfg.Monitor.Ident = raw.Monitor.Ident
	}
	if meta.IsDefined("monitor", "line_size") {
		cfg.Monitor.LineSize = raw.Monitor.LineSize
	}

	if meta.IsDefined("serial", "device") {
		cfg.Serial.Device = strings.TrimSpace(raw.Serial.Device)
	}
	if meta.IsDefined("serial", "baud") {
		cfg.Serial.Baud = raw.Serial.Baud
	}
	if meta.IsDefined("serial", "ring_size") {
		cfg.Serial.RingSize = raw.Serial.RingSize
	}

	if meta.IsDefined("rtt", "channel") {
		cfg.RTT.Channel = strings.TrimSpace(raw.RTT.Channel)
	}
	if meta.IsDefined("rtt", "size") {
		cfg.RTT.Size = raw.RTT.Size
	}
	if meta.IsDefined("rtt", "buffered") {
		cfg.RTT.Buffered = raw.RTT.Buffered
	}
	if meta.IsDefined("rtt", "packet_buffer") {
		cfg.RTT.PacketBuffer = raw.RTT.PacketBuffer
	}
	if meta.IsDefined("rtt", "mode") {
		mode, err := rtt.ParseMode(raw.RTT.Mode)
		if err != nil {
			return Config{}, fmt.Errorf("%w: rtt.mode: %w", ErrInvalid, err)
		}
		cfg.RTT.Mode = mode
	} else if !cfg.RTT.Buffered {
		cfg.RTT.Mode = rtt.ModeBlockIfFull
	}
	if meta.IsDefined("rtt", "output") {
		cfg.RTT.Output = strings.TrimSpace(raw.RTT.Output)
	}

	if meta.IsDefined("status", "enabled") {
		cfg.Status.Enabled = raw.Status.Enabled
	}
	if meta.IsDefined("status", "addr") {
		cfg.Status.Addr = strings.TrimSpace(raw.Status.Addr)
	}

	if meta.IsDefined("index", "announce") {
		cfg.Index.Announce = raw.Index.Announce
	}
	if meta.IsDefined("index", "bus") {
		bus, err := protocol.ParseBusType(raw.Index.Bus)
		if err != nil {
			return Config{}, fmt.Errorf("%w: index.bus: %w", ErrInvalid, err)
		}
		cfg.Index.Bus = bus
	}
	if meta.IsDefined("index", "addr") {
		addr, err := protocol.ParseAddr(raw.Index.Addr)
		if err != nil {
			return Config{}, fmt.Errorf("%w: index.addr: %w", ErrInvalid, err)
		}
		cfg.Index.Addr = addr
	}
	if meta.IsDefined("index", "name") {
		cfg.Index.Name = raw.Index.Name
	}
	return cfg, nil
}

func Validate(cfg Config) error {
	switch cfg.Transport {
	case TransportSerial, TransportRTT:
	default:
		return fmt.Errorf("%w: transport must be %q or %q, got %q", ErrInvalid, TransportSerial, TransportRTT, cfg.Transport)
	}
	if len(cfg.Monitor.Ident) > protocol.MaxIdentLen {
		return fmt.Errorf("%w: monitor.ident longer than %d bytes", ErrInvalid, protocol.MaxIdentLen)
	}
	if cfg.Monitor.LineSize < 2 {
		return fmt.Errorf("%w: monitor.line_size must be at least 2", ErrInvalid)
	}
	if cfg.Monitor.LineSize > frame.MaxPayloadLen {
		return fmt.Errorf("%w: monitor.line_size exceeds max payload %d", ErrInvalid, frame.MaxPayloadLen)
	}

	switch cfg.Transport {
	case TransportSerial:
		if n := cfg.Serial.RingSize; n < 2 || n&(n-1) != 0 {
			return fmt.Errorf("%w: serial.ring_size must be a power of two, got %d", ErrInvalid, n)
		}
		if cfg.Serial.Device != "" && cfg.Serial.Baud <= 0 {
			return fmt.Errorf("%w: serial.baud must be positive", ErrInvalid)
		}
	case TransportRTT:
		if strings.TrimSpace(cfg.RTT.Channel) == "" {
			return fmt.Errorf("%w: rtt.channel is required", ErrInvalid)
		}
		if cfg.RTT.Size <= 1 {
			return fmt.Errorf("%w: rtt.size must be greater than 1", ErrInvalid)
		}
		if cfg.RTT.Buffered && cfg.RTT.PacketBuffer < frame.HeaderLen {
			return fmt.Errorf("%w: rtt.packet_buffer smaller than a frame header", ErrInvalid)
		}
	}

	if cfg.Status.Enabled && cfg.Status.Addr == "" {
		return fmt.Errorf("%w: status.addr is required when status is enabled", ErrInvalid)
	}
	return nil
}
