// Package bus publishes live analysis metrics on the desktop message bus.
package bus

import (
	"math"

	"github.com/austinkregel/local-media/vizd/internal/analysis"
	"github.com/godbus/dbus/v5"
)

const (
	// BusName is the well-known name claimed on the session bus
	BusName = "org.vizd.Analyzer"
	// Interface carries the metric properties and the control methods
	Interface = "org.vizd.Analyzer"
	// ObjectPath is where the analyzer object lives
	ObjectPath = dbus.ObjectPath("/org/vizd/Analyzer")
)

// Command represents a control request arriving over the bus
type Command int

const (
	CmdReset Command = iota
	CmdExport
)

// String returns the command name
func (c Command) String() string {
	switch c {
	case CmdReset:
		return "Reset"
	case CmdExport:
		return "Export"
	default:
		return "Unknown"
	}
}

// CommandHandler handles bus commands. The returned string is handed back
// to the caller (the exported JSON for CmdExport).
type CommandHandler interface {
	OnCommand(cmd Command) (string, error)
}

// CommandHandlerFunc is a function adapter for CommandHandler
type CommandHandlerFunc func(cmd Command) (string, error)

func (f CommandHandlerFunc) OnCommand(cmd Command) (string, error) {
	return f(cmd)
}

// Publisher mirrors metrics onto the bus
type Publisher interface {
	// Update publishes the latest metrics, signalling only what changed
	Update(m analysis.Metrics) error

	// SetCommandHandler sets the handler for Reset and Export calls
	SetCommandHandler(handler CommandHandler)

	// Close releases resources
	Close() error
}

// NoOpPublisher is used when bus integration is disabled or unavailable
type NoOpPublisher struct{}

// NewNoOpPublisher creates a publisher that does nothing
func NewNoOpPublisher() *NoOpPublisher {
	return &NoOpPublisher{}
}

func (p *NoOpPublisher) Update(m analysis.Metrics) error { return nil }

func (p *NoOpPublisher) SetCommandHandler(handler CommandHandler) {}

func (p *NoOpPublisher) Close() error { return nil }

// properties maps metrics onto bus property values. Percentages are rounded
// to one decimal so jitter below that does not produce signals.
func properties(m analysis.Metrics) map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"BPM":        dbus.MakeVariant(int32(m.BPM)),
		"Key":        dbus.MakeVariant(m.Key),
		"Mood":       dbus.MakeVariant(m.Mood),
		"Brightness": dbus.MakeVariant(round1(m.BrightnessPercent)),
		"Energy":     dbus.MakeVariant(round1(m.RMSEnergyPercent)),
	}
}

// changed returns the entries of next that differ from prev
func changed(prev, next map[string]dbus.Variant) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant)
	for k, v := range next {
		old, ok := prev[k]
		if !ok || old.Value() != v.Value() {
			out[k] = v
		}
	}
	return out
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
