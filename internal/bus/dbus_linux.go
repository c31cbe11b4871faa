//go:build linux

package bus

import (
	"fmt"
	"sync"

	"github.com/austinkregel/local-media/vizd/internal/analysis"
	"github.com/godbus/dbus/v5"
)

// DBusPublisher exports the analyzer object on the session bus
type DBusPublisher struct {
	conn *dbus.Conn

	mu      sync.RWMutex
	handler CommandHandler
	props   map[string]dbus.Variant
}

// NewPublisher connects to the session bus and claims BusName
func NewPublisher() (Publisher, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name already taken")
	}

	p := &DBusPublisher{
		conn:  conn,
		props: properties(analysis.DefaultMetrics()),
	}

	if err := p.exportInterfaces(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export interfaces: %w", err)
	}

	return p, nil
}

func (p *DBusPublisher) exportInterfaces() error {
	if err := p.conn.Export(p, ObjectPath, Interface); err != nil {
		return err
	}
	return p.conn.Export(p, ObjectPath, "org.freedesktop.DBus.Properties")
}

// Update publishes metrics and emits PropertiesChanged for what moved
func (p *DBusPublisher) Update(m analysis.Metrics) error {
	next := properties(m)

	p.mu.Lock()
	diff := changed(p.props, next)
	p.props = next
	p.mu.Unlock()

	if len(diff) == 0 {
		return nil
	}
	return p.conn.Emit(
		ObjectPath,
		"org.freedesktop.DBus.Properties.PropertiesChanged",
		Interface,
		diff,
		[]string{},
	)
}

// SetCommandHandler sets the handler for Reset and Export calls
func (p *DBusPublisher) SetCommandHandler(handler CommandHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = handler
}

// Close releases resources
func (p *DBusPublisher) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *DBusPublisher) dispatch(cmd Command) (string, *dbus.Error) {
	p.mu.RLock()
	h := p.handler
	p.mu.RUnlock()

	if h == nil {
		return "", nil
	}
	out, err := h.OnCommand(cmd)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return out, nil
}

// org.vizd.Analyzer methods

func (p *DBusPublisher) Reset() *dbus.Error {
	_, err := p.dispatch(CmdReset)
	return err
}

func (p *DBusPublisher) Export() (string, *dbus.Error) {
	return p.dispatch(CmdExport)
}

// org.freedesktop.DBus.Properties methods

func (p *DBusPublisher) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	if iface != Interface {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.props[prop]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
	}
	return v, nil
}

func (p *DBusPublisher) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != Interface {
		return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]dbus.Variant, len(p.props))
	for k, v := range p.props {
		out[k] = v
	}
	return out, nil
}

// Set rejects writes; every property is read-only
func (p *DBusPublisher) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	return dbus.MakeFailedError(fmt.Errorf("property %s is read-only", prop))
}
