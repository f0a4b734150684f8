package modestore

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"imesync/internal/inputmode"
)

// D-Bus names used for change signals.
const (
	DBusInterface = "org.imesync.ModeStore"
	DBusPath      = dbus.ObjectPath("/org/imesync/ModeStore")
	DBusSignal    = DBusInterface + ".Changed"
)

type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// DBusPublisher broadcasts mode changes as D-Bus signals carrying
// (open bool, bits uint32, changed uint32).
type DBusPublisher struct {
	conn emitter
	path dbus.ObjectPath
	// owned is closed by Close.
	owned *dbus.Conn
}

// NewDBusPublisher publishes on conn. The caller keeps ownership of conn.
func NewDBusPublisher(conn *dbus.Conn) *DBusPublisher {
	return &DBusPublisher{conn: conn, path: DBusPath}
}

// ConnectSessionBus opens a private session bus connection for publishing.
func ConnectSessionBus() (*DBusPublisher, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return &DBusPublisher{conn: conn, path: DBusPath, owned: conn}, nil
}

// Publish implements Publisher.
func (p *DBusPublisher) Publish(ctx context.Context, s State, changed inputmode.Notify) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.conn.Emit(p.path, DBusSignal, s.Open, s.Bits, uint32(changed)); err != nil {
		return fmt.Errorf("emit %s: %w", DBusSignal, err)
	}
	return nil
}

// Close releases a connection opened by ConnectSessionBus.
func (p *DBusPublisher) Close() error {
	if p.owned == nil {
		return nil
	}
	return p.owned.Close()
}
