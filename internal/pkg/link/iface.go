package link

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
)

var (
	ErrNoReconnectCommand = errors.New("no reconnect command configured")
	ErrNoResetCommand     = errors.New("no reset command configured")
)

// InterfaceMonitor reports the link as up when a matching interface is up and has
// an address. With an empty name any non-loopback interface counts.
type InterfaceMonitor struct {
	Name string
	// ReconnectCmd is run to kick the link, e.g. ["wpa_cli", "reconnect"].
	ReconnectCmd []string
	// ResetCmd forgets the link credentials, e.g. ["nmcli", "connection", "delete", "home"].
	ResetCmd []string

	interfaces func() ([]net.Interface, error)
	addrs      func(net.Interface) ([]net.Addr, error)
}

func NewInterfaceMonitor(name string, reconnectCmd, resetCmd []string) *InterfaceMonitor {
	return &InterfaceMonitor{
		Name:         name,
		ReconnectCmd: reconnectCmd,
		ResetCmd:     resetCmd,
		interfaces:   net.Interfaces,
		addrs:        func(i net.Interface) ([]net.Addr, error) { return i.Addrs() },
	}
}

func (m *InterfaceMonitor) Connected() bool {
	ifaces, err := m.interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if m.Name != "" && iface.Name != m.Name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := m.addrs(iface)
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

func (m *InterfaceMonitor) Reconnect() error {
	if len(m.ReconnectCmd) == 0 {
		return ErrNoReconnectCommand
	}
	return runCommand(m.ReconnectCmd)
}

func (m *InterfaceMonitor) Reset() error {
	if len(m.ResetCmd) == 0 {
		return ErrNoResetCommand
	}
	return runCommand(m.ResetCmd)
}

func runCommand(argv []string) error {
	out, err := exec.Command(argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, out)
	}
	return nil
}

// Static is a Monitor that never changes, for wired setups and tests.
type Static bool

func (s Static) Connected() bool  { return bool(s) }
func (s Static) Reconnect() error { return nil }
func (s Static) Reset() error     { return nil }
