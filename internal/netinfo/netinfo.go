// Package netinfo reports the address other devices on the LAN can use to
// reach the companion server.
package netinfo

import (
	"fmt"
	"net"

	"github.com/dock108/aicli-companion/internal/errors"
)

// NetworkInfo pairs the local IP with the server port.
type NetworkInfo struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// probeAddr is never contacted: dialing UDP only selects the outbound route.
const probeAddr = "8.8.8.8:80"

// LocalIP returns the primary non-loopback IPv4 address of this machine.
func LocalIP() (string, error) {
	if ip, err := outboundIP(); err == nil {
		return ip, nil
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", errors.NoInterface(err)
	}
	if ip, ok := pickAddr(addrs); ok {
		return ip, nil
	}
	return "", errors.NoInterface(fmt.Errorf("no non-loopback IPv4 address"))
}

// Info returns the local IP together with port.
func Info(port int) (NetworkInfo, error) {
	ip, err := LocalIP()
	if err != nil {
		return NetworkInfo{}, err
	}
	return NetworkInfo{IP: ip, Port: port}, nil
}

func outboundIP() (string, error) {
	conn, err := net.Dial("udp4", probeAddr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsLoopback() || addr.IP.IsUnspecified() {
		return "", fmt.Errorf("no routable local address")
	}
	return addr.IP.String(), nil
}

// pickAddr prefers private IPv4 addresses, then any other global IPv4.
func pickAddr(addrs []net.Addr) (string, bool) {
	var fallback string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			continue
		}
		if ip.IsPrivate() {
			return ip.String(), true
		}
		if fallback == "" {
			fallback = ip.String()
		}
	}
	return fallback, fallback != ""
}
