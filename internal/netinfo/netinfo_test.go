package netinfo

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/dock108/aicli-companion/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipNet(s string) *net.IPNet {
	ip, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	n.IP = ip
	return n
}

func TestPickAddr(t *testing.T) {
	tests := []struct {
		name  string
		addrs []net.Addr
		want  string
		ok    bool
	}{
		{"none", nil, "", false},
		{"loopback only", []net.Addr{ipNet("127.0.0.1/8"), ipNet("::1/128")}, "", false},
		{"link local skipped", []net.Addr{ipNet("169.254.10.2/16")}, "", false},
		{"private", []net.Addr{ipNet("127.0.0.1/8"), ipNet("192.168.1.20/24")}, "192.168.1.20", true},
		{"private preferred over public", []net.Addr{ipNet("203.0.113.5/24"), ipNet("10.0.0.7/8")}, "10.0.0.7", true},
		{"public fallback", []net.Addr{ipNet("fe80::1/64"), ipNet("203.0.113.5/24")}, "203.0.113.5", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickAddr(tt.addrs)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalIP(t *testing.T) {
	ip, err := LocalIP()
	if err != nil {
		assert.ErrorIs(t, err, errors.ErrNoInterface)
		t.Skip("no network interface in this environment")
	}
	parsed := net.ParseIP(ip)
	require.NotNil(t, parsed)
	assert.NotNil(t, parsed.To4())
	assert.False(t, parsed.IsLoopback())
}

func TestNetworkInfo_JSON(t *testing.T) {
	data, err := json.Marshal(NetworkInfo{IP: "192.168.1.20", Port: 3001})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ip":"192.168.1.20","port":3001}`, string(data))
}
