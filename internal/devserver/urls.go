package devserver

import (
	"net"
	"strconv"
)

// localURL is the address a browser on this machine uses.
func localURL(host string, port int) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// networkURL uses the first non-loopback IPv4 address, or "" when there is none.
func networkURL(addrs func() ([]net.Addr, error), port int) string {
	if addrs == nil {
		return ""
	}
	list, err := addrs()
	if err != nil {
		return ""
	}
	for _, a := range list {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			return "http://" + net.JoinHostPort(v4.String(), strconv.Itoa(port))
		}
	}
	return ""
}
