package parser

// ProxyPorts are the destination ports inspected for SOCKS5 authentication.
// The classifier and both capture prefilters are derived from this list.
var ProxyPorts = [...]uint16{1080, 1081, 7890, 7891, 8080, 8081}

// IsProxyPort reports whether port (host byte order) is in ProxyPorts.
func IsProxyPort(port uint16) bool {
	for _, p := range ProxyPorts {
		if p == port {
			return true
		}
	}
	return false
}
