package dnscfg

import (
	"net"
	"strings"
)

// splitServerList breaks a platform-formatted resolver list into individual
// addresses. Windows joins with commas, nmcli with commas or spaces,
// networksetup with newlines; tokens that are not IP literals are dropped.
func splitServerList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\r' || r == '\t'
	})
	servers := make([]string, 0, len(fields))
	for _, f := range fields {
		if net.ParseIP(f) != nil {
			servers = append(servers, f)
		}
	}
	return servers
}

// firstTwo maps a resolver list onto the primary/secondary pair the
// configuration model carries. Anything past the second entry is ignored.
func firstTwo(servers []string) (primary, secondary string) {
	if len(servers) > 0 {
		primary = servers[0]
	}
	if len(servers) > 1 {
		secondary = servers[1]
	}
	return primary, secondary
}

// nmConnection is one row of `nmcli -t -f NAME,TYPE,DEVICE connection show
// --active`.
type nmConnection struct {
	Name   string
	Type   string
	Device string
}

// parseNmcliConnections parses terse nmcli connection listings. Terse mode
// separates fields with ':' and escapes literal colons and backslashes in
// values with a backslash.
func parseNmcliConnections(out string) []nmConnection {
	var conns []nmConnection
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := splitNmcliLine(line)
		if len(fields) < 3 {
			continue
		}
		conns = append(conns, nmConnection{
			Name:   fields[0],
			Type:   fields[1],
			Device: fields[2],
		})
	}
	return conns
}

func splitNmcliLine(line string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

// nmcliVirtualTypes are connection types that never carry the user's
// upstream DNS: loopback and tunnel-like links are configuration targets for
// their controlling software, not for us.
var nmcliVirtualTypes = map[string]bool{
	"loopback":  true,
	"tun":       true,
	"vpn":       true,
	"wireguard": true,
	"ppp":       true,
	"bridge":    true,
	"dummy":     true,
}

func nmcliEligible(c nmConnection) bool {
	return c.Name != "" && c.Device != "" && !nmcliVirtualTypes[c.Type]
}

func nmcliWired(c nmConnection) bool {
	return c.Type == "802-3-ethernet" || c.Type == "ethernet"
}

func nmcliWireless(c nmConnection) bool {
	return c.Type == "802-11-wireless" || c.Type == "wifi"
}

// parseNmcliShow extracts setting values from `nmcli -t connection show
// <name>` output, keyed by setting name ("ipv4.dns"). The nmcli placeholder
// "--" reads as empty.
func parseNmcliShow(out string) map[string]string {
	settings := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "--" {
			value = ""
		}
		settings[strings.TrimSpace(key)] = value
	}
	return settings
}

// parseNetworkServices parses `networksetup -listallnetworkservices`. The
// first line is explanatory text; services prefixed with '*' are disabled.
func parseNetworkServices(out string) []string {
	var services []string
	for i, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if i == 0 || line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}
	return services
}

// parseDNSServersOutput interprets `networksetup -getdnsservers` output.
// When no static servers are assigned the tool prints a sentence instead of
// addresses, which is the DHCP case.
func parseDNSServersOutput(out string) (servers []string, dhcp bool) {
	trimmed := strings.TrimSpace(out)
	if strings.Contains(trimmed, "aren't any DNS Servers set") {
		return nil, true
	}
	servers = splitServerList(trimmed)
	return servers, len(servers) == 0
}

// parseRouteField pulls one "key: value" field out of `route -n get
// default` output.
func parseRouteField(out, key string) string {
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == key {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// parseHardwarePorts maps BSD device names to network service names using
// `networksetup -listallhardwareports` output, which comes in blocks of
// "Hardware Port:" / "Device:" pairs.
func parseHardwarePorts(out string) map[string]string {
	ports := make(map[string]string)
	var currentPort string
	for _, line := range strings.Split(out, "\n") {
		if name, ok := strings.CutPrefix(line, "Hardware Port: "); ok {
			currentPort = strings.TrimSpace(name)
			continue
		}
		if dev, ok := strings.CutPrefix(line, "Device: "); ok && currentPort != "" {
			ports[strings.TrimSpace(dev)] = currentPort
			currentPort = ""
		}
	}
	return ports
}
