package registry

// builtinPorts seeds the first table generation so lookups work before the
// first successful refresh.
func builtinPorts() map[portKey]string {
	entries := []PortEntry{
		{20, TransportTCP, "ftp-data"},
		{21, TransportTCP, "ftp"},
		{22, TransportTCP, "ssh"},
		{23, TransportTCP, "telnet"},
		{25, TransportTCP, "smtp"},
		{53, TransportTCP, "dns"},
		{53, TransportUDP, "dns"},
		{67, TransportUDP, "dhcp"},
		{68, TransportUDP, "dhcp"},
		{69, TransportUDP, "tftp"},
		{80, TransportTCP, "http"},
		{88, TransportTCP, "kerberos"},
		{102, TransportTCP, "s7comm"},
		{110, TransportTCP, "pop3"},
		{123, TransportUDP, "ntp"},
		{137, TransportUDP, "netbios-ns"},
		{138, TransportUDP, "netbios-dgm"},
		{139, TransportTCP, "netbios-ssn"},
		{143, TransportTCP, "imap"},
		{161, TransportUDP, "snmp"},
		{162, TransportUDP, "snmp-trap"},
		{179, TransportTCP, "bgp"},
		{389, TransportTCP, "ldap"},
		{443, TransportTCP, "https"},
		{445, TransportTCP, "smb"},
		{502, TransportTCP, "modbus"},
		{514, TransportUDP, "syslog"},
		{587, TransportTCP, "smtp"},
		{636, TransportTCP, "ldaps"},
		{993, TransportTCP, "imaps"},
		{995, TransportTCP, "pop3s"},
		{1433, TransportTCP, "mssql"},
		{1883, TransportTCP, "mqtt"},
		{1900, TransportUDP, "ssdp"},
		{2404, TransportTCP, "iec104"},
		{3306, TransportTCP, "mysql"},
		{3389, TransportTCP, "rdp"},
		{4840, TransportTCP, "opcua"},
		{5060, TransportUDP, "sip"},
		{5353, TransportUDP, "mdns"},
		{5355, TransportUDP, "llmnr"},
		{5432, TransportTCP, "postgres"},
		{6379, TransportTCP, "redis"},
		{8080, TransportTCP, "http"},
		{8443, TransportTCP, "https"},
		{9100, TransportTCP, "jetdirect"},
		{44818, TransportTCP, "ethernet-ip"},
		{47808, TransportUDP, "bacnet"},
	}

	ports := make(map[portKey]string, len(entries))
	for _, e := range entries {
		ports[portKey{port: e.Port, transport: e.Transport}] = e.Protocol
	}
	return ports
}
