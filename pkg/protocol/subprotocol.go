package protocol

// SubprotocolV01 is the only protocol revision currently spoken.
const SubprotocolV01 = "delta-net-v0.1"

// Subprotocols is the server-advertised list, most preferred first.
var Subprotocols = []string{SubprotocolV01}

// IsSupportedSubprotocol reports whether p is in Subprotocols.
func IsSupportedSubprotocol(p string) bool {
	for _, s := range Subprotocols {
		if s == p {
			return true
		}
	}
	return false
}

// SelectSubprotocol returns the most preferred server subprotocol that the
// client also offered.
func SelectSubprotocol(offered []string) (string, bool) {
	for _, s := range Subprotocols {
		for _, o := range offered {
			if o == s {
				return s, true
			}
		}
	}
	return "", false
}
