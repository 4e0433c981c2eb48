package models

// AdapterInfo describes a capture-capable interface as listed by tshark -D.
type AdapterInfo struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Remark string `json:"remark"`
}

// FlowSample is the byte total seen on one interface during one second.
type FlowSample struct {
	Second int64 `json:"second"`
	Bytes  int64 `json:"bytes"`
}

// QueryConditions are the optional fuzzy-match filters for stored packets.
// Empty fields are ignored; a '*' in a value is a wildcard.
type QueryConditions struct {
	MAC      string `json:"mac_address,omitempty"`
	IP       string `json:"ip_address,omitempty"`
	Port     string `json:"port,omitempty"`
	Location string `json:"location,omitempty"`
}

// Empty reports whether no condition is set.
func (c QueryConditions) Empty() bool {
	return c.MAC == "" && c.IP == "" && c.Port == "" && c.Location == ""
}

// QueryResult is the JSON document returned by stored-packet queries.
type QueryResult struct {
	Total   int             `json:"total"`
	Packets []*PacketRecord `json:"packets"`
}
