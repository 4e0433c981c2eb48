package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxmindEngine serves lookups from a GeoLite2/GeoIP2 City database and
// renders them in the pipe-delimited form Locator expects.
type MaxmindEngine struct {
	db   *geoip2.Reader
	lang string
}

// OpenMaxmind opens a City database file.
func OpenMaxmind(path string) (*MaxmindEngine, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geo: open %q: %w", path, err)
	}
	return &MaxmindEngine{db: db, lang: "en"}, nil
}

// Search implements Engine.
func (m *MaxmindEngine) Search(addr string) (string, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return "invalid ip address", nil
	}
	if isInternal(ip) {
		return "0|0|0|" + PrivateNetwork + "|" + PrivateNetwork, nil
	}
	rec, err := m.db.City(ip)
	if err != nil {
		return "", err
	}
	country := rec.Country.Names[m.lang]
	if country == "" {
		return "", nil
	}
	province := ""
	if len(rec.Subdivisions) > 0 {
		province = rec.Subdivisions[0].Names[m.lang]
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		orZero(country),
		orZero(rec.Continent.Names[m.lang]),
		orZero(province),
		orZero(rec.City.Names[m.lang]),
		"0"), nil
}

// Close releases the database.
func (m *MaxmindEngine) Close() error {
	return m.db.Close()
}

func isInternal(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
