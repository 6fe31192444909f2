package fdfs

import (
	"net"
	"strconv"
	"strings"
)

// Endpoint is the host:port identity of a tracker or storage node.
type Endpoint struct {
	Host string `json:"Host" yaml:"Host"`
	Port int    `json:"Port" yaml:"Port"`
}

// NewEndpoint builds an Endpoint.
func NewEndpoint(host string, port int) Endpoint {
	return Endpoint{Host: host, Port: port}
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// IsZero reports whether the endpoint was never set.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// ParseEndpoint parses "host:port".
func ParseEndpoint(address string) (Endpoint, error) {
	host, portText, err := net.SplitHostPort(strings.TrimSpace(address))
	if err != nil {
		return Endpoint{}, configError("bad endpoint %q: %v", address, err)
	}

	if host == "" {
		return Endpoint{}, configError("bad endpoint %q: empty host", address)
	}

	port, err := strconv.Atoi(portText)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, configError("bad endpoint %q: invalid port", address)
	}

	return Endpoint{Host: host, Port: port}, nil
}

// ParseEndpoints parses every address, failing on the first bad one.
func ParseEndpoints(addresses []string) ([]Endpoint, error) {
	endpoints := make([]Endpoint, 0, len(addresses))
	for _, address := range addresses {
		endpoint, err := ParseEndpoint(address)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}
