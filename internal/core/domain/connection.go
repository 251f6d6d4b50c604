package domain

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Node is one remote store server.
type Node struct {
	Protocol string `json:"protocol"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Path     string `json:"path,omitempty"`
}

// URL returns the base URL of the node.
func (n Node) URL() string {
	u := url.URL{
		Scheme: n.Protocol,
		Host:   n.Host + ":" + strconv.Itoa(n.Port),
		Path:   n.Path,
	}
	return u.String()
}

// ConnectionParams identify a remote store client.
type ConnectionParams struct {
	APIKey            string        `json:"api_key"`
	Nodes             []Node        `json:"nodes"`
	ConnectionTimeout time.Duration `json:"connection_timeout,omitempty"`
}

// ParseServers parses a comma separated list of scheme://host:port[/path] entries.
// An empty list yields no nodes.
func ParseServers(servers string) ([]Node, error) {
	servers = strings.TrimSpace(servers)
	if servers == "" {
		return nil, nil
	}

	var nodes []Node
	for _, raw := range strings.Split(servers, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		node, err := parseServer(raw)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if len(nodes) == 0 {
		return nil, &InvalidServerConfigError{Server: servers, Reason: "no servers listed"}
	}
	return nodes, nil
}

func parseServer(raw string) (Node, error) {
	if !strings.Contains(raw, "://") {
		return Node{}, &InvalidServerConfigError{Server: raw, Reason: "missing scheme"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Node{}, &InvalidServerConfigError{Server: raw, Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Node{}, &InvalidServerConfigError{Server: raw, Reason: "scheme must be http or https"}
	}
	if u.Hostname() == "" {
		return Node{}, &InvalidServerConfigError{Server: raw, Reason: "missing host"}
	}

	port := 443
	if u.Scheme == "http" {
		port = 80
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Node{}, &InvalidServerConfigError{Server: raw, Reason: "invalid port"}
		}
	}

	return Node{
		Protocol: u.Scheme,
		Host:     u.Hostname(),
		Port:     port,
		Path:     strings.TrimSuffix(u.Path, "/"),
	}, nil
}
