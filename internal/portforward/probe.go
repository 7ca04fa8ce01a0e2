package portforward

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

const probeTimeout = 2 * time.Second

// probe reports whether port is ready per opts.Protocol.
func probe(opts WatchOptions) (bool, error) {
	switch opts.Protocol {
	case ProtocolTCP, "":
		return probeTCP(opts.Port)
	case ProtocolHTTP:
		return probeHTTP(opts.Port, opts.StatusMin, opts.StatusMax)
	default:
		return false, fmt.Errorf("unknown probe protocol %q", opts.Protocol)
	}
}

func probeTCP(port int) (bool, error) {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), probeTimeout)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func probeHTTP(port, min, max int) (bool, error) {
	if min == 0 && max == 0 {
		min, max = 200, 200
	}
	client := &http.Client{Timeout: probeTimeout}
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/", port))
	if err != nil {
		return false, nil
	}
	defer resp.Body.Close()
	return resp.StatusCode >= min && resp.StatusCode <= max, nil
}
