package health

import (
	"context"
	"net"
	"strings"
	"time"
)

// TCPChecker passes once a connection to Address is accepted
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker accepts "host:port" or "tcp://host:port"
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{
		Address: strings.TrimPrefix(address, "tcp://"),
		Timeout: 5 * time.Second,
	}
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	d := net.Dialer{Timeout: t.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return finish(start, false, "dial %s: %v", t.Address, err)
	}
	_ = conn.Close()
	return finish(start, true, "%s accepting connections", t.Address)
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

func (t *TCPChecker) Target() string {
	return t.Address
}
