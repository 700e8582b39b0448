package runtime

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Syslog severities used for container streams
const (
	SeverityErr  = 3
	SeverityInfo = 6

	facilityDaemon = 3
)

// SyslogForwarder ships container output lines to a syslog endpoint
type SyslogForwarder struct {
	mu       sync.Mutex
	conn     net.Conn
	tag      string
	format   string
	hostname string
	now      func() time.Time
}

// DialSyslog connects to address (udp://host:port or tcp://host:port).
// format is rfc5424 or rfc3164.
func DialSyslog(address, tag, format string) (*SyslogForwarder, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid syslog address %q: %w", address, err)
	}
	switch u.Scheme {
	case "udp", "tcp":
	default:
		return nil, fmt.Errorf("unsupported syslog scheme %q", u.Scheme)
	}
	switch format {
	case "", "rfc5424":
		format = "rfc5424"
	case "rfc3164":
	default:
		return nil, fmt.Errorf("unsupported syslog format %q", format)
	}

	conn, err := net.Dial(u.Scheme, u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to dial syslog: %w", err)
	}

	hostname, _ := os.Hostname()
	return &SyslogForwarder{
		conn:     conn,
		tag:      tag,
		format:   format,
		hostname: hostname,
		now:      time.Now,
	}, nil
}

// Forward copies r line by line until EOF
func (f *SyslogForwarder) Forward(r io.Reader, severity int) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := f.send(severity, scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (f *SyslogForwarder) send(severity int, msg string) error {
	line := f.formatLine(severity, msg)
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.conn.Write([]byte(line))
	return err
}

func (f *SyslogForwarder) formatLine(severity int, msg string) string {
	pri := facilityDaemon*8 + severity
	msg = strings.TrimRight(msg, "\r\n")
	if f.format == "rfc3164" {
		return fmt.Sprintf("<%d>%s %s %s: %s\n", pri, f.now().Format(time.Stamp), f.hostname, f.tag, msg)
	}
	return fmt.Sprintf("<%d>1 %s %s %s - - - %s\n", pri, f.now().UTC().Format(time.RFC3339Nano), f.hostname, f.tag, msg)
}

// Close closes the syslog connection
func (f *SyslogForwarder) Close() error {
	return f.conn.Close()
}
