package ami

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrLoginFailed is returned when Asterisk rejects the manager credentials.
var ErrLoginFailed = errors.New("ami login rejected")

// Credentials identify an AMI manager account.
type Credentials struct {
	Username string
	Secret   string
}

// Client is a logged-in AMI connection. It is a Source: Next blocks until
// Asterisk sends the next event and returns false once the connection ends.
type Client struct {
	conn   net.Conn
	parser *Parser
	log    *logrus.Entry
	Banner string

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to addr, reads the banner and logs in. The connection is
// closed when ctx is cancelled, which unblocks a pending Next. Close must be
// called once the client is no longer needed.
func Dial(ctx context.Context, addr string, creds Credentials, log *logrus.Entry) (*Client, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial AMI: %w", err)
	}

	c, err := handshake(conn, creds, log)
	if err != nil {
		conn.Close()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-c.done:
		}
	}()
	return c, nil
}

func handshake(conn net.Conn, creds Credentials, log *logrus.Entry) (*Client, error) {
	reader := bufio.NewReader(conn)

	banner, err := reader.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("reading AMI banner: %w", err)
	}
	banner = strings.TrimSpace(banner)
	log.WithField("banner", banner).Info("AMI connected")

	if err := writeAction(conn, "Login", "Username", creds.Username, "Secret", creds.Secret, "Events", "on"); err != nil {
		return nil, fmt.Errorf("sending login: %w", err)
	}

	parser := NewParser(reader)
	for {
		resp, ok := parser.Next()
		if !ok {
			if err := parser.Err(); err != nil {
				return nil, fmt.Errorf("reading login response: %w", err)
			}
			return nil, fmt.Errorf("reading login response: %w", io.ErrUnexpectedEOF)
		}
		if !resp.IsResponse() {
			// events may race ahead of the login response
			continue
		}
		if resp.Get("Response") != "Success" {
			return nil, fmt.Errorf("%w: %s", ErrLoginFailed, resp.Get("Message"))
		}
		break
	}

	log.Info("AMI authenticated")
	return &Client{conn: conn, parser: parser, log: log, Banner: banner, done: make(chan struct{})}, nil
}

func writeAction(w io.Writer, action string, kvs ...string) error {
	var b strings.Builder
	b.WriteString("Action: " + action + "\r\n")
	for i := 0; i+1 < len(kvs); i += 2 {
		b.WriteString(kvs[i] + ": " + kvs[i+1] + "\r\n")
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func (c *Client) Next() (Event, bool) {
	return c.parser.Next()
}

// Err reports why the event stream ended. A clean close by the peer is
// reported as io.EOF since a live feed is never expected to end.
func (c *Client) Err() error {
	if err := c.parser.Err(); err != nil {
		return err
	}
	return io.EOF
}

// Close logs off and closes the connection. It is safe to call more than
// once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = writeAction(c.conn, "Logoff")
		err = c.conn.Close()
	})
	return err
}
