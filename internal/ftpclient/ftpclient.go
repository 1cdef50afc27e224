// Package ftpclient is a minimal anonymous-FTP client used by the cloner to
// list the upstream build directory before fetching artifacts over HTTPS.
// No FTP client library appears anywhere in the retrieval pack (see
// DESIGN.md for the standard-library justification this requires), so this
// talks the protocol directly over net/textproto, implementing only the
// handful of commands the cloner needs: login, CWD, and passive-mode NLST.
package ftpclient

import (
	"bufio"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// Client is a connected, logged-in FTP control connection.
type Client struct {
	conn *textproto.Conn
	raw  net.Conn
}

// Dial connects to host:21 (or host:port if host includes a port) and logs
// in anonymously, matching the original cloner's ftplib.FTP().login() with
// no credentials.
func Dial(host string, timeout time.Duration) (*Client, error) {
	addr := host
	if !strings.Contains(addr, ":") {
		addr += ":21"
	}
	raw, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("ftpclient: dial %s: %w", addr, err)
	}
	conn := textproto.NewConn(raw)

	if _, _, err := conn.ReadResponse(220); err != nil {
		raw.Close()
		return nil, fmt.Errorf("ftpclient: greeting: %w", err)
	}

	c := &Client{conn: conn, raw: raw}
	if err := c.login(); err != nil {
		raw.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) login() error {
	if _, err := c.conn.Cmd("USER anonymous"); err != nil {
		return err
	}
	if _, _, err := c.conn.ReadResponse(331); err != nil {
		return fmt.Errorf("ftpclient: USER: %w", err)
	}
	if _, err := c.conn.Cmd("PASS anonymous@"); err != nil {
		return err
	}
	if _, _, err := c.conn.ReadResponse(230); err != nil {
		return fmt.Errorf("ftpclient: PASS: %w", err)
	}
	return nil
}

// CWD changes the working directory on the server.
func (c *Client) CWD(path string) error {
	if _, err := c.conn.Cmd("CWD %s", path); err != nil {
		return err
	}
	if _, _, err := c.conn.ReadResponse(250); err != nil {
		return fmt.Errorf("ftpclient: CWD %s: %w", path, err)
	}
	return nil
}

// List opens a passive-mode data connection and returns the output of NLST
// against path (an empty path lists the current directory).
func (c *Client) List(path string) ([]string, error) {
	data, err := c.pasv()
	if err != nil {
		return nil, err
	}
	defer data.Close()

	cmd := "NLST"
	if path != "" {
		cmd = "NLST " + path
	}
	if _, err := c.conn.Cmd(cmd); err != nil {
		return nil, err
	}
	if _, _, err := c.conn.ReadResponse(150); err != nil {
		if _, _, err2 := c.conn.ReadResponse(125); err2 != nil {
			return nil, fmt.Errorf("ftpclient: %s: %w", cmd, err)
		}
	}

	var lines []string
	scanner := bufio.NewScanner(data)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ftpclient: reading listing: %w", err)
	}

	if _, _, err := c.conn.ReadResponse(226); err != nil {
		return nil, fmt.Errorf("ftpclient: %s completion: %w", cmd, err)
	}
	return lines, nil
}

func (c *Client) pasv() (net.Conn, error) {
	if _, err := c.conn.Cmd("PASV"); err != nil {
		return nil, err
	}
	_, msg, err := c.conn.ReadResponse(227)
	if err != nil {
		return nil, fmt.Errorf("ftpclient: PASV: %w", err)
	}
	addr, err := parsePasvAddr(msg)
	if err != nil {
		return nil, err
	}
	return net.DialTimeout("tcp", addr, 30*time.Second)
}

// parsePasvAddr extracts "h1,h2,h3,h4,p1,p2" from a 227 response like
// "Entering Passive Mode (127,0,0,1,200,13)." and returns "ip:port".
func parsePasvAddr(msg string) (string, error) {
	start := strings.Index(msg, "(")
	end := strings.Index(msg, ")")
	if start < 0 || end < 0 || end <= start {
		return "", fmt.Errorf("ftpclient: malformed PASV reply: %q", msg)
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return "", fmt.Errorf("ftpclient: malformed PASV reply: %q", msg)
	}
	ip := strings.Join(parts[:4], ".")
	p1, err := strconv.Atoi(parts[4])
	if err != nil {
		return "", fmt.Errorf("ftpclient: malformed PASV port: %w", err)
	}
	p2, err := strconv.Atoi(parts[5])
	if err != nil {
		return "", fmt.Errorf("ftpclient: malformed PASV port: %w", err)
	}
	port := p1*256 + p2
	return fmt.Sprintf("%s:%d", ip, port), nil
}

// Quit sends QUIT and closes the connection.
func (c *Client) Quit() error {
	defer c.raw.Close()
	if _, err := c.conn.Cmd("QUIT"); err != nil {
		return err
	}
	_, _, _ = c.conn.ReadResponse(221)
	return nil
}
