// Package client implements the interactive console client: it registers a
// username, relays typed lines to the server, and handles file transfers.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/relaychat/relaychat/internal/protocol"
)

// User commands recognized by the console loop. Anything else is sent to
// the current chat verbatim.
const (
	cmdExit     = "exit"
	cmdUpload   = "upload"
	cmdDownload = "download"
)

// Client drives one connection from the user's side: a console loop that
// turns typed commands into protocol frames and a receive loop printing
// server frames or writing delivered files to disk.
type Client struct {
	conn     *websocket.Conn
	username string
	in       *bufio.Reader
	out      io.Writer
}

// Dial connects to the relay at host:port and returns a Client wired to
// stdin/stdout.
func Dial(host, port, username string) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: "/ws"}

	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", u.String(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	return New(conn, username, os.Stdin, os.Stdout), nil
}

// New creates a Client over an established connection, reading user input
// from in and printing to out.
func New(conn *websocket.Conn, username string, in io.Reader, out io.Writer) *Client {
	return &Client{
		conn:     conn,
		username: username,
		in:       bufio.NewReader(in),
		out:      out,
	}
}

// Run registers the username and processes both directions until the user
// exits, the server closes, or ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	if err := c.register(); err != nil {
		return fmt.Errorf("registering username: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- c.receiveLoop() }()
	go func() { errCh <- c.commandLoop() }()

	select {
	case err := <-errCh:
		_ = c.conn.Close()
		return err
	case <-ctx.Done():
		_ = c.conn.Close()
		return nil
	}
}

// register sends the username as the first frame, which is how the server
// learns who this connection belongs to.
func (c *Client) register() error {
	return c.conn.WriteMessage(websocket.BinaryMessage, []byte(c.username))
}

func (c *Client) receiveLoop() error {
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}
		if err := c.handleServerFrame(frame); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

// handleServerFrame writes file deliveries to their destination path and
// prints everything else.
func (c *Client) handleServerFrame(frame []byte) error {
	if delivery, ok := protocol.ParseFileDelivery(frame); ok {
		if err := os.WriteFile(delivery.Destination, delivery.Data, 0o644); err != nil {
			return fmt.Errorf("writing downloaded file: %w", err)
		}
		fmt.Fprintln(c.out, "File downloaded")
		return nil
	}

	fmt.Fprintf(c.out, "%s\n", frame)
	return nil
}

func (c *Client) commandLoop() error {
	for {
		line, err := c.readLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading input: %w", err)
		}

		switch strings.TrimSpace(line) {
		case cmdExit:
			return nil
		case cmdUpload:
			err = c.uploadFile()
		case cmdDownload:
			err = c.downloadFile()
		default:
			err = c.conn.WriteMessage(websocket.BinaryMessage, []byte(line))
		}
		if err != nil {
			return err
		}
	}
}

func (c *Client) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// uploadFile prompts for a local path and sends its bytes to the current
// chat. A wrong path only prints a complaint; the session stays up.
func (c *Client) uploadFile() error {
	fmt.Fprintln(c.out, "Please, enter full path to file. It will be sent to your current chat")

	path, err := c.readLine()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		fmt.Fprintf(c.out, "Cannot read file: %v\n", err)
		return nil
	}

	frame := append([]byte(protocol.TagUploadFile+" "), data...)
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// downloadFile prompts for a file id and destination and requests delivery.
func (c *Client) downloadFile() error {
	fmt.Fprintln(c.out, `Type "{file-id} {filepath}", example: "53ec6720-a488-41c4-8617-9e0ab4c0f2de ./my_downloaded_file"`)

	line, err := c.readLine()
	if err != nil {
		return err
	}
	frame, err := buildDownloadFrame(line)
	if err != nil {
		fmt.Fprintf(c.out, "%v\n", err)
		return nil
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// buildDownloadFrame turns "<file-id> <destination>" user input into a
// download command frame. The destination may contain spaces.
func buildDownloadFrame(line string) ([]byte, error) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("expected \"{file-id} {filepath}\", got %q", line)
	}
	return []byte(fmt.Sprintf("%s %s %s", protocol.TagDownloadFile, parts[0], parts[1])), nil
}
