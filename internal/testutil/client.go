// Package testutil provides a minimal framed JSON client for driving the
// gameplay server in tests.
package testutil

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/seabattle/internal/protocol"
)

const recvTimeout = 5 * time.Second

// Client speaks the length-prefixed JSON protocol over one TCP connection.
type Client struct {
	tb   testing.TB
	conn net.Conn
}

// Dial connects to the game server. The connection closes with the test.
func Dial(tb testing.TB, addr string) *Client {
	tb.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(tb, err)
	c := &Client{tb: tb, conn: conn}
	tb.Cleanup(c.Close)
	return c
}

// Close drops the connection. Safe to call twice.
func (c *Client) Close() {
	c.conn.Close()
}

// Send writes one message.
func (c *Client) Send(msgType string, data map[string]any) {
	c.tb.Helper()
	require.NoError(c.tb, protocol.WriteMessage(c.conn, protocol.NewWith(msgType, data)))
}

// Recv reads the next message, failing the test after 5 seconds.
func (c *Client) Recv() protocol.Message {
	c.tb.Helper()
	require.NoError(c.tb, c.conn.SetReadDeadline(time.Now().Add(recvTimeout)))
	msg, err := protocol.ReadMessage(c.conn)
	require.NoError(c.tb, err)
	return msg
}

// Expect reads the next message and requires its type.
func (c *Client) Expect(msgType string) protocol.Message {
	c.tb.Helper()
	msg := c.Recv()
	require.Equal(c.tb, msgType, msg.Type, "unexpected message %v", msg.Data)
	return msg
}
