package client_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/streamhouse/broker/internal/server/binary"
	"github.com/streamhouse/broker/internal/streaming/system"
	"github.com/streamhouse/broker/pkg/client"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	sys, err := system.New(system.Options{
		RootDir:      t.TempDir(),
		RootPassword: "root-pass",
		Logger:       logrus.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	dispatcher := binary.NewDispatcher(sys, logrus.New())
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go dispatcher.ServeConnection(conn)
		}
	}()
	return ln.Addr().String()
}

func TestClientLoginCreateStreamSendPoll(t *testing.T) {
	addr := startTestServer(t)

	c, err := client.Dial(addr, client.Options{DialTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "iggy", "root-pass"))
	require.NoError(t, c.CreateStream(ctx, 1, "orders"))
	require.NoError(t, c.CreateTopic(ctx, 1, 1, "events", 1, 1))
	require.NoError(t, c.Send(ctx, 1, 1, 1, [][]byte{[]byte("a"), []byte("b")}))

	payload, err := c.Poll(ctx, 1, 1, 1, client.AtOffset(0).WithCount(10))
	require.NoError(t, err)
	require.NotEmpty(t, payload)
}

func TestClientLoginRejectsWrongPassword(t *testing.T) {
	addr := startTestServer(t)

	c, err := client.Dial(addr, client.Options{DialTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	err = c.Login(context.Background(), "iggy", "wrong")
	require.Error(t, err)
}
