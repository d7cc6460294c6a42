// Command client sends frames to the echo example with deliberately uneven
// write sizes and checks that every echo comes back intact.
package main

import (
	"bytes"
	"flag"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Zereker/msgframe"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:12345", "echo server address")
	count := flag.Int("count", 1000, "number of frames to send")
	flag.Parse()

	if err := run(*addr, *count); err != nil {
		slog.Error("client failed", "error", err)
		os.Exit(1)
	}
}

func run(addr string, count int) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	sent := make([]*msgframe.NetworkMessage, 0, count)
	var stream []byte
	for i := 0; i < count; i++ {
		// Every tenth frame is empty.
		var payload []byte
		if i%10 != 0 {
			payload = []byte(uuid.NewString())
		}
		msg := msgframe.NewNetworkMessage(msgframe.MessageType(i%4+1), payload)
		sent = append(sent, msg)

		if stream, err = msgframe.AppendFrame(stream, msg); err != nil {
			return err
		}
	}

	go func() {
		// Chunk sizes between 1 and 64 bytes, unrelated to frame boundaries.
		for len(stream) > 0 {
			n := min(rand.IntN(64)+1, len(stream))
			if _, err := conn.Write(stream[:n]); err != nil {
				slog.Error("write failed", "error", err)
				return
			}
			stream = stream[n:]
		}
	}()

	start := time.Now()
	_ = conn.SetReadDeadline(start.Add(30 * time.Second))
	reader := msgframe.NewReaderSize(conn, 512)
	for i, want := range sent {
		got, err := reader.Next()
		if err != nil {
			return errors.Wrapf(err, "frame %d", i)
		}
		if got.Header != want.Header || !bytes.Equal(got.Payload, want.Payload) {
			return errors.Errorf("frame %d: got %+v, want %+v", i, got.Header, want.Header)
		}
	}

	slog.Info("all frames echoed", "count", count, "elapsed", time.Since(start))
	return nil
}
