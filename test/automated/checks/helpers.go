package autochecks

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/davio/pkg/davclient"
)

// Target is the server under test: a session plus an independent client
// used to cross-check what the session wrote.
type Target struct {
	Client *davclient.Client
	Peer   *gowebdav.Client
	Base   string // scratch collection, removed by the caller
}

func NewPeer(url, user, pass, token string) *gowebdav.Client {
	peer := gowebdav.NewClient(url, user, pass)
	if token != "" {
		peer.SetHeader("Authorization", "Bearer "+token)
	}
	return peer
}

func summarizeSub(check, sub string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "FAIL: " + err.Error()
	}
	log.Printf("  [%s] %-16s %8s  %s", check, sub, elapsed.Round(time.Millisecond), status)
}

// step runs fn and reports it as one sub-check.
func step(check, sub string, fn func() error) error {
	s := time.Now()
	err := fn()
	summarizeSub(check, sub, err, time.Since(s))
	if err != nil {
		return fmt.Errorf("%s: %w", sub, err)
	}
	return nil
}

func payload(n int, seed byte) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i%251)
	}
	return data
}

func upload(ctx context.Context, c *davclient.Client, remote string, data []byte) error {
	return c.UploadFrom(ctx, bytesReader(data), int64(len(data)), remote)
}

func download(ctx context.Context, c *davclient.Client, remote string) ([]byte, error) {
	var buf bytes.Buffer
	_, err := c.DownloadTo(ctx, remote, &buf)
	return buf.Bytes(), err
}

func bytesReader(data []byte) *bytes.Reader { return bytes.NewReader(data) }

func sameBytes(what string, got, want []byte) error {
	if !bytes.Equal(got, want) {
		return fmt.Errorf("%s: got %d bytes, want %d bytes with identical content", what, len(got), len(want))
	}
	return nil
}
