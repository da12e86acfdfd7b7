package feed

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"cellsync/internal/metrics"
	"cellsync/internal/world"

	"github.com/gorilla/websocket"
)

// Sink receives decoded messages. Deliver may block to apply backpressure,
// which stalls this view's reader and keeps its messages in order; it must
// return false once cancel is closed and the batch was not taken.
type Sink interface {
	Deliver(view world.ViewID, msgs []Message, cancel <-chan struct{}) bool
	FeedClosed(view world.ViewID, err error)
}

// Options configures a feed connection
type Options struct {
	Decoder          Decoder
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // 0 disables the read deadline
	Header           http.Header
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{
		Decoder:          JSONDecoder{},
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      30 * time.Second,
	}
}

// Client is one view's live connection
type Client struct {
	view world.ViewID
	url  string
	conn *websocket.Conn
	opts Options
	sink Sink

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// Dial connects the view to url and starts reading. The read loop runs until
// Close is called or the connection fails; in the latter case the sink is
// told through FeedClosed.
func Dial(ctx context.Context, url string, view world.ViewID, sink Sink, opts Options) (*Client, error) {
	if opts.Decoder == nil {
		opts.Decoder = JSONDecoder{}
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial feed %s: %w", url, err)
	}

	c := &Client{
		view:    view,
		url:     url,
		conn:    conn,
		opts:    opts,
		sink:    sink,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	log.Printf("📡 View %d connected to %s", view, url)
	return c, nil
}

// URL returns the feed address
func (c *Client) URL() string {
	return c.url
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		if c.opts.ReadTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
				// closed locally, the owner already knows
			default:
				log.Printf("⚠️ View %d feed lost: %v", c.view, err)
				c.sink.FeedClosed(c.view, err)
			}
			return
		}

		msgs, err := c.opts.Decoder.Decode(data)
		if err != nil {
			metrics.RecordFeedDropped("decode")
			log.Printf("⚠️ View %d: %v", c.view, err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		for _, m := range msgs {
			metrics.RecordFeedMessage(string(m.Kind))
		}
		if !c.sink.Deliver(c.view, msgs, c.closing) {
			select {
			case <-c.closing:
				return
			default:
				metrics.RecordFeedDropped("stopped")
			}
		}
	}
}

// Close shuts the connection down and waits for the read loop to exit
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
		<-c.done
	})
	return err
}
