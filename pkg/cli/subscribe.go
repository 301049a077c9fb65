package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getmockd/gqlgateway/pkg/cli/internal/flags"
	"github.com/getmockd/gqlgateway/pkg/cli/internal/output"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

// Protocols accepted by --protocol.
const (
	protocolModern = "graphql-transport-ws"
	protocolLegacy = "graphql-ws"
)

type subscribeFlags struct {
	query     string
	url       string
	protocol  string
	token     string
	variables string
	operation string
	count     int
	headers   flags.Headers
	timeout   time.Duration
}

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func newSubscribeCmd(_ *rootOptions) *cobra.Command {
	f := &subscribeFlags{}
	cmd := &cobra.Command{
		Use:   "subscribe <query>",
		Short: "Open a subscription and print its events",
		Long: `Open a subscription over graphql-transport-ws (default) or the legacy
graphql-ws protocol and print each result as a line of JSON until the server
completes the operation, --count results arrive, or the command is
interrupted.`,
		Example: `  gqlgateway subscribe 'subscription { locationMutation { name } }'

  gqlgateway subscribe --protocol graphql-ws --token $TOKEN \
    'subscription { locationMetrics(filters: {expr: "value > 10"}) { meterId value } }'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.query = args[0]
			if f.protocol != protocolModern && f.protocol != protocolLegacy {
				return fmt.Errorf("unknown protocol %q (want %s or %s)", f.protocol, protocolModern, protocolLegacy)
			}
			var variables map[string]interface{}
			if f.variables != "" {
				if err := json.Unmarshal([]byte(f.variables), &variables); err != nil {
					return fmt.Errorf("invalid variables JSON: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			header := http.Header{}
			for k, v := range f.headers {
				header.Set(k, v)
			}
			dialer := websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: f.timeout,
				Subprotocols:     []string{f.protocol},
			}
			conn, resp, err := dialer.DialContext(ctx, f.url, header)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", f.url, err)
			}
			defer conn.Close()
			if conn.Subprotocol() != f.protocol {
				return fmt.Errorf("server selected protocol %q, want %q", conn.Subprotocol(), f.protocol)
			}

			go func() {
				<-ctx.Done()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
			}()

			c := &subscribeClient{conn: conn, protocol: f.protocol, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
			err = c.run(f, variables)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "ws://localhost:4000/subs", "Subscription endpoint")
	cmd.Flags().StringVar(&f.protocol, "protocol", protocolModern, "WebSocket subprotocol (graphql-transport-ws or graphql-ws)")
	cmd.Flags().StringVar(&f.token, "token", "", "Bearer token sent as connection param authToken")
	cmd.Flags().StringVar(&f.variables, "variables", "", "Variables as a JSON object")
	cmd.Flags().StringVar(&f.operation, "operation", "", "Operation name")
	cmd.Flags().IntVarP(&f.count, "count", "n", 0, "Exit after this many results (0 = unlimited)")
	cmd.Flags().VarP(&f.headers, "header", "H", "Handshake header as 'Name: value' (repeatable)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 10*time.Second, "Handshake timeout")
	return cmd
}

type subscribeClient struct {
	conn     *websocket.Conn
	protocol string
	out      io.Writer
	errOut   io.Writer
}

func (c *subscribeClient) run(f *subscribeFlags, variables map[string]interface{}) error {
	init := wsMessage{Type: "connection_init"}
	if f.token != "" {
		init.Payload, _ = json.Marshal(map[string]string{"authToken": f.token})
	}
	if err := c.conn.WriteJSON(init); err != nil {
		return err
	}

	start := "subscribe"
	if c.protocol == protocolLegacy {
		start = "start"
	}
	payload, err := json.Marshal(map[string]interface{}{
		"query":         f.query,
		"operationName": f.operation,
		"variables":     variables,
	})
	if err != nil {
		return err
	}

	const opID = "1"
	received := 0
	for {
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Code == websocket.CloseNormalClosure {
					return nil
				}
				return fmt.Errorf("server closed connection: %d %s", closeErr.Code, closeErr.Text)
			}
			return err
		}

		switch msg.Type {
		case "connection_ack":
			if err := c.conn.WriteJSON(wsMessage{ID: opID, Type: start, Payload: payload}); err != nil {
				return err
			}
		case "ping":
			if err := c.conn.WriteJSON(wsMessage{Type: "pong"}); err != nil {
				return err
			}
		case "ka", "pong":
		case "next", "data":
			if err := output.Line(c.out, msg.Payload); err != nil {
				return err
			}
			received++
			if f.count > 0 && received >= f.count {
				return c.stop(opID)
			}
		case "error", "connection_error":
			return fmt.Errorf("subscription error: %s", msg.Payload)
		case "complete":
			return nil
		default:
			output.Warn(c.errOut, "ignoring message of type %q", msg.Type)
		}
	}
}

// stop ends the operation and closes the connection normally.
func (c *subscribeClient) stop(id string) error {
	typ := "complete"
	if c.protocol == protocolLegacy {
		typ = "stop"
	}
	if err := c.conn.WriteJSON(wsMessage{ID: id, Type: typ}); err != nil {
		return err
	}
	return c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}
