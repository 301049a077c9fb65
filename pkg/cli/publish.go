package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/getmockd/gqlgateway/pkg/eventstream"
	"github.com/getmockd/gqlgateway/pkg/resolvers"
	"github.com/spf13/cobra"
)

type publishFlags struct {
	broker   string
	exchange string
	clientID string
	username string
	password string
	qos      int
	timeout  time.Duration
}

func newPublishCmd(root *rootOptions) *cobra.Command {
	f := &publishFlags{}
	cmd := &cobra.Command{
		Use:   "publish <routing-key> <payload>",
		Short: "Publish a test event",
		Long: `Publish a JSON event to an MQTT broker under an exchange and routing key,
the way upstream services do. The payload may be a single object or an array
of events, or @file to read it from a file.`,
		Example: `  # Publish a location mutation
  gqlgateway publish locations.mutation.created '{"name":"Plant 1"}'

  # Publish a batch of meter metrics from a file
  gqlgateway publish --exchange h2obridge meter.metrics.flow @metrics.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			routingKey, payload := args[0], []byte(args[1])
			if len(args[1]) > 0 && args[1][0] == '@' {
				data, err := os.ReadFile(args[1][1:])
				if err != nil {
					return fmt.Errorf("failed to read payload file: %w", err)
				}
				payload = data
			}
			if !json.Valid(payload) {
				return errors.New("payload must be valid JSON")
			}

			if f.broker == "" {
				cfg, err := loadConfig(root, nil)
				if err != nil {
					return err
				}
				f.broker = cfg.Broker.URL
				if f.broker == "" {
					f.broker = "tcp://localhost:1883"
				}
			}

			ctx := cmd.Context()
			src, err := eventstream.NewMQTTSource(ctx, eventstream.MQTTConfig{
				URL:      f.broker,
				ClientID: f.clientID,
				Username: f.username,
				Password: f.password,
				QoS:      byte(f.qos),
				Timeout:  f.timeout,
			})
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()

			if err := src.Publish(ctx, routingKey, f.exchange, payload); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", eventstream.Filter(f.exchange, routingKey))
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.broker, "broker", "b", "", "Broker URL (defaults to broker.url)")
	cmd.Flags().StringVarP(&f.exchange, "exchange", "e", resolvers.ExchangeDocuments, "Exchange")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "MQTT client id")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "MQTT username")
	cmd.Flags().StringVarP(&f.password, "password", "P", "", "MQTT password")
	cmd.Flags().IntVar(&f.qos, "qos", 0, "QoS level (0, 1, or 2)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Second, "Connect and publish timeout")
	return cmd
}
