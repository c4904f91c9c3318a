package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type eventLine struct {
	Topic     string          `json:"topic"`
	Partition int             `json:"partition"`
	Offset    int64           `json:"offset"`
	Time      time.Time       `json:"time"`
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	TenantID  string          `json:"business_id"`
	TraceID   string          `json:"trace_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func toEventLine(ctx context.Context, msg kafka.Message) eventLine {
	ctx, env := kafkax.ReadEnvelope(ctx, msg)
	line := eventLine{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Time:      msg.Time.UTC(),
		EventID:   env.EventID,
		EventType: env.EventType,
		TenantID:  env.TenantID,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		line.TraceID = sc.TraceID().String()
	}
	if json.Valid(msg.Value) {
		line.Payload = msg.Value
	}
	return line
}

func writeEventLine(w io.Writer, jsonOut bool, line eventLine) error {
	if jsonOut {
		return json.NewEncoder(w).Encode(line)
	}
	_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\n",
		line.Time.Format(time.RFC3339), line.EventType, line.TenantID, line.EventID, line.Partition, line.Offset)
	return err
}

func eventsCmd(opts *options) *cobra.Command {
	var (
		brokers    string
		group      string
		businessID string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail the appointment events published by the outbox relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			if brokers == "" {
				brokers = os.Getenv("KAFKA_BROKERS")
			}
			list := kafkax.SplitBrokers(brokers)
			if len(list) == 0 {
				return kafkax.ErrNoBrokers
			}
			otel.SetTextMapPropagator(propagation.TraceContext{})

			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:     list,
				GroupID:     group,
				GroupTopics: outbox.Topics(),
				MinBytes:    1,
				MaxBytes:    10e6,
			})
			defer reader.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			seen := 0
			for limit <= 0 || seen < limit {
				msg, err := reader.ReadMessage(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				line := toEventLine(ctx, msg)
				if businessID != "" && line.TenantID != businessID {
					continue
				}
				if err := writeEventLine(cmd.OutOrStdout(), opts.json, line); err != nil {
					return err
				}
				seen++
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&brokers, "brokers", "", "Comma-separated Kafka brokers (default $KAFKA_BROKERS)")
	cmd.Flags().StringVar(&group, "group", "slotctl-events", "Consumer group id")
	cmd.Flags().StringVar(&businessID, "business", "", "Only show events for this business")
	cmd.Flags().IntVar(&limit, "limit", 0, "Stop after this many events (0 = follow)")
	return cmd
}
