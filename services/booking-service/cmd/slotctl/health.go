package main

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/grpcx"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type healthOutput struct {
	Addr    string `json:"addr"`
	Service string `json:"service"`
	Status  string `json:"status"`
}

func healthCmd(opts *options) *cobra.Command {
	var (
		addr    string
		service string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the booking service gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			status, err := checkHealth(ctx, addr, service, timeout)
			if err != nil {
				return err
			}
			out := healthOutput{Addr: addr, Service: service, Status: status.String()}
			if opts.json {
				if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", addr, service, out.Status)
			}
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", service, out.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:9093", "gRPC address of the booking service")
	cmd.Flags().StringVar(&service, "service", "slotbook.booking", "Health service name")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "Deadline for the health check")
	return cmd
}

func checkHealth(ctx context.Context, addr, service string, timeout time.Duration, extra ...grpc.DialOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := grpcx.Dial(addr, grpcx.DialOptions{}, extra...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %s: %w", service, err)
	}
	return resp.GetStatus(), nil
}
