package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/clock"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
	"github.com/spf13/cobra"
)

type slotsOutput struct {
	BusinessID string              `json:"business_id"`
	ServiceID  string              `json:"service_id"`
	Date       string              `json:"date"`
	Closed     bool                `json:"closed"`
	Buffer     int                 `json:"buffer_minutes"`
	Times      []string            `json:"times"`
	Free       map[string][]string `json:"free,omitempty"`
}

func slotsCmd(opts *options) *cobra.Command {
	var (
		fixturePath   string
		serviceID     string
		staffID       string
		date          string
		now           string
		defaultBuffer int
	)

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Compute bookable start times from a calendar fixture",
		Long: "Loads one tenant calendar from a JSON fixture into an in-memory store and runs the\n" +
			"same slot engine the booking service serves, without touching a database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fixturePath == "" {
				return fmt.Errorf("--fixture is required")
			}
			if serviceID == "" {
				return fmt.Errorf("--service is required")
			}
			if date == "" {
				return fmt.Errorf("--date is required")
			}
			day, err := clock.ParseDate(date, time.UTC)
			if err != nil {
				return err
			}
			reference := time.Now()
			if now != "" {
				if reference, err = time.Parse(time.RFC3339, now); err != nil {
					return fmt.Errorf("--now must be RFC3339: %w", err)
				}
			}

			fx, err := readFixture(fixturePath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store := storage.NewMemoryStore(func() time.Time { return reference })
			if err := fx.load(ctx, store, defaultBuffer); err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			guard := booking.NewGuard(store, logger, booking.Config{DefaultBufferMinutes: defaultBuffer},
				booking.WithClock(func() time.Time { return reference }))
			slots, err := guard.Slots(ctx, booking.SlotQuery{
				BusinessID: fx.Profile.BusinessID,
				ServiceID:  serviceID,
				StaffID:    staffID,
				Date:       day,
			})
			if err != nil {
				return err
			}

			out := slotsOutput{
				BusinessID: fx.Profile.BusinessID,
				ServiceID:  serviceID,
				Date:       clock.FormatDate(day),
				Closed:     slots.Closed,
				Buffer:     slots.Tenant.Buffer,
				Times:      slots.Availability.Times,
				Free:       slots.Availability.Free,
			}
			if out.Times == nil {
				out.Times = []string{}
			}
			if opts.json {
				return writeJSON(cmd.OutOrStdout(), out)
			}
			return printSlots(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&fixturePath, "fixture", "", "Path to a calendar fixture (JSON)")
	cmd.Flags().StringVar(&serviceID, "service", "", "Service ID")
	cmd.Flags().StringVar(&staffID, "staff", "", "Restrict to one staff member")
	cmd.Flags().StringVar(&date, "date", "", "Date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&now, "now", "", "Evaluate as of this instant (RFC3339); defaults to the current time")
	cmd.Flags().IntVar(&defaultBuffer, "default-buffer", 10, "Buffer minutes for tenants without their own")
	return cmd
}

func printSlots(w io.Writer, out slotsOutput) error {
	if out.Closed {
		_, err := fmt.Fprintf(w, "%s: closed\n", out.Date)
		return err
	}
	if len(out.Times) == 0 {
		_, err := fmt.Fprintf(w, "%s: no free times\n", out.Date)
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTAFF")
	for _, t := range out.Times {
		fmt.Fprintf(tw, "%s\t%s\n", t, strings.Join(out.Free[t], ","))
	}
	return tw.Flush()
}
