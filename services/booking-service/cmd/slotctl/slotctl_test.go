package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/auth"
	"github.com/md-rashed-zaman/slotbook/libs/grpcx"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const testFixture = `{
  "profile": {"business_id": "biz-1", "name": "Corner Cuts", "timezone": "UTC", "buffer_minutes": 10},
  "services": [{"id": "cut", "name": "Haircut", "price": "25.00", "duration_minutes": 30}],
  "staff": [{"id": "a", "name": "Ana"}, {"id": "b", "name": "Ben"}, {"id": "c", "name": "Cy", "active": false}],
  "week": {"monday": {"open": true, "start": "09:00", "end": "11:00"}},
  "blocked": [],
  "appointments": [
    {"service_id": "cut", "staff_id": "a", "client_phone": "+15550001", "date": "2026-10-19", "start": "09:00"}
  ]
}`

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calendar.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSlotsFromFixture(t *testing.T) {
	path := writeFixture(t, testFixture)
	raw, err := run(t, "slots", "--json", "--fixture", path, "--service", "cut",
		"--date", "2026-10-19", "--now", "2026-10-18T08:00:00Z")
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	var out slotsOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode: %v (%s)", err, raw)
	}
	if out.Closed {
		t.Fatalf("expected open day")
	}
	if out.Buffer != 10 {
		t.Fatalf("expected tenant buffer 10, got %d", out.Buffer)
	}
	if got := out.Free["09:00"]; len(got) != 1 || got[0] != "b" {
		t.Fatalf("09:00 should only be free for b, got %v", got)
	}
	if got := out.Free["09:40"]; len(got) != 1 || got[0] != "a" {
		t.Fatalf("09:40 should open for a once its buffer ends, got %v", got)
	}
	if got := out.Free["10:00"]; len(got) != 2 {
		t.Fatalf("10:00 should be free for both active staff, got %v", got)
	}
	for hm, ids := range out.Free {
		for _, id := range ids {
			if id == "c" {
				t.Fatalf("inactive staff offered at %s", hm)
			}
		}
	}
	if last := out.Times[len(out.Times)-1]; last != "10:30" {
		t.Fatalf("last start must still end by closing, got %s", last)
	}
}

func TestSlotsRestrictedToStaff(t *testing.T) {
	path := writeFixture(t, testFixture)
	raw, err := run(t, "slots", "--json", "--fixture", path, "--service", "cut", "--staff", "a",
		"--date", "2026-10-19", "--now", "2026-10-18T08:00:00Z")
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	var out slotsOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Times) == 0 || out.Times[0] != "09:40" {
		t.Fatalf("expected first time 09:40 for a, got %v", out.Times)
	}
}

func TestSlotsClosedDayText(t *testing.T) {
	path := writeFixture(t, testFixture)
	out, err := run(t, "slots", "--fixture", path, "--service", "cut",
		"--date", "2026-10-20", "--now", "2026-10-18T08:00:00Z")
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if !strings.Contains(out, "2026-10-20: closed") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSlotsTextTable(t *testing.T) {
	path := writeFixture(t, testFixture)
	out, err := run(t, "slots", "--fixture", path, "--service", "cut",
		"--date", "2026-10-19", "--now", "2026-10-18T08:00:00Z")
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if !strings.HasPrefix(out, "TIME") || !strings.Contains(out, "10:00  a,b") {
		t.Fatalf("unexpected table %q", out)
	}
}

func TestSlotsRejectsBadInput(t *testing.T) {
	path := writeFixture(t, testFixture)
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"missing fixture", []string{"slots", "--service", "cut", "--date", "2026-10-19"}, "--fixture"},
		{"missing service", []string{"slots", "--fixture", path, "--date", "2026-10-19"}, "--service"},
		{"bad date", []string{"slots", "--fixture", path, "--service", "cut", "--date", "19/10/2026"}, "invalid date"},
		{"bad now", []string{"slots", "--fixture", path, "--service", "cut", "--date", "2026-10-19", "--now", "tomorrow"}, "RFC3339"},
		{"unknown service", []string{"slots", "--fixture", path, "--service", "perm", "--date", "2026-10-19"}, "perm"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestFixtureRejectsBadAppointment(t *testing.T) {
	body := strings.Replace(testFixture, `"start": "09:00"}`, `"start": "09:00", "status": "pending"}`, 1)
	path := writeFixture(t, body)
	_, err := run(t, "slots", "--fixture", path, "--service", "cut", "--date", "2026-10-19")
	if err == nil || !strings.Contains(err.Error(), "appointments[0]") {
		t.Fatalf("expected appointment error, got %v", err)
	}
}

func TestTokenVerifies(t *testing.T) {
	out, err := run(t, "token", "--secret", "s3cret", "--business", "biz-1", "--role", "admin", "--ttl", "5m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(out), "s3cret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.BusinessID != "biz-1" || claims.Role != auth.RoleAdmin {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Exp-claims.Iat != int64((5 * time.Minute).Seconds()) {
		t.Fatalf("unexpected lifetime %d", claims.Exp-claims.Iat)
	}
}

func TestTokenRejectsUnknownRole(t *testing.T) {
	_, err := run(t, "token", "--secret", "s3cret", "--business", "biz-1", "--role", "client")
	if err == nil || !strings.Contains(err.Error(), "--role") {
		t.Fatalf("expected role error, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv, hs := grpcx.NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	ctx := context.Background()

	hs.SetServingStatus("slotbook.booking", healthpb.HealthCheckResponse_NOT_SERVING)
	status, err := checkHealth(ctx, "passthrough:///bufnet", "slotbook.booking", time.Second, dialer)
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", status)
	}

	hs.SetServingStatus("slotbook.booking", healthpb.HealthCheckResponse_SERVING)
	status, err = checkHealth(ctx, "passthrough:///bufnet", "slotbook.booking", time.Second, dialer)
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", status)
	}

	if _, err := checkHealth(ctx, "passthrough:///bufnet", "unknown.service", time.Second, dialer); err == nil {
		t.Fatalf("expected error for unregistered service")
	}
}
