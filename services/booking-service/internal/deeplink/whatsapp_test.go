package deeplink

import (
	"strings"
	"testing"
	"time"
)

func TestWhatsAppLink(t *testing.T) {
	got := WhatsApp("+880 1711-000000", "hi there")
	if got != "https://wa.me/8801711000000?text=hi+there" {
		t.Fatalf("unexpected link %q", got)
	}
	if WhatsApp("", "hi") != "" {
		t.Fatal("expected empty link without a phone")
	}
	if WhatsApp("+1 555", "") != "https://wa.me/1555" {
		t.Fatal("expected bare link without text")
	}
}

func TestConfirmationMessage(t *testing.T) {
	msg := Confirmation{
		BusinessName: "Sala",
		ClientName:   "Rita",
		ServiceName:  "Haircut",
		StaffName:    "Ana",
		StartAt:      time.Date(2026, 10, 19, 10, 40, 0, 0, time.UTC),
	}.Message()
	for _, want := range []string{"Hi Sala", "Rita", "Haircut", "Mon 19 Oct 2026", "10:40", "with Ana"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}
