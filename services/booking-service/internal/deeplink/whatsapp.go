package deeplink

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// WhatsApp builds a wa.me link to phone with text prefilled. Only digits of phone are kept;
// an empty result means the tenant has no usable contact number.
func WhatsApp(phone, text string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	link := "https://wa.me/" + digits.String()
	if text != "" {
		link += "?text=" + url.QueryEscape(text)
	}
	return link
}

type Confirmation struct {
	BusinessName string
	ClientName   string
	ServiceName  string
	StaffName    string
	StartAt      time.Time
}

// Message is the prefilled confirmation text sent by the client to the business.
func (c Confirmation) Message() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, this is %s. I booked %s on %s at %s",
		orDefault(c.BusinessName, "there"),
		orDefault(c.ClientName, "a client"),
		orDefault(c.ServiceName, "an appointment"),
		c.StartAt.Format("Mon 02 Jan 2006"),
		c.StartAt.Format("15:04"),
	)
	if c.StaffName != "" {
		fmt.Fprintf(&b, " with %s", c.StaffName)
	}
	b.WriteString(".")
	return b.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
