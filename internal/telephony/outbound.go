package telephony

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OutboundCaller triggers calls through the provider's REST API
// (spec.md §4.11, §6's "Outbound call trigger"). Grounded on
// original_source/shuo/services/twilio_client.py's make_outbound_call;
// rebuilt on net/http since the pack carries no Twilio REST client.
type OutboundCaller struct {
	accountSID string
	authToken  string
	fromNumber string
	publicURL  string
	client     *http.Client
}

// NewOutboundCaller builds a caller bound to one account's credentials.
func NewOutboundCaller(accountSID, authToken, fromNumber, publicURL string) *OutboundCaller {
	return &OutboundCaller{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		publicURL:  publicURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Call initiates an outbound call to toNumber (E.164). The returned
// string is the provider's call identifier.
func (c *OutboundCaller) Call(toNumber string) (string, error) {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Calls.json", c.accountSID)

	form := url.Values{}
	form.Set("To", toNumber)
	form.Set("From", c.fromNumber)
	form.Set("Url", strings.TrimRight(c.publicURL, "/")+"/twiml")

	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("building call request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call trigger request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("call trigger failed: status %d", resp.StatusCode)
	}

	var result struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding call response: %w", err)
	}
	return result.SID, nil
}

// TwiML renders the connection markup the provider fetches when a
// call answers, pointing it at the streaming endpoint.
func TwiML(wsURL string) string {
	type stream struct {
		XMLName xml.Name `xml:"Stream"`
		URL     string   `xml:"url,attr"`
	}
	type connect struct {
		XMLName xml.Name `xml:"Connect"`
		Stream  stream
	}
	type response struct {
		XMLName xml.Name `xml:"Response"`
		Connect connect
	}

	doc := response{Connect: connect{Stream: stream{URL: wsURL}}}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	}
	return xml.Header + string(out)
}
