package provider

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// CallControl is the declarative document returned to the provider at the
// voice endpoint: either "dial this destination with this caller-ID",
// "play this message and hang up", or "reject". Never imperative code.
type CallControl struct {
	Action CallControlAction

	// CallerID is presented to the dialed party (dial action only).
	CallerID string

	// Target is the dial target: an E.164 number, a sip: URI, or a
	// client/queue identifier for browser endpoints.
	Target string

	// Message is spoken before hangup (say_hangup action only).
	Message string
}

type CallControlAction string

const (
	CallControlDial      CallControlAction = "dial"
	CallControlSayHangup CallControlAction = "say_hangup"
	CallControlReject    CallControlAction = "reject"
)

type ccResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type ccReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type ccHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type ccSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type ccDial struct {
	XMLName  xml.Name  `xml:"Dial"`
	CallerID string    `xml:"callerId,attr,omitempty"`
	Number   string    `xml:"Number,omitempty"`
	Client   string    `xml:"Client,omitempty"`
	Sip      *ccSipURI `xml:"Sip,omitempty"`
}

type ccSipURI struct {
	URI string `xml:",chardata"`
}

// RenderCallControl encodes a CallControl document as provider markup.
func RenderCallControl(doc CallControl) (string, error) {
	var r ccResponse

	switch doc.Action {
	case CallControlReject:
		r.Verbs = append(r.Verbs, ccReject{Reason: "busy"})
	case CallControlSayHangup:
		if strings.TrimSpace(doc.Message) == "" {
			return "", errors.New("provider: message required for say_hangup action")
		}
		r.Verbs = append(r.Verbs, ccSay{Text: doc.Message}, ccHangup{})
	case CallControlDial:
		target := strings.TrimSpace(doc.Target)
		if target == "" {
			return "", errors.New("provider: target required for dial action")
		}
		d := ccDial{CallerID: doc.CallerID}
		switch {
		case strings.HasPrefix(strings.ToLower(target), "sip:"):
			d.Sip = &ccSipURI{URI: target}
		case strings.HasPrefix(target, "+"):
			d.Number = target
		default:
			// Non-PSTN identifiers address browser clients / queues.
			d.Client = target
		}
		r.Verbs = append(r.Verbs, d)
	default:
		return "", errors.New("provider: unknown call control action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
