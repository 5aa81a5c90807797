package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/asterisk-callflow/internal/correlator"
	"github.com/sweeney/asterisk-callflow/internal/publisher"
)

var kindDescriptions = map[string]string{
	correlator.KindDial:         "The call is being offered to several destinations",
	correlator.KindUp:           "The call has been answered and parties are now connected",
	correlator.KindWarmTransfer: "An answered call was transferred to a new party",
	correlator.KindColdTransfer: "An unanswered call was redirected to new destinations",
	correlator.KindHangup:       "The call has ended",
}

// mqttPayload is the JSON structure published to MQTT.
type mqttPayload struct {
	EventID      string  `json:"event_id"`
	Event        string  `json:"event"`
	Description  string  `json:"description"`
	CallID       string  `json:"call_id"`
	MergedCallID string  `json:"merged_call_id,omitempty"`
	Caller       party   `json:"caller"`
	Callee       *party  `json:"callee,omitempty"`
	Redirector   *party  `json:"redirector,omitempty"`
	DialedNumber string  `json:"dialed_number,omitempty"`
	Targets      []party `json:"targets,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	Timestamp    string  `json:"timestamp"`
}

type party struct {
	Code   string `json:"code"`
	Name   string `json:"name,omitempty"`
	Number string `json:"number"`
	Public bool   `json:"public"`
}

func toParty(id correlator.CallerID) party {
	return party{Code: id.Code, Name: id.Name, Number: id.Number, Public: id.Public}
}

// MQTT publishes each event as JSON on <prefix>/call/<call_id>/<event>.
type MQTT struct {
	pub     publisher.Publisher
	prefix  string
	timeout time.Duration
	newID   func() string
	log     *logrus.Entry
}

// NewMQTT creates an MQTT sink. Each publish waits at most timeout.
func NewMQTT(pub publisher.Publisher, prefix string, timeout time.Duration, log *logrus.Entry) *MQTT {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MQTT{
		pub:     pub,
		prefix:  prefix,
		timeout: timeout,
		newID:   uuid.NewString,
		log:     log,
	}
}

// Topic returns the topic evt is published on.
func (m *MQTT) Topic(evt Event) string {
	return fmt.Sprintf("%s/call/%s/%s", m.prefix, evt.CallID, evt.Kind)
}

func (m *MQTT) Handle(evt Event) error {
	topic := m.Topic(evt)

	payload := mqttPayload{
		EventID:      m.newID(),
		Event:        evt.Kind,
		Description:  kindDescriptions[evt.Kind],
		CallID:       evt.CallID,
		MergedCallID: evt.MergedCallID,
		Caller:       toParty(evt.Caller),
		DialedNumber: evt.DialedNumber,
		Reason:       evt.Reason,
		Timestamp:    evt.Timestamp.UTC().Format(time.RFC3339),
	}
	if evt.Callee != nil {
		p := toParty(*evt.Callee)
		payload.Callee = &p
	}
	if evt.Redirector != nil {
		p := toParty(*evt.Redirector)
		payload.Redirector = &p
	}
	for _, t := range evt.Targets {
		payload.Targets = append(payload.Targets, toParty(t))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.log.WithField("topic", topic).Debug("publishing")
	if err := m.pub.Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}
