// Package notify informs customers and shop admins about offer state changes.
// Dispatch is fire-and-forget from the engine's perspective: a failed send is
// logged by the caller and never rolls back a transition.
package notify

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/gradelab/buyback-service/internal/models"
)

// Channel is a delivery channel variant.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// EventType names an offer state change worth telling someone about.
type EventType string

const (
	OfferCreated      EventType = "offer_created"
	OfferAccepted     EventType = "offer_accepted"
	OfferDeclined     EventType = "offer_declined"
	CounterSubmitted  EventType = "counter_submitted"
	CounterAccepted   EventType = "counter_accepted"
	CounterDeclined   EventType = "counter_declined"
	InPersonRequested EventType = "in_person_requested"
	OfferCancelled    EventType = "offer_cancelled"
	OfferPaid         EventType = "offer_paid"
)

// Event carries what happened and who should hear about it.
type Event struct {
	Type      EventType
	Offer     *models.BuybackOffer
	Recipient string
}

// Dispatcher delivers events over the configured channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// LogDispatcher writes each event to the log, one line per channel. It stands
// in for the real email/SMS/push providers, which live outside this service.
type LogDispatcher struct {
	Logger   *log.Logger
	Channels []Channel
}

// NewLogDispatcher creates a LogDispatcher from a comma-separated channel
// list such as "email,sms".
func NewLogDispatcher(logger *log.Logger, channelList string) (*LogDispatcher, error) {
	var channels []Channel
	for _, name := range strings.Split(channelList, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		switch Channel(name) {
		case ChannelEmail, ChannelSMS, ChannelPush:
			channels = append(channels, Channel(name))
		default:
			return nil, fmt.Errorf("unknown notification channel %q", name)
		}
	}
	if len(channels) == 0 {
		channels = []Channel{ChannelEmail}
	}
	return &LogDispatcher{Logger: logger, Channels: channels}, nil
}

// Dispatch logs the event for every configured channel.
func (d *LogDispatcher) Dispatch(_ context.Context, event Event) error {
	for _, channel := range d.Channels {
		d.Logger.Printf("notify[%s] %s offer=%s recipient=%s", channel, event.Type, event.Offer.ID, event.Recipient)
	}
	return nil
}
