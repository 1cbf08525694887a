package eventlogger

import (
	"github.com/sirupsen/logrus"

	"github.com/guardline/promptsentry/pkg/bus"
	"github.com/guardline/promptsentry/pkg/event"
)

// EventLogger subscribes to all event types and logs them using logrus
type EventLogger struct {
	eventBus bus.EventBus
}

func New(eventBus bus.EventBus) (*EventLogger, error) {
	el := &EventLogger{
		eventBus: eventBus,
	}

	if err := el.eventBus.Subscribe(event.EventTypeSecurityAlert, el.logEvent); err != nil {
		return nil, err
	}
	if err := el.eventBus.Subscribe(event.EventTypeSessionTerminated, el.logEvent); err != nil {
		el.Close()
		return nil, err
	}

	return el, nil
}

func (el *EventLogger) logEvent(e event.Event) {
	switch evt := e.(type) {
	case *event.SecurityAlertEvent:
		logrus.WithFields(evt.LogFields()).Trace("Security alert event")

	case *event.SessionTerminatedEvent:
		logrus.WithFields(evt.LogFields()).Trace("Session terminated event")
	}
}

func (el *EventLogger) Close() {
	el.eventBus.Unsubscribe(event.EventTypeSecurityAlert, el.logEvent)
	el.eventBus.Unsubscribe(event.EventTypeSessionTerminated, el.logEvent)
}
