package sampled

// Contains the client updater, which publishes JSON-encoded messages giving
// the latest session state over a ZMQ PUB socket. Viewers, plotters and
// consoles subscribe at their own cadence; a slow subscriber only loses its
// own messages.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries one message to be published on the status port: a
// routing tag (subscribers filter on it) and any JSON-serializable state.
type ClientUpdate struct {
	Tag   string
	State any
}

// RunClientUpdater forwards messages from its input channel to the ZMQ
// publisher socket. It exits when the channel is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int) error {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(fmt.Sprintf("tcp://*:%d", portstatus)); err != nil {
		return err
	}

	for update := range messages {
		body, err := json.Marshal(update.State)
		if err != nil {
			ProblemLogger.Printf("cannot marshal %q update: %v", update.Tag, err)
			continue
		}
		if _, err := pubSocket.SendMessage(update.Tag, body); err != nil {
			ProblemLogger.Printf("cannot publish %q update: %v", update.Tag, err)
		}
	}
	return nil
}

// ForwardEvents republishes every bus event as an "EVENT"-tagged client
// update. It exits when the subscription closes (bus shutdown).
func ForwardEvents(events <-chan Event, messages chan<- ClientUpdate) {
	for e := range events {
		messages <- ClientUpdate{Tag: "EVENT", State: e}
	}
}
