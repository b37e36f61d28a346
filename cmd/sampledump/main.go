// Sampledump subscribes to a running sampled daemon's status socket and
// prints every message: periodic STATUS snapshots and EVENT reports. Handy
// for watching a session without a full console.
package main

import (
	"flag"
	"fmt"
	"log"

	zmq "github.com/pebbe/zmq4"

	"github.com/karstlab/sampled"
)

func main() {
	host := flag.String("host", "localhost", "host running the sampled daemon")
	port := flag.Int("port", sampled.Ports.Status, "status port to subscribe to")
	filter := flag.String("filter", "", "subscription filter (e.g. EVENT); empty means everything")
	flag.Parse()

	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		log.Fatal(err)
	}
	defer sub.Close()
	if err := sub.Connect(fmt.Sprintf("tcp://%s:%d", *host, *port)); err != nil {
		log.Fatal(err)
	}
	if err := sub.SetSubscribe(*filter); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Subscribed to tcp://%s:%d with filter %q\n", *host, *port, *filter)

	for {
		msg, err := sub.RecvMessage(0)
		if err != nil {
			log.Fatal(err)
		}
		if len(msg) >= 2 {
			fmt.Printf("%-8s %s\n", msg[0], msg[1])
		} else {
			fmt.Printf("%v\n", msg)
		}
	}
}
