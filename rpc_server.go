package sampled

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// SamplerControl is the JSON-RPC service through which a console drives a
// recording session. Its methods run on the RPC connection's goroutine, never
// inside a sampler's timing loop.
type SamplerControl struct {
	orch          *Orchestrator
	clientUpdates chan<- ClientUpdate
}

// NewSamplerControl wraps an orchestrator for RPC exposure.
func NewSamplerControl(orch *Orchestrator, updates chan<- ClientUpdate) *SamplerControl {
	return &SamplerControl{orch: orch, clientUpdates: updates}
}

// StartAll starts every registered sampler.
func (sc *SamplerControl) StartAll(dummy *string, reply *bool) error {
	log.Printf("StartAll: %d sources\n", len(sc.orch.Names()))
	err := sc.orch.StartAll()
	*reply = (err == nil)
	sc.broadcastStatus()
	return err
}

// StopAll stops every sampler and waits for their loops to join.
func (sc *SamplerControl) StopAll(dummy *string, reply *bool) error {
	log.Printf("StopAll\n")
	err := sc.orch.StopAll()
	*reply = (err == nil)
	sc.broadcastStatus()
	return err
}

// Pause suspends reading on one source, or on all sources when the name is
// empty.
func (sc *SamplerControl) Pause(sourceName *string, reply *bool) error {
	if *sourceName == "" {
		sc.orch.PauseAll()
		*reply = true
		return nil
	}
	s := sc.orch.Sampler(*sourceName)
	if s == nil {
		return fmt.Errorf("no source named %q", *sourceName)
	}
	if !s.Running() {
		return fmt.Errorf("source %s: %w", *sourceName, ErrNotRunning)
	}
	s.Pause()
	*reply = true
	return nil
}

// Resume re-enables reading on one source, or on all when the name is empty.
func (sc *SamplerControl) Resume(sourceName *string, reply *bool) error {
	if *sourceName == "" {
		sc.orch.ResumeAll()
		*reply = true
		return nil
	}
	s := sc.orch.Sampler(*sourceName)
	if s == nil {
		return fmt.Errorf("no source named %q", *sourceName)
	}
	if !s.Running() {
		return fmt.Errorf("source %s: %w", *sourceName, ErrNotRunning)
	}
	s.Resume()
	*reply = true
	return nil
}

// PropertyArgs carries one property write: a dotted path like
// "pressure.interval" and the new value.
type PropertyArgs struct {
	Path  string
	Value any
}

// SetProperty dispatches a property write through the controllable-property
// table.
func (sc *SamplerControl) SetProperty(args *PropertyArgs, reply *bool) error {
	log.Printf("SetProperty: %s = %v\n", args.Path, args.Value)
	err := sc.orch.SetProperty(args.Path, args.Value)
	*reply = (err == nil)
	return err
}

// Properties returns the controllable-property table so a console can build
// its command map.
func (sc *SamplerControl) Properties(dummy *string, reply *[]ControllableProperty) error {
	*reply = sc.orch.Properties()
	return nil
}

// Status returns a snapshot of the session.
func (sc *SamplerControl) Status(dummy *string, reply *Status) error {
	*reply = sc.orch.Status()
	return nil
}

// SendAllStatus causes a broadcast to clients containing all broadcastable
// status info.
func (sc *SamplerControl) SendAllStatus(dummy *string, reply *bool) error {
	sc.broadcastStatus()
	*reply = true
	return nil
}

func (sc *SamplerControl) broadcastStatus() {
	if sc.clientUpdates != nil {
		sc.clientUpdates <- ClientUpdate{Tag: "STATUS", State: sc.orch.Status()}
	}
}

// RunRPCServer sets up and runs a permanent JSON-RPC server for the session.
// It blocks; run it on its own goroutine. Status is also broadcast on the
// update channel every 2 seconds.
func RunRPCServer(orch *Orchestrator, messageChan chan<- ClientUpdate, portrpc int) error {
	control := NewSamplerControl(orch, messageChan)

	go func() {
		for range time.Tick(2 * time.Second) {
			control.broadcastStatus()
		}
	}()

	server := rpc.NewServer()
	if err := server.Register(control); err != nil {
		return err
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("accept error: %w", err)
		}
		log.Printf("new control connection established\n")
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
