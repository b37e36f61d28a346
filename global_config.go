package sampled

import (
	"log"
	"os"
	"time"
)

// Portnumbers structs can contain all TCP port numbers used by Sampled.
type Portnumbers struct {
	RPC    int
	Status int
}

// Ports globally holds all TCP port numbers used by Sampled.
var Ports Portnumbers

func setPortnumbers(base int) {
	Ports.RPC = base
	Ports.Status = base + 1
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Summary string
	Host    string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.1.4",
	Githash: "no git hash computed",
	Date:    "no build date computed",
}

// SampledStartTime is a global holding the time init() was run
var SampledStartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

func init() {
	setPortnumbers(5650)
	SampledStartTime = time.Now()

	// Sampled main program will override this, but at least initialize with a sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
}
