package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/karstlab/sampled"
	"github.com/karstlab/sampled/internal/sessiondb"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}
	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("verbose", false)
	viper.SetDefault("datadir", "$HOME/sampled-data")
	viper.SetDefault("usedb", false)

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotSampled := filepath.Join(home, ".sampled")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotSampled, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/sampled"))
	viper.AddConfigPath(dotSampled)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Could not open log file '%s'", pfname))
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

// sourceConfig is the per-source section of the yaml config file.
type sourceConfig struct {
	Kind       string         `mapstructure:"kind"` // counter | sine | burst
	IntervalS  float64        `mapstructure:"interval"`
	Parameters map[string]any `mapstructure:"parameters"`
}

// buildSource constructs the simulated source a config section asks for.
// Hardware sources register themselves here as they are ported.
func buildSource(name string, sc sourceConfig) (sampled.Source, error) {
	switch strings.ToLower(sc.Kind) {
	case "counter", "":
		return sampled.NewCounterSource(name), nil
	case "sine":
		amplitude := 1.0
		if a, ok := sc.Parameters["amplitude"]; ok {
			if f, ok := a.(float64); ok {
				amplitude = f
			}
		}
		return sampled.NewSineSource(name, 10*time.Second, amplitude), nil
	case "burst":
		return sampled.NewBurstSource(name, 100), nil
	}
	return nil, fmt.Errorf("source %q has unknown kind %q", name, sc.Kind)
}

func main() {
	sampled.Build.Githash = githash
	sampled.Build.Date = buildDate
	sampled.Build.Summary = fmt.Sprintf("SAMPLED version %s (git commit %s)", sampled.Build.Version, githash)
	if host, err := os.Hostname(); err == nil {
		sampled.Build.Host = host
	} else {
		sampled.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	pingDB := flag.Bool("pingdb", false, "check the database connection and quit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is SAMPLED version %s\n", sampled.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}
	if *pingDB {
		if err := sessiondb.PingServer(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	fmt.Printf("\nThis is SAMPLED version %s (git commit %s)\n", sampled.Build.Version, githash)

	// Log problems to a rotating file under ~/.sampled/logs.
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(home, ".sampled", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	sampled.ProblemLogger = startLogger(problemname)
	fmt.Printf("Logging problems to %s\n\n", problemname)

	if err := setupViper(); err != nil {
		panic(err)
	}

	var sources map[string]sourceConfig
	if err := viper.UnmarshalKey("sources", &sources); err != nil {
		panic(fmt.Sprintf("cannot parse sources section of config: %v", err))
	}
	if len(sources) == 0 {
		// First run, probably: record something rather than nothing.
		sources = map[string]sourceConfig{
			"counter": {Kind: "counter", IntervalS: 1.0},
		}
	}
	if viper.GetBool("verbose") {
		fmt.Printf("Configured sources:\n%s", spew.Sdump(sources))
	}

	events := sampled.NewEventBus()
	orch := sampled.NewOrchestrator(events)
	for name, sc := range sources {
		src, err := buildSource(name, sc)
		if err != nil {
			panic(err)
		}
		cfg := sampled.SamplerConfig{
			Interval:   time.Duration(sc.IntervalS * float64(time.Second)),
			Parameters: sc.Parameters,
		}
		if _, err := orch.Register(src, cfg); err != nil {
			panic(err)
		}
	}

	datadir := strings.Replace(viper.GetString("datadir"), "$HOME", home, 1)
	if _, err := orch.WriteSessionMetadata(datadir); err != nil {
		panic(err)
	}

	// Optional ClickHouse recording of samples and events.
	abortDB := make(chan struct{})
	db := sessiondb.Dummy()
	sessionID := sessiondb.NewID()
	if viper.GetBool("usedb") {
		db = sessiondb.Start(&sessiondb.SessionMessage{
			ID:        sessionID,
			Hostname:  sampled.Build.Host,
			Version:   sampled.Build.Version,
			Githash:   githash,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
			Start:     sampled.SampledStartTime,
		}, abortDB)
		go sampled.RecordEvents(db, sessionID, events.Subscribe())
	}

	// One CSV recorder per source, plus an NPY recorder for burst sources.
	var recorders []*sampled.Recorder
	for _, name := range orch.Names() {
		s := orch.Sampler(name)
		csvw, err := sampled.NewCSVWriter(filepath.Join(datadir, name+".tsv"), []string{"value"}, "\t")
		if err != nil {
			panic(err)
		}
		rec, err := sampled.NewRecorder(s, "file-"+name, csvw, sampled.SubscribeOptions{})
		if err != nil {
			panic(err)
		}
		recorders = append(recorders, rec)

		if sources[name].Kind == "burst" {
			npyw, err := sampled.NewNPYWriter(filepath.Join(datadir, name+"_bursts"), name)
			if err != nil {
				panic(err)
			}
			nrec, err := sampled.NewRecorder(s, "npy-"+name, npyw, sampled.SubscribeOptions{})
			if err != nil {
				panic(err)
			}
			recorders = append(recorders, nrec)
		}

		if viper.GetBool("usedb") {
			drec, err := sampled.NewRecorder(s, "db-"+name, sampled.NewDBWriter(db, sessionID), sampled.SubscribeOptions{})
			if err != nil {
				panic(err)
			}
			recorders = append(recorders, drec)
		}
	}

	// Status socket: periodic status plus every bus event.
	messageChan := make(chan sampled.ClientUpdate)
	go func() {
		if err := sampled.RunClientUpdater(messageChan, sampled.Ports.Status); err != nil {
			sampled.ProblemLogger.Printf("client updater failed: %v", err)
		}
	}()
	go sampled.ForwardEvents(events.Subscribe(), messageChan)

	if err := orch.StartAll(); err != nil {
		sampled.ProblemLogger.Printf("some sources failed to start: %v", err)
		fmt.Printf("some sources failed to start: %v\n", err)
	}

	// Clean shutdown on SIGINT/SIGTERM: stop sampling, let the recorders
	// drain, then close the shared resources.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		fmt.Println("\nStopping all sources.")
		if err := orch.StopAll(); err != nil {
			sampled.ProblemLogger.Printf("stop: %v", err)
		}
		for _, rec := range recorders {
			if err := rec.Close(); err != nil {
				sampled.ProblemLogger.Printf("recorder close: %v", err)
			}
		}
		events.Close()
		close(abortDB)
		db.Wait()
		os.Exit(0)
	}()

	if err := sampled.RunRPCServer(orch, messageChan, sampled.Ports.RPC); err != nil {
		log.Fatal(err)
	}
}
