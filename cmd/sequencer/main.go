package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"

	"github.com/ultracold-lab/sequencer/apparatus"
	"github.com/ultracold-lab/sequencer/eventbuf"
	"github.com/ultracold-lab/sequencer/httpseq"
	"github.com/ultracold-lab/sequencer/link"
	"github.com/ultracold-lab/sequencer/output"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "sequencer.yml"
	k              = koanf.New(".")
)

// Config is the whole program configuration
type Config struct {
	Link      link.Config      `koanf:"Link" yaml:"Link"`
	Apparatus apparatus.Config `koanf:"Apparatus" yaml:"Apparatus"`

	// InvertAnalog negates every analog value, for inverting servo electronics
	InvertAnalog bool `koanf:"InvertAnalog" yaml:"InvertAnalog"`

	// HTTPAddr is where serve listens
	HTTPAddr string `koanf:"HTTPAddr" yaml:"HTTPAddr"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Link:      link.DefaultConfig(),
		Apparatus: apparatus.DefaultConfig(),
		HTTPAddr:  ":8000"}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func loadconfig() Config {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `sequencer compiles timed experiment sequences and runs them on the
real-time executor.

Usage:
	sequencer <command>

Commands:
	run
	rerun
	compile
	dump
	serve
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `sequencer is amenable to configuration via its .yml file.  For a primer on YAML, see
https://yaml.org/start.html

Use mkconf to write the defaults to sequencer.yml, then edit it.

run      waits for the executor to connect, compiles the example shot, sends it,
         and waits for it to finish
rerun    sends the last run again, from LastRunPath if this is a new process
compile  compiles the example shot without an executor and prints the records
dump     prints the records of the run stored at LastRunPath
serve    connects, applies the line defaults, and serves the HTTP interface
         at HTTPAddr for idle writes, reruns, and stops

Link.Local announces to AnnounceAddr (the executor on this machine);
otherwise the announcement goes to MulticastGroup.  Times are in seconds.

Apparatus.Lines maps a name to a digital Connector (0-3) and Pin (0-31).
Apparatus.AnalogLines maps a name to a Board (0-1) and Channel (0-7).`
	fmt.Println(str)
}

func mkconf() {
	c := loadconfig()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconfig()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("sequencer version %v\n", Version)
}

func spinner(msg string) *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " ",
		Message:           msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	return s
}

// connect builds a session and waits for the executor
func connect(c Config) *link.Session {
	s := link.New(c.Link)
	sp := spinner("waiting for the executor")
	sp.Start()
	if err := s.Connect(); err != nil {
		sp.StopFail()
		log.Fatal(err)
	}
	sp.Stop()
	return s
}

// wait blocks on f behind a spinner
func wait(msg string, f func() (link.RunInfo, error)) link.RunInfo {
	sp := spinner(msg)
	sp.Start()
	info, err := f()
	if err != nil {
		sp.StopFailMessage(err.Error())
		sp.StopFail()
		log.Fatal(err)
	}
	sp.StopMessage(fmt.Sprintf("run %s took %.6f s", info.ID, info.Runtime))
	sp.Stop()
	return info
}

func compileExperiment(sink output.Sink, c Config) (float64, error) {
	app, err := apparatus.New(output.New(sink, c.InvertAnalog), c.Apparatus)
	if err != nil {
		return 0, err
	}
	e, err := NewExperiment(app)
	if err != nil {
		return 0, err
	}
	return e.Main(0)
}

func run() {
	c := loadconfig()
	s := connect(c)
	defer s.Disconnect()
	if err := s.BuildSequence(); err != nil {
		log.Fatal(err)
	}
	end, err := compileExperiment(s, c)
	if err != nil {
		s.ClearSequence()
		log.Fatal(err)
	}
	log.Printf("compiled %d records ending at %.6f s\n", s.Pending(), end)
	wait("running", s.RunSequence)
}

func rerun() {
	c := loadconfig()
	s := connect(c)
	defer s.Disconnect()
	wait("running", s.RerunLastSequence)
}

func printRecords(recs []eventbuf.Record) {
	for _, r := range recs {
		fmt.Println(r)
	}
}

func compile() {
	c := loadconfig()
	rec := output.NewRecorder()
	end, err := compileExperiment(rec, c)
	if err != nil {
		log.Fatal(err)
	}
	recs, err := rec.Records()
	if err != nil {
		log.Fatal(err)
	}
	printRecords(recs)
	log.Printf("%d records ending at %.6f s\n", len(recs), end)
}

func dump() {
	c := loadconfig()
	last, err := link.ReadLastRun(c.Link.LastRunPath)
	if err != nil {
		log.Fatal(err)
	}
	cycles, p, err := link.SplitRunPayload(last.Payload)
	if err != nil {
		log.Fatal(err)
	}
	recs, err := eventbuf.Decode(p)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("run %s, %d cycle(s), %d records\n", last.ID, cycles, len(recs))
	printRecords(recs)
}

func serve() {
	c := loadconfig()
	s := connect(c)
	defer s.Disconnect()
	app, err := apparatus.New(output.New(s, c.InvertAnalog), c.Apparatus)
	if err != nil {
		log.Fatal(err)
	}
	if err := app.ApplyDefaults(0); err != nil {
		log.Fatal(err)
	}
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount("/", httpseq.New(s, app).Router())
	log.Println("now listening for requests at ", c.HTTPAddr)
	log.Fatal(http.ListenAndServe(c.HTTPAddr, root))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "rerun":
		rerun()
		return
	case "compile":
		compile()
		return
	case "dump":
		dump()
		return
	case "serve":
		serve()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
