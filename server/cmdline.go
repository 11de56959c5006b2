package server

import (
	"fmt"

	"github.com/alexflint/go-arg"
	"gopkg.in/yaml.v2"

	"github.com/dbpoll/dbpoll"
)

// Options are the command line options. Env vars are used if an option is
// not given on the command line.
type Options struct {
	BootCheck      bool     `arg:"--boot-check"`
	Config         string   `env:"DBPOLL_CONFIG"`
	Categories     string   `env:"DBPOLL_CATEGORIES"`
	Debug          bool     `env:"DBPOLL_DEBUG"`
	EnvFile        []string `arg:"--env-file,separate"`
	Help           bool
	Log            bool `env:"DBPOLL_LOG"`
	PrintConfig    bool `arg:"--print-config"`
	PrintInstances bool `arg:"--print-instances"`
	Version        bool `arg:"-v"`
}

type CommandLine struct {
	Options
	Args []string `arg:"positional"`
}

// ParseCommandLine parses the command line and env vars. Command line options
// override env vars.
func ParseCommandLine(args []string) (CommandLine, error) {
	var c CommandLine
	p, err := arg.NewParser(arg.Config{Program: "dbpoll"}, &c)
	if err != nil {
		return c, err
	}
	if err := p.Parse(args); err != nil {
		switch err {
		case arg.ErrHelp:
			c.Help = true
		case arg.ErrVersion:
			c.Version = true
		default:
			return c, fmt.Errorf("Error parsing command line: %s\n", err)
		}
	}
	return c, nil
}

func printHelp() {
	fmt.Printf("Usage:\n"+
		"  dbpoll [options]\n\n"+
		"Options:\n"+
		"  --boot-check       Boot then exit\n"+
		"  --categories       Metric categories file (default: %s)\n"+
		"  --config           Config file (default: %s)\n"+
		"  --debug            Print debug to stderr\n"+
		"  --env-file         Load env vars from file (repeatable)\n"+
		"  --help             Print help\n"+
		"  --log              Print all events to stdout\n"+
		"  --print-config     Print config (passwords redacted)\n"+
		"  --print-instances  Print instances\n"+
		"  --version          Print version\n"+
		"\n"+
		"dbpoll %s\n",
		dbpoll.DEFAULT_CATEGORIES_FILE, dbpoll.DEFAULT_CONFIG_FILE, dbpoll.VERSION,
	)
}

func printYAML(v interface{}) {
	bytes, err := yaml.Marshal(v)
	if err != nil {
		fmt.Println(err)
	}
	fmt.Println(string(bytes))
}
