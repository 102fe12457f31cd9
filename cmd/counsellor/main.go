// Command counsellor runs the journaling API server and its maintenance
// subcommands.
package main

//	@title						Counsellor API
//	@version					0.1.0
//	@description				Private therapy journaling API.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: "Bearer {token}"

import (
	"errors"
	"flag"
	"fmt"
	"os"

	_ "github.com/HerbHall/counsellor/api/swagger"
	"github.com/HerbHall/counsellor/internal/config"
	"github.com/HerbHall/counsellor/internal/version"
	"github.com/spf13/viper"
)

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"serve", "run the API server (default)", runServe},
	{"backup", "archive the database and config file", runBackup},
	{"restore", "restore a backup archive", runRestore},
	{"version", "print version information", func([]string) error {
		fmt.Println(version.String())
		return nil
	}},
}

func main() {
	name, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		name, args = args[0], args[1:]
	}

	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(args)
		switch {
		case err == nil, errors.Is(err, flag.ErrHelp):
			return
		default:
			fmt.Fprintf(os.Stderr, "counsellor %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	fmt.Fprintf(os.Stderr, "counsellor: unknown command %q\n\nCommands:\n", name)
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
	os.Exit(2)
}

// loadConfig reads the layered configuration rooted at path.
func loadConfig(path string) (*viper.Viper, *config.Config, error) {
	v, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}
