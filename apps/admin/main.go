package main

import (
	"fmt"
	"os"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/services/logger"
	"github.com/trezcool/backoffice/storage/database"
)

func main() {
	conf, err := core.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logsvc.NewStdLogger(conf).WithField("app", "admin")

	// start CLI
	cli := commandLine{conf: conf}
	err = cli.run(os.Args)
	if cli.db != nil {
		if cerr := database.Close(cli.db); cerr != nil {
			logger.WithError(cerr).Error("closing database")
		}
	}
	if err != nil {
		if err != errHelp {
			logger.WithError(err).Error("command failed")
		}
		os.Exit(1)
	}
}
