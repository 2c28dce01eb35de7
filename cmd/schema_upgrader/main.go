package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"

	"github.com/youta-t/flarc"

	kpg "github.com/opst/mlserve/pkg/db/postgres"
	"github.com/opst/mlserve/pkg/utils/try"
)

type Flag struct {
	Host     string `flag:"host" help:"The host of the database."`
	Port     int    `flag:"port" help:"The port of the database."`
	User     string `flag:"user" help:"The user of the database."`
	Password string `flag:"pass" help:"The password of the database."`
	Database string `flag:"database" help:"The name of the database."`

	Schema string `flag:"schema" help:"The path to the schema repository directory."`
	Check  bool   `flag:"check" help:"Print the current schema version without upgrading."`
}

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt, os.Kill,
	)
	defer cancel()

	port := 5432
	if sp := os.Getenv("DB_PORT"); sp != "" {
		p, err := strconv.Atoi(sp)
		if err == nil {
			port = p
		}
	}

	cmd := try.To(flarc.NewCommand(
		"database schema upgrader of mlserve",
		Flag{
			Host:     os.Getenv("DB_HOST"),
			Port:     port,
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: os.Getenv("DB_NAME"),
			Schema:   os.Getenv("MLSERVE_SCHEMA"),
		},
		flarc.Args{},
		func(ctx context.Context, c flarc.Commandline[Flag], _ []any) error {
			flags := c.Flags()
			dburl := url.URL{
				Scheme: "postgres",
				User:   url.UserPassword(flags.User, flags.Password),
				Host:   fmt.Sprintf("%s:%d", flags.Host, flags.Port),
				Path:   flags.Database,
			}

			db, err := kpg.New(
				ctx, dburl.String(),
				kpg.WithSchemaRepository(flags.Schema),
				kpg.WithRetry(kpg.DefaultBackoff()),
			)
			if err != nil {
				return err
			}
			defer db.Close()

			schema := db.Schema()
			if schema == nil {
				return fmt.Errorf("schema repository is not given")
			}

			if flags.Check {
				v, err := schema.Version(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(c.Stdout(), v)
				return err
			}

			applied, err := schema.Upgrade(ctx)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				logger.Println("schema is up to date.")
			}
			for _, v := range applied {
				logger.Printf("schema version %d is applied.", v)
			}
			return nil
		},
	)).OrFatal(logger)

	os.Exit(flarc.Run(ctx, cmd))
}
