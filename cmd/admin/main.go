package main

import (
	"context"
	"log"
	"os"

	"qrattendance/internal/auth"
	"qrattendance/internal/config"
	"qrattendance/internal/store"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lshortfile)
	cfg := config.Load()

	var db *store.DB
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	cli := commandLine{
		cfg: cfg,
		out: os.Stdout,
		accounts: func() (auth.AccountStore, error) {
			var err error
			db, err = store.NewDB(context.Background(), cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			return auth.NewRepository(db.Client), nil
		},
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Printf("error: %s", err)
		}
		if db != nil {
			_ = db.Close()
		}
		os.Exit(1)
	}
}
