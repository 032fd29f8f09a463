// Command canonicalizer is a stand-alone stdin/stdout line rewriter, run as
// a supervised child process of the ingestor binary.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"crossspread-md-ingest/internal/canon"
	"crossspread-md-ingest/internal/canonproc"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	canon.Init(context.Background(), nil)

	if err := canonproc.Run(os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("canonicalizer exited")
	}
}
