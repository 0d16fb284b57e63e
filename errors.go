/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// Precondition failures reported back to the initiating device. None of
// these mutate any state.
var (
	errInsufficientPlayers = errors.New("at least 3 players are required to start")
	errIncompleteContent   = errors.New("some challenges are missing a level, kind, or gender")
	errIncompleteCouples   = errors.New("every couple needs exactly two members, one of each gender")
	errLevelRequired       = errors.New("a level must be selected before starting a round")
	errKindRequired        = errors.New("a round kind must be selected when auto mode is off")
	errMatchNeedsPlayers   = errors.New("a match round requires at least 3 players")
	errWrongMode           = errors.New("not allowed in the current game mode")
	errNotOnRoster         = errors.New("answers and votes are accepted only from joined players")
	errNotAdmin            = errors.New("only the game master may do that")
	errWrongCode           = errors.New("wrong access code")
)

// errNoEligibleContent signals content exhaustion. It is an expected
// outcome, not a failure: callers end the round or the auto sequence.
var errNoEligibleContent = errors.New("no unplayed challenge matches the current filters")

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}
