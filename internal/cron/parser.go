// Package cron validates job cron expressions and drives scheduler runs on
// them with robfig/cron.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 10m". Expressions are evaluated in one location,
// shared with the Trigger built from the parser.
type Parser struct {
	parser cron.Parser
	loc    *time.Location
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    time.UTC,
	}
}

// InLocation evaluates expressions in loc. nil keeps UTC.
func (p *Parser) InLocation(loc *time.Location) *Parser {
	if loc != nil {
		p.loc = loc
	}
	return p
}

// Validate reports whether expression parses.
func (p *Parser) Validate(expression string) error {
	if _, err := p.parser.Parse(expression); err != nil {
		return fmt.Errorf("parse cron %q: %w", expression, err)
	}
	return nil
}

// NextRun returns the first fire time of expression strictly after after.
func (p *Parser) NextRun(expression string, after time.Time) (time.Time, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", expression, err)
	}
	return sched.Next(after.In(p.loc)), nil
}
