package loop

import (
	"fmt"
	"strings"
	"time"

	domerr "github.com/opst/mlserve/pkg/domain/errors"
)

// Policy decides what to do after a run.
type Policy interface {
	Next(err error) Next
	String() string
}

// ParsePolicy parses "once" or "forever[:INTERVAL]".
func ParsePolicy(s string) (Policy, error) {
	typ, param, ok := strings.Cut(s, ":")
	switch typ {
	case "once":
		if ok {
			return nil, fmt.Errorf("once policy does not take parameters: %s", s)
		}
		return Once(), nil
	case "forever":
		if !ok || param == "" {
			return Forever(0), nil
		}
		interval, err := time.ParseDuration(param)
		if err != nil {
			return nil, fmt.Errorf(`failed to parse: %s as "forever:INTERVAL": %w`, s, err)
		}
		if interval < 0 {
			return nil, fmt.Errorf("interval should not be negative: %s", s)
		}
		return Forever(interval), nil
	}
	return nil, fmt.Errorf("unknown policy name: %s (should be one of -- once|forever)", typ)
}

// Once breaks after the first run.
func Once() Policy {
	return once{}
}

type once struct{}

func (once) String() string { return "once" }

func (once) Next(err error) Next {
	return Break(err)
}

// Forever runs again after interval, even if the run has failed.
func Forever(interval time.Duration) Policy {
	return forever(interval)
}

type forever time.Duration

func (f forever) String() string {
	return fmt.Sprintf("forever:%s", time.Duration(f))
}

func (f forever) Next(error) Next {
	return Continue(time.Duration(f))
}

// UntilFatal breaks with the error when it cannot be solved by retrying.
func UntilFatal(p Policy) Policy {
	return untilFatal{base: p}
}

type untilFatal struct {
	base Policy
}

func (u untilFatal) String() string {
	return fmt.Sprintf("%s (until fatal error)", u.base)
}

func (u untilFatal) Next(err error) Next {
	if domerr.Fatal(err) {
		return Break(err)
	}
	return u.base.Next(err)
}
