package main

import (
	"strconv"

	"github.com/use-agent/pagefetch/models"
)

const usage = "Usage: pagefetch <URL> <charset> <userAgent> <cookie> <delay> <timeout> <postdata>"

// parseArgs builds the request from the positional arguments. It accepts
// three shapes:
//
//	<url>                                                     GET, body only
//	<url> <charset> <ua> <cookie> <delay> <timeout>            GET, JSON line
//	<url> <charset> <ua> <cookie> <delay> <timeout> <postdata> POST, JSON line
//
// Empty values fall back to defaults. jsonLine reports whether the result is
// printed as a JSON line rather than the bare body.
func parseArgs(args []string) (req *models.FetchRequest, jsonLine bool, err error) {
	switch len(args) {
	case 1, 6, 7:
	default:
		return nil, false, models.UsageError("expected 1, 6 or 7 arguments, got %d", len(args))
	}

	req = &models.FetchRequest{
		URL:                args[0],
		SettleDelayMs:      models.DefaultSettleDelayMs,
		ResourceTimeoutSec: models.DefaultResourceTimeoutSec,
	}
	if len(args) > 1 {
		jsonLine = true
		req.Charset = args[1]
		req.UserAgent = args[2]
		req.Cookie = args[3]
		if req.SettleDelayMs, err = intArg("delay", args[4], models.DefaultSettleDelayMs); err != nil {
			return nil, false, err
		}
		if req.ResourceTimeoutSec, err = intArg("timeout", args[5], models.DefaultResourceTimeoutSec); err != nil {
			return nil, false, err
		}
	}
	if len(args) == 7 {
		req.Method = models.MethodPost
		body := args[6]
		req.Body = &body
	}

	req.Defaults()
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	return req, jsonLine, nil
}

func intArg(name, s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, models.UsageError("%s %q is not an integer", name, s)
	}
	return n, nil
}
