package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

// MaxExcerptChars bounds the response body kept per delivery.
const MaxExcerptChars = 1000

// HTTPDoer is the outbound client; *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Outcome is the result of one HTTP attempt.
type Outcome struct {
	Status   int
	Excerpt  string
	Err      string
	TimedOut bool
	Duration time.Duration
}

// Success reports a completed 2xx response.
func (o Outcome) Success() bool {
	return o.Err == "" && o.Status >= 200 && o.Status < 300
}

// Label is the metrics label for the outcome.
func (o Outcome) Label() string {
	switch {
	case o.Success():
		return "success"
	case o.TimedOut:
		return "timeout"
	case o.Status == 0:
		return "transport_error"
	default:
		return "http_error"
	}
}

func timeoutMessage(d time.Duration) string {
	if d%time.Second == 0 {
		return fmt.Sprintf("timeout after %ds", int(d/time.Second))
	}
	return fmt.Sprintf("timeout after %s", d)
}

// post sends body to url under its own timeout derived from ctx.
func post(ctx context.Context, client HTTPDoer, url string, body []byte, header http.Header, timeout time.Duration) Outcome {
	start := time.Now()
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	failure := func(status int, err error) Outcome {
		o := Outcome{Status: status, Duration: time.Since(start)}
		switch {
		case ctx.Err() != nil:
			o.Err = "dispatch cancelled: " + ctx.Err().Error()
		case errors.Is(dctx.Err(), context.DeadlineExceeded):
			o.Err = timeoutMessage(timeout)
			o.TimedOut = true
		default:
			o.Err = err.Error()
		}
		return o
	}

	req, err := http.NewRequestWithContext(dctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{Err: err.Error(), Duration: time.Since(start)}
	}
	req.Header = header.Clone()
	resp, err := client.Do(req)
	if err != nil {
		return failure(0, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxExcerptChars*utf8.UTFMax))
	if err != nil {
		return failure(resp.StatusCode, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	o := Outcome{Status: resp.StatusCode, Excerpt: excerpt(raw, MaxExcerptChars), Duration: time.Since(start)}
	if !o.Success() {
		o.Err = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return o
}

func excerpt(b []byte, n int) string {
	s := string(b)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
