// Package probe implements synchronous reachability checks against network
// endpoints. A probe answers one question, "can we open a TCP connection to
// host:port within the timeout", and is used by provider selection to decide
// between a network-hosted recognizer and its API-hosted fallback.
package probe

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultTimeout bounds a probe when the endpoint does not specify one.
const DefaultTimeout = 3 * time.Second

// Endpoint identifies a TCP endpoint to check. It is constructed from
// configuration at session start and never mutated.
type Endpoint struct {
	Host    string
	Port    int
	Timeout time.Duration
}

// Addr returns the host:port form of the endpoint.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Status classifies the outcome of a probe.
type Status int

const (
	// Reachable means a connection was established within the timeout.
	Reachable Status = iota

	// Unreachable means the connection could not be established: the
	// attempt timed out, was refused, or failed inside the dialer (DNS
	// resolution errors surface here, wrapped in *net.OpError).
	Unreachable

	// Failed means the attempt hit an unexpected error outside the
	// dialer's own failure modes. Callers treat Failed the same as
	// Unreachable.
	Failed
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case Reachable:
		return "reachable"
	case Unreachable:
		return "unreachable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result carries the probe outcome. Err is set for Failed and for the
// Unreachable causes that carry a dial error (refusal, DNS failure); it is
// nil for Reachable and for plain timeouts.
type Result struct {
	Status  Status
	Err     error
	Elapsed time.Duration
}

// Ok reports whether the endpoint accepted a connection.
func (r Result) Ok() bool {
	return r.Status == Reachable
}

// Probe attempts a TCP connection to the endpoint. It blocks for at most the
// endpoint's timeout (DefaultTimeout when unset) and always closes the
// connection before returning. It never panics and never returns a Result
// that would block the caller past the timeout.
func Probe(ep Endpoint) Result {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	start := time.Now()
	conn, err := net.DialTimeout("tcp", ep.Addr(), timeout)
	elapsed := time.Since(start)
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return Result{Status: Unreachable, Elapsed: elapsed}
		}
		if _, ok := err.(*net.OpError); ok {
			// Connection refused, DNS failure, and similar dial errors.
			return Result{Status: Unreachable, Err: err, Elapsed: elapsed}
		}
		return Result{
			Status:  Failed,
			Err:     fmt.Errorf("probe %s: %w", ep.Addr(), err),
			Elapsed: elapsed,
		}
	}
	_ = conn.Close()
	return Result{Status: Reachable, Elapsed: elapsed}
}
