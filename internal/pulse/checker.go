package pulse

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// CheckResult is the outcome of one reachability check against one address.
type CheckResult struct {
	Target       string    `json:"target"`
	Success      bool      `json:"success"`
	LatencyMs    float64   `json:"latency_ms"`
	PacketLoss   float64   `json:"packet_loss"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Checker executes a reachability check against a target address.
type Checker interface {
	Check(ctx context.Context, target string) (*CheckResult, error)
}

// ICMPChecker pings targets using ICMP echo via pro-bing.
type ICMPChecker struct {
	timeout    time.Duration
	count      int
	privileged bool
}

// NewICMPChecker creates a new ICMP checker with the given timeout and ping count.
func NewICMPChecker(timeout time.Duration, count int) *ICMPChecker {
	return &ICMPChecker{
		timeout: timeout,
		count:   count,
	}
}

// WithPrivileged selects raw ICMP sockets instead of unprivileged datagram
// sockets. Raw sockets need CAP_NET_RAW on Linux.
func (c *ICMPChecker) WithPrivileged(p bool) *ICMPChecker {
	c.privileged = p
	return c
}

// Check pings the target and returns the result.
func (c *ICMPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return nil, fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = c.count
	pinger.Timeout = c.timeout
	pinger.SetPrivileged(c.privileged)
	pinger.SetLogger(probing.NoopLogger{})

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		stats := pinger.Statistics()
		result := &CheckResult{
			Target:    target,
			CheckedAt: time.Now().UTC(),
		}

		if runErr != nil {
			result.ErrorMessage = runErr.Error()
			result.PacketLoss = 1.0
			return result, nil
		}

		result.LatencyMs = float64(stats.AvgRtt) / float64(time.Millisecond)
		result.PacketLoss = stats.PacketLoss / 100.0 // pro-bing returns 0-100
		result.Success = stats.PacketsRecv > 0
		if !result.Success {
			result.ErrorMessage = "all packets lost"
		}
		return result, nil

	case <-ctx.Done():
		pinger.Stop()
		<-done
		return &CheckResult{
			Target:       target,
			PacketLoss:   1.0,
			ErrorMessage: "check cancelled",
			CheckedAt:    time.Now().UTC(),
		}, nil
	}
}

// TCPChecker treats a host as reachable if any of the given ports accepts
// or actively refuses a connection. Both prove the host's stack answered.
type TCPChecker struct {
	ports   []int
	timeout time.Duration
	dialer  net.Dialer
}

// NewTCPChecker creates a TCP connect checker.
func NewTCPChecker(timeout time.Duration, ports ...int) *TCPChecker {
	return &TCPChecker{ports: ports, timeout: timeout}
}

type dialOutcome struct {
	port     int
	answered bool
	err      error
	latency  time.Duration
}

// Check dials every port concurrently and returns on the first answer.
func (c *TCPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	if len(c.ports) == 0 {
		return nil, errors.New("tcp checker has no ports")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan dialOutcome, len(c.ports))
	for _, port := range c.ports {
		go func(port int) {
			start := time.Now()
			conn, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(target, strconv.Itoa(port)))
			o := dialOutcome{port: port, latency: time.Since(start), err: err}
			if err == nil {
				_ = conn.Close()
				o.answered = true
			} else if errors.Is(err, syscall.ECONNREFUSED) {
				o.answered = true
			}
			outcomes <- o
		}(port)
	}

	var lastErr error
	for range c.ports {
		o := <-outcomes
		if o.answered {
			return &CheckResult{
				Target:    net.JoinHostPort(target, strconv.Itoa(o.port)),
				Success:   true,
				LatencyMs: float64(o.latency) / float64(time.Millisecond),
				CheckedAt: time.Now().UTC(),
			}, nil
		}
		lastErr = o.err
	}

	msg := "no port answered"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	return &CheckResult{
		Target:       target,
		PacketLoss:   1.0,
		ErrorMessage: msg,
		CheckedAt:    time.Now().UTC(),
	}, nil
}
