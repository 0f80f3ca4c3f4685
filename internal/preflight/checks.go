package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sys/unix"

	"mediarelay/internal/relay"
)

// CheckRelay verifies that the relay service answers its health endpoint.
func CheckRelay(ctx context.Context, baseURL, apiToken string) Result {
	const name = "Relay service"

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	processor, err := relay.NewHTTPProcessor(baseURL, apiToken, 5*time.Second)
	if err != nil {
		return Result{Name: name, Detail: "missing url"}
	}
	if err := processor.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetworkError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", processor.BaseURL())}
}

// CheckAMQP verifies that the discovery feed broker accepts a connection.
func CheckAMQP(ctx context.Context, url string) Result {
	const name = "Discovery feed"

	url = strings.TrimSpace(url)
	if url == "" {
		return Result{Name: name, Detail: "missing amqp_url"}
	}
	deadline := 5 * time.Second
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial: amqp.DefaultDial(deadline),
	})
	if err != nil {
		return Result{Name: name, Detail: summarizeNetworkError(err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: "Broker reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeNetworkError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (unreachable)"
	}
	return err.Error()
}
