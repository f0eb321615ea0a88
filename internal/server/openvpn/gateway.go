package openvpn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kamikazebr/ovpn-sync/internal/server/metrics"
	"github.com/kamikazebr/ovpn-sync/pkg/models"
)

const DefaultTimeout = 20 * time.Second

// Gateway is the sacli adapter: the only component that crosses the
// process boundary to the Access Server.
type Gateway struct {
	runner  Runner
	timeout time.Duration
}

func NewGateway(runner Runner, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{runner: runner, timeout: timeout}
}

// run executes one sacli command under the per-call timeout.
func (g *Gateway) run(ctx context.Context, op, username string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	out, err := g.runner.Run(ctx, args...)
	timer.ObserveDurationVec(metrics.GatewayCommandDuration, op)

	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues(op).Inc()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", g.timeout, err)
		}
		return nil, &GatewayError{Op: op, Username: username, Err: err}
	}
	return out, nil
}

// ListAccounts returns every VPN account with its properties.
func (g *Gateway) ListAccounts(ctx context.Context) (map[string]map[string]string, error) {
	out, err := g.run(ctx, "UserPropGet", "", "UserPropGet")
	if err != nil {
		return nil, err
	}

	accounts, err := ParseUserProps(out)
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues("UserPropGet").Inc()
		return nil, &GatewayError{Op: "UserPropGet", Err: err}
	}
	return accounts, nil
}

// AccountExists reports whether username exists. A missing user is not an error.
func (g *Gateway) AccountExists(ctx context.Context, username string) (bool, error) {
	accounts, err := g.ListAccounts(ctx)
	if err != nil {
		return false, err
	}
	_, ok := accounts[username]
	return ok, nil
}

// CreateAccount creates a connect-capable account with a local password.
// Calling it twice for the same user resets the password.
func (g *Gateway) CreateAccount(ctx context.Context, username, tempPassword string) error {
	out, err := g.run(ctx, "UserPropPut", username,
		"--user", username, "--key", models.PropType, "--value", models.AccountTypeUserConnect, "UserPropPut")
	if err != nil {
		return err
	}
	if err := ValidateConfirmation(out); err != nil {
		return &GatewayError{Op: "UserPropPut", Username: username, Err: err}
	}

	out, err = g.run(ctx, "SetLocalPassword", username,
		"--user", username, "--new_pass", tempPassword, "SetLocalPassword")
	if err != nil {
		return err
	}
	if err := ValidateConfirmation(out); err != nil {
		return &GatewayError{Op: "SetLocalPassword", Username: username, Err: err}
	}
	return nil
}

// SetProperty writes one string property on an account.
func (g *Gateway) SetProperty(ctx context.Context, username, key, value string) error {
	out, err := g.run(ctx, "UserPropPut", username,
		"--user", username, "--key", key, "--value", value, "UserPropPut")
	if err != nil {
		return err
	}
	if err := ValidateConfirmation(out); err != nil {
		return &GatewayError{Op: "UserPropPut", Username: username, Err: err}
	}
	return nil
}

// DeleteAccount removes an account. Deleting a missing account succeeds.
func (g *Gateway) DeleteAccount(ctx context.Context, username string) error {
	exists, err := g.AccountExists(ctx, username)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return g.PurgeAccount(ctx, username)
}

// PurgeAccount removes an account the caller already knows exists, skipping
// the account listing DeleteAccount does first.
func (g *Gateway) PurgeAccount(ctx context.Context, username string) error {
	out, err := g.run(ctx, "UserPropDelAll", username, "--user", username, "UserPropDelAll")
	if err != nil {
		return err
	}
	if err := ValidateConfirmation(out); err != nil {
		return &GatewayError{Op: "UserPropDelAll", Username: username, Err: err}
	}
	return nil
}

// ListLiveConnections returns the currently connected clients.
func (g *Gateway) ListLiveConnections(ctx context.Context) ([]models.LiveConnection, error) {
	out, err := g.run(ctx, "VPNStatus", "", "VPNStatus")
	if err != nil {
		return nil, err
	}

	conns, err := ParseVPNStatus(out)
	if err != nil {
		metrics.GatewayErrorsTotal.WithLabelValues("VPNStatus").Inc()
		return nil, &GatewayError{Op: "VPNStatus", Err: err}
	}
	return conns, nil
}
