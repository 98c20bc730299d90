// Package secrets loads credentials and escalation contacts at startup.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

// Secret names.
const (
	SlackBotToken         = "slack_app_bot_token"
	DevOpsManagerPhone    = "devops_manager_phone"
	DirectorPhone         = "director_phone"
	DevOpsManagerNickname = "devops_manager_nickname"
	DirectorNickname      = "director_nickname"
)

// Names lists every secret the service reads.
var Names = []string{
	SlackBotToken,
	DevOpsManagerPhone,
	DirectorPhone,
	DevOpsManagerNickname,
	DirectorNickname,
}

// ErrNotFound is returned when a source has no value for a secret.
var ErrNotFound = errors.New("secret not found")

// Source fetches a named secret.
type Source interface {
	Get(ctx context.Context, name string) (string, error)
}

// Secrets holds the resolved values.
type Secrets map[string]string

// Load fetches all names from src. Missing required names fail the load;
// other missing names are left empty.
func Load(ctx context.Context, src Source, names []string, required ...string) (Secrets, error) {
	req := make(map[string]bool, len(required))
	for _, r := range required {
		req[r] = true
	}

	out := make(Secrets, len(names))
	var errs []error
	for _, name := range names {
		v, err := src.Get(ctx, name)
		switch {
		case err == nil:
			out[name] = v
		case errors.Is(err, ErrNotFound) && !req[name]:
			out[name] = ""
		default:
			errs = append(errs, fmt.Errorf("secret %s: %w", name, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
