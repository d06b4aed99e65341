//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"fmt"
	"os"
	"os/user"

	"github.com/google/uuid"

	"github.com/oshokin/alarm-processor/internal/repository/journal"
)

// Producer header names.
const (
	HeaderHost     = "host"
	HeaderUser     = "user"
	HeaderApp      = "app"
	HeaderRecordID = "id"
)

// Actor identifies the process writing journal records.
type Actor struct {
	Hostname string
	Username string
	App      string
}

// DetectActor gathers host and user information for the audit trail.
func DetectActor(app string) (*Actor, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}

	currentUser, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return &Actor{
		Hostname: hostname,
		Username: currentUser.Username,
		App:      app,
	}, nil
}

// Headers returns a header source for journal.WithHeaders. Every call yields
// a fresh record id.
func (a *Actor) Headers() func() journal.Headers {
	return func() journal.Headers {
		return journal.Headers{
			HeaderHost:     a.Hostname,
			HeaderUser:     a.Username,
			HeaderApp:      a.App,
			HeaderRecordID: uuid.NewString(),
		}
	}
}
