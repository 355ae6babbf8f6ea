// Package hub defines the interfaces the core consumes from the hub
// protocol layer. The core never opens hub connections itself; it asks
// these interfaces about identity, online users and share profiles, and
// hands outgoing commands back through them.
package hub

import "github.com/airdcpp/airdcpp-go/pkg/share"

// User identifies a remote peer across hubs.
type User struct {
	// CID is the 39-character base32 content identifier.
	CID string

	// Favorite marks users granted preferential slot treatment.
	Favorite bool

	// Operator marks hub operators.
	Operator bool
}

// OnlineUser is a user's presence on one hub.
type OnlineUser struct {
	User   User
	HubURL string

	// SID is the session id on ADC hubs.
	SID string
}

// Context is what the upload dispatcher and search responders need from
// the hub layer.
type Context interface {
	// CID returns the local client identity.
	CID() string

	// ProfileForUser resolves the share profile to use for a user,
	// considering every hub the user is online on.
	ProfileForUser(cid string) (share.ProfileToken, bool)

	// OnlineHubs returns the user's current hub presences.
	OnlineHubs(cid string) []OnlineUser

	// TotalHubCount returns the number of connected hubs; slot policy
	// scales the configured slot count with it.
	TotalHubCount() int

	// ConnectToMe asks the hub layer to open a transfer connection to a
	// user that was just granted a slot.
	ConnectToMe(user OnlineUser, token string)
}

// NullContext is a Context for tests and standalone operation: one
// default profile, nobody online.
type NullContext struct{ LocalCID string }

func (n NullContext) CID() string { return n.LocalCID }

func (n NullContext) ProfileForUser(string) (share.ProfileToken, bool) {
	return share.ProfileDefault, true
}

func (n NullContext) OnlineHubs(string) []OnlineUser { return nil }

func (n NullContext) TotalHubCount() int { return 1 }

func (n NullContext) ConnectToMe(OnlineUser, string) {}
