package config

import (
	"github.com/satwork/satwork/build"
)

// Full is the satworkd daemon config.
type Full struct {
	Relays   Relays
	System   System
	Payments Payments
	Load     Load
	Journal  Journal
}

// Relays configures the relay-network client.
type Relays struct {
	// URLs lists the relay websocket endpoints. Events are queried
	// from and published to every relay; one reachable relay is
	// enough to operate.
	URLs []string
}

// System identifies the designated system signer.
type System struct {
	// SignerPubKey is the x-only hex public key whose signature
	// authorizes privileged transition events. Always required.
	SignerPubKey string

	// SignerKey is the hex private key. Only set on the node that
	// acts as the system signer; read-only nodes leave it empty.
	SignerKey string
}

// Payments configures the payment-provider boundary.
type Payments struct {
	// Endpoint is the provider's API base URL.
	Endpoint string

	// APIKey authenticates calls to the provider.
	APIKey string

	// WebhookListenAddress is where the daemon serves the payment
	// webhook endpoint.
	WebhookListenAddress string
}

// Load tunes the historical load and retry behavior.
type Load struct {
	// BulkQueryTimeout is the hard cutoff for the historical relay
	// query; partial results are processed when it fires.
	BulkQueryTimeout Duration

	// RetryAttempts caps initialization retries per workflow type
	// before the loader gives up.
	RetryAttempts int

	// RetryMin and RetryMax bound the exponential backoff between
	// retries.
	RetryMin Duration
	RetryMax Duration
}

// Journal configures the applied-event journal.
type Journal struct {
	// Path is the directory holding journal files. Empty disables
	// the filesystem journal.
	Path string

	// DisabledEvents lists "system:event" pairs to suppress.
	DisabledEvents string
}

func DefaultFull() *Full {
	return &Full{
		Relays: Relays{
			URLs: []string{"wss://relay.damus.io", "wss://nos.lol"},
		},
		Payments: Payments{
			WebhookListenAddress: "127.0.0.1:7766",
		},
		Load: Load{
			BulkQueryTimeout: Duration(build.BulkQueryTimeout),
			RetryAttempts:    build.LoadRetryAttempts,
			RetryMin:         Duration(build.LoadRetryMin),
			RetryMax:         Duration(build.LoadRetryMax),
		},
	}
}
