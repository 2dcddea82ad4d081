package ratelimit

import "time"

// Per-endpoint-class policies. Login gets a narrow window with a long
// block; the generic API gets a wide allowance with a short block.
var (
	PolicyLogin = Policy{
		Window:        15 * time.Minute,
		MaxRequests:   5,
		BlockDuration: 30 * time.Minute,
	}
	PolicyPasswordReset = Policy{
		Window:        time.Hour,
		MaxRequests:   3,
		BlockDuration: time.Hour,
	}
	PolicyRegistration = Policy{
		Window:        time.Hour,
		MaxRequests:   5,
		BlockDuration: time.Hour,
	}
	PolicyAPI = Policy{
		Window:        time.Minute,
		MaxRequests:   120,
		BlockDuration: time.Minute,
	}
)

// Key builds the limiter key for an endpoint class and client identity.
func Key(class, clientID string) string {
	return class + ":" + clientID
}

// LargestWindow is used to size the staleness sweep cutoff.
func LargestWindow() time.Duration {
	largest := PolicyLogin.Window
	for _, p := range []Policy{PolicyPasswordReset, PolicyRegistration, PolicyAPI} {
		if p.Window > largest {
			largest = p.Window
		}
		if p.BlockDuration > largest {
			largest = p.BlockDuration
		}
	}
	return largest
}
