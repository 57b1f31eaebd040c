package fabric

import "github.com/pkg/errors"

// Sentinel errors returned by Provider methods (spec §4.6, §7).
var (
	// ErrNotOpen is returned by PostSend/PostReceive against a Provider that
	// hasn't completed Open, or whose Close has since torn it down.
	ErrNotOpen = errors.New("fabric: provider not open")
	// ErrRetry signals a transient condition (eg a full send queue); the
	// caller should retry the same operation on its next tick rather than
	// treating it as fatal.
	ErrRetry = errors.New("fabric: transient send failure, retry")
	// ErrSendFailed signals a fatal send condition after which the caller
	// must transition its connection to reset (spec §4.4: "send failure ->
	// EfaReset").
	ErrSendFailed = errors.New("fabric: send failed")
)
