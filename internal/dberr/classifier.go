package dberr

import (
	"context"
	"errors"
	"net"
	"os"

	"github.com/kartikbazzad/modb/internal/objstore"
)

// Classifier maps low-level object-store failures onto the dberr
// taxonomy so callers above the storage adapter only ever see the four
// storage-facing kinds: NotFound, Conflict, Network, Server.
type Classifier struct{}

// NewClassifier creates a new error classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify inspects err (typically returned by an objstore.Store call)
// and returns the dberr Kind it should be normalised to.
func (c *Classifier) Classify(err error) Kind {
	if err == nil {
		return Server
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, objstore.ErrPreconditionFailed) {
		return Conflict
	}
	if errors.Is(err, objstore.ErrTransientNetwork) {
		return Network
	}
	if errors.Is(err, objstore.ErrNotFound) {
		return NotFound
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Network
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Network
		}
		return Network
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Network
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return Network
	}

	return Server
}

// ShouldRetry reports whether the category indicates the caller's
// retry loop should attempt the operation again.
func (c *Classifier) ShouldRetry(kind Kind) bool {
	return kind == Network
}
