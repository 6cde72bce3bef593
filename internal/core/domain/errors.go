package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrConfigMissing = errors.New("configuration missing")
var ErrCapabilityDenied = errors.New("capability denied")
var ErrRoleHierarchy = errors.New("role hierarchy violation")
var ErrNotFound = errors.New("entity not found")
var ErrTransientIO = errors.New("transient io error")
var ErrPartialCleanup = errors.New("partial cleanup failure")
var ErrMessageTooOld = errors.New("message too old for bulk delete")

// BulkDeleteError reports the messages a bulk delete could not remove
// because they exceed the platform's age limit.
type BulkDeleteError struct {
	TooOld []string
}

func (e *BulkDeleteError) Error() string {
	return fmt.Sprintf("bulk delete: %d message(s) too old: %s", len(e.TooOld), strings.Join(e.TooOld, ","))
}

// Is lets errors.Is(err, ErrMessageTooOld) match a BulkDeleteError.
func (e *BulkDeleteError) Is(target error) bool {
	return target == ErrMessageTooOld
}

// Outcome kinds, used as log fields, metric labels and log-channel tags.
const (
	KindSuccess          = "success"
	KindNoop             = "noop"
	KindConfigMissing    = "config_missing"
	KindCapabilityDenied = "capability_denied"
	KindRoleHierarchy    = "role_hierarchy"
	KindNotFound         = "not_found"
	KindTransientIO      = "transient_io"
	KindPartialCleanup   = "partial_cleanup"
	KindMessageTooOld    = "message_too_old"
)

// Classify maps an error to its outcome kind. Unknown errors are treated as
// transient I/O failures since every adapter call can fail that way.
func Classify(err error) string {
	switch {
	case err == nil:
		return KindSuccess
	case errors.Is(err, ErrConfigMissing):
		return KindConfigMissing
	case errors.Is(err, ErrCapabilityDenied):
		return KindCapabilityDenied
	case errors.Is(err, ErrRoleHierarchy):
		return KindRoleHierarchy
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrMessageTooOld):
		return KindMessageTooOld
	case errors.Is(err, ErrPartialCleanup):
		return KindPartialCleanup
	default:
		return KindTransientIO
	}
}
