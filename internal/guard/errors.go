package guard

import (
	"errors"
	"fmt"
	"strings"
)

// DriftReason — причина, по которой наблюдаемая конфигурация считается дрейфом.
type DriftReason string

const (
	// ReasonConfigMismatch — содержимое resolv.conf отличается от желаемого.
	ReasonConfigMismatch DriftReason = "config_mismatch"

	// ReasonConfigUnreadable — resolv.conf не читается или отсутствует.
	ReasonConfigUnreadable DriftReason = "config_unreadable"

	// ReasonImmutableFlag — флаг неизменяемости не совпадает с желаемым.
	ReasonImmutableFlag DriftReason = "immutable_flag"

	// ReasonProbeQuorum — проб прошло меньше кворума.
	ReasonProbeQuorum DriftReason = "probe_quorum"

	// ReasonResolution — связность есть, но имя не резолвится.
	ReasonResolution DriftReason = "resolution_failed"
)

// Ошибки guard.
var (
	// ErrGuardRunning — guard для узла уже запущен.
	ErrGuardRunning = errors.New("guard is already running for node")

	// ErrImmutableUnsupported — флаг неизменяемости не поддерживается платформой.
	ErrImmutableUnsupported = errors.New("immutable flag is not supported on this platform")

	// ErrQuorumNotReached — после коррекции кворум проб так и не собран.
	ErrQuorumNotReached = errors.New("probe quorum not reached")
)

// DriftCorrectionError — guard не смог вернуть желаемую конфигурацию.
// Не фатальна: запись помечается DRIFTED, коррекция повторяется на следующем тике.
type DriftCorrectionError struct {
	NodeID   string
	Reasons  []DriftReason
	Attempts int
	Err      error
}

func (e *DriftCorrectionError) Error() string {
	reasons := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		reasons[i] = string(r)
	}
	return fmt.Sprintf("node %s: drift correction failed after %d attempts (%s): %v",
		e.NodeID, e.Attempts, strings.Join(reasons, ","), e.Err)
}

func (e *DriftCorrectionError) Unwrap() error { return e.Err }
