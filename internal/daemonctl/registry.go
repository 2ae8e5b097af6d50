package daemonctl

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/okets/folder-mcp/internal/errs"
)

// Record is the JSON-serialized contents of the daemon registry file
// (the "controlPorts" of §4.I, expanded to the concrete httpPort/wsPort pair
// named in §6).
type Record struct {
	PID        int       `json:"pid"`
	InstanceID uuid.UUID `json:"instanceId"`
	HTTPPort   int       `json:"httpPort"`
	WSPort     int       `json:"wsPort,omitempty"`
	StartTime  time.Time `json:"startTime"`
	Version    string    `json:"version,omitempty"`
}

// Registration is a held daemon registry entry. Release removes it.
type Registration struct {
	path   string
	record Record
}

// Acquire enforces the single-daemon invariant (spec §4.I): it scans the OS
// process list for another live daemon, cross-checks the registry file, and
// if no other instance is found, atomically writes a new record and returns
// a handle whose Release removes it.
//
// A race between two simultaneous starts is resolved here: both processes
// reach this function, but only one wins the check below before the other's
// record becomes visible to it, and the loser fails with the winner's pid
// named in the error.
func Acquire(record Record) (*Registration, error) {
	path, err := RegistryPath()
	if err != nil {
		return nil, err
	}

	if existing, ok, err := readLiveRecord(path); err != nil {
		return nil, err
	} else if ok {
		return nil, errs.New(errs.KindValidation, "DAEMON_ALREADY_RUNNING",
			fmt.Sprintf("a daemon is already running with pid %d", existing.PID))
	}

	if pid, ok := findRunningSignature(); ok && pid != os.Getpid() {
		return nil, errs.New(errs.KindValidation, "DAEMON_ALREADY_RUNNING",
			fmt.Sprintf("a process matching the daemon signature is already running with pid %d", pid))
	}

	record.PID = os.Getpid()
	if record.InstanceID == uuid.Nil {
		record.InstanceID = uuid.New()
	}
	if record.StartTime.IsZero() {
		record.StartTime = time.Now()
	}
	if err := writeRecord(path, record); err != nil {
		return nil, err
	}

	return &Registration{path: path, record: record}, nil
}

// Release removes the registry entry. It is safe to call more than once.
func (r *Registration) Release() error {
	if r == nil {
		return nil
	}
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to remove daemon registry: %w", err)
	}
	return nil
}

// Discover reads the registry file and validates pid liveness via a
// zero-signal probe. If the pid is dead, the stale record is cleaned up and
// Discover reports no daemon.
func Discover() (Record, bool, error) {
	path, err := RegistryPath()
	if err != nil {
		return Record{}, false, err
	}
	record, ok, err := readLiveRecord(path)
	return record, ok, err
}

// readLiveRecord reads the registry file at path, if present, and validates
// that its claimed pid is still alive. A stale (dead-pid) record is removed
// and reported as absent.
func readLiveRecord(path string) (Record, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("unable to read daemon registry: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		// A corrupt record can't claim a live pid; treat it as stale.
		_ = os.Remove(path)
		return Record{}, false, nil
	}

	if processAlive(record.PID) {
		return record, true, nil
	}

	_ = os.Remove(path)
	return Record{}, false, nil
}

func writeRecord(path string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("unable to encode daemon registry: %w", err)
	}

	temp, err := os.CreateTemp(dataDirectoryPath, "daemon-*.json.tmp")
	if err != nil {
		return fmt.Errorf("unable to create temporary registry file: %w", err)
	}
	tempName := temp.Name()

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return fmt.Errorf("unable to write temporary registry file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("unable to close temporary registry file: %w", err)
	}
	if err := restrictToOwner(tempName); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("unable to set registry file permissions: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return fmt.Errorf("unable to install registry file: %w", err)
	}
	return nil
}
