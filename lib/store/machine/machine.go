package machine

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/piebus/lib/auth"
	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("machine")

// slowApply is the batch duration above which a batch is logged.
const slowApply = 250 * time.Millisecond

// lastApplied backs the piebus_applied_index gauge.
var lastApplied atomic.Uint64

func init() {
	metrics.NewGauge("piebus_applied_index", func() float64 {
		return float64(lastApplied.Load())
	})
}

// Entry is a single command at its log position. Err is set if the raw
// log entry could not be decoded; the entry is then rejected but its
// position is still recorded as applied.
type Entry struct {
	Index uint64
	Cmd   store.Command
	Err   error
}

// Machine is the frame store state machine. Apply must be called from a
// single goroutine; Lookup may run concurrently with it.
type Machine struct {
	database db.FrameDB
}

// New wraps database in a state machine.
func New(database db.FrameDB) *Machine {
	return &Machine{database: database}
}

// DB returns the underlying database.
func (m *Machine) DB() db.FrameDB {
	return m.database
}

// --------------------------------------------------------------------------
// Write side
// --------------------------------------------------------------------------

// Apply executes the entries in order inside one database transaction and
// records the index of the last entry as applied. Rejected commands yield a
// Result with a non-success code; the returned error is reserved for
// storage faults, in which case nothing of the batch was written.
func (m *Machine) Apply(entries []Entry) ([]store.Result, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	start := time.Now()

	results := make([]store.Result, len(entries))
	err := m.database.Update(func(tx db.Tx) error {
		for i, e := range entries {
			res, err := m.apply(tx, e)
			if err != nil {
				return fmt.Errorf("apply %s at index %d: %w", e.Cmd.Type, e.Index, err)
			}
			results[i] = res
		}
		return tx.SetAppliedIndex(entries[len(entries)-1].Index)
	})
	if err != nil {
		return nil, err
	}

	lastApplied.Store(entries[len(entries)-1].Index)
	for i, e := range entries {
		metrics.GetOrCreateCounter(fmt.Sprintf(`piebus_commands_total{type=%q}`, e.Cmd.Type)).Inc()
		if results[i].Code != store.RetCSuccess {
			metrics.GetOrCreateCounter(fmt.Sprintf(`piebus_command_errors_total{type=%q,code=%q}`, e.Cmd.Type, results[i].Code)).Inc()
		}
	}
	if elapsed := time.Since(start); elapsed > slowApply {
		log.Infof("Apply took long. Batch of %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return results, nil
}

func (m *Machine) apply(tx db.Tx, e Entry) (store.Result, error) {
	if e.Err != nil {
		return store.Reject(store.RetCInvalidOperation, "cannot decode command: %v", e.Err), nil
	}
	cmd := e.Cmd

	switch cmd.Type {
	case store.CommandTRegister:
		return applyRegister(tx, cmd)
	case store.CommandTLogin:
		return applyLogin(tx, cmd)
	case store.CommandTLogout:
		return store.Result{Ok: true}, nil
	case store.CommandTSetPreference:
		if err := tx.PutSetting(cmd.Key, cmd.Value); err != nil {
			return store.Result{}, err
		}
		return store.Result{Ok: true, Value: cmd.Value}, nil
	case store.CommandTCreateFrame:
		return applyCreateFrame(tx, e.Index, cmd)
	case store.CommandTPublish:
		return applyPublish(tx, e.Index, cmd)
	case store.CommandTIndexFrames:
		if err := tx.RebuildIndex(); err != nil {
			return store.Result{}, err
		}
		return store.Result{Ok: true}, nil
	default:
		return store.Reject(store.RetCInvalidOperation, "unknown command operation: %s", cmd.Type), nil
	}
}

func applyRegister(tx db.Tx, cmd store.Command) (store.Result, error) {
	if cmd.Secret == "" {
		return store.Reject(store.RetCInvalidOperation, "register %q: missing password hash", cmd.Username), nil
	}
	inserted, err := tx.InsertCredential(auth.Credential{
		Username:     cmd.Username,
		PasswordHash: cmd.Secret,
		Note:         cmd.Note,
		Timestamp:    time.Unix(0, cmd.Timestamp).UTC(),
	})
	if err != nil {
		return store.Result{}, err
	}
	return store.Result{Ok: inserted}, nil
}

func applyLogin(tx db.Tx, cmd store.Command) (store.Result, error) {
	c, found, err := tx.Credential(cmd.Username)
	if err != nil {
		return store.Result{}, err
	}
	if !found {
		return store.Result{Ok: false}, nil
	}
	ok, err := auth.VerifyDigest(c.PasswordHash, cmd.Secret)
	if err != nil {
		// a damaged hash is a failed login, not a storage fault
		log.Warningf("login %q: stored hash is unusable: %v", cmd.Username, err)
		return store.Result{Ok: false}, nil
	}
	return store.Result{Ok: ok}, nil
}

func applyCreateFrame(tx db.Tx, index uint64, cmd store.Command) (store.Result, error) {
	kind := frame.DefaultKind
	if cmd.Kind != store.KindUnset {
		kind = frame.Kind(cmd.Kind)
	}
	if !kind.Valid() {
		return store.Reject(store.RetCInvalidOperation, "invalid frame kind %d", cmd.Kind), nil
	}
	if cmd.Identity == "" {
		return store.Reject(store.RetCInvalidOperation, "frame without identity"), nil
	}

	_, _, exists, err := tx.Frame(cmd.Identity)
	if err != nil {
		return store.Result{}, err
	}
	if exists {
		return store.Reject(store.RetCInvalidOperation, "frame %s already exists", cmd.Identity), nil
	}

	f := frame.Frame{
		Identity:  cmd.Identity,
		Kind:      kind,
		Name:      cmd.Name,
		Data:      cmd.Data,
		Meta:      cmd.Meta,
		Publish:   cmd.Status,
		Render:    cmd.Render,
		Source:    frame.SourceOf(cmd.Meta),
		Tags:      cmd.Tags,
		Timestamp: time.Unix(0, cmd.Timestamp).UTC(),
	}
	if f.Data == nil {
		f.Data = frame.Mapping{}
	}
	if f.Meta == nil {
		f.Meta = frame.Mapping{}
	}
	if f.Render == "" {
		f.Render = frame.DefaultRender
	}
	if f.Publish {
		f.PublishRev = index
	}

	rowID, err := tx.InsertFrame(f)
	if err != nil {
		return store.Result{}, err
	}
	if err := tx.IndexFrame(rowID, f); err != nil {
		return store.Result{}, err
	}
	return store.Result{Ok: true, Frame: &f}, nil
}

func applyPublish(tx db.Tx, index uint64, cmd store.Command) (store.Result, error) {
	f, _, found, err := tx.Frame(cmd.Identity)
	if err != nil {
		return store.Result{}, err
	}
	if !found {
		return store.Reject(store.RetCNotFound, "frame %s not found", cmd.Identity), nil
	}
	if err := tx.SetPublish(cmd.Identity, cmd.Status, index); err != nil {
		return store.Result{}, err
	}
	f.Publish = cmd.Status
	f.PublishRev = index
	return store.Result{Ok: true, Frame: &f}, nil
}

// --------------------------------------------------------------------------
// Read side
// --------------------------------------------------------------------------

// Lookup answers a read query against the applied state.
func (m *Machine) Lookup(q store.Query) (any, error) {
	switch q.Type {
	case store.QueryTGetPreference:
		v, found, err := m.database.Setting(q.Key)
		if err != nil {
			return nil, internal(err)
		}
		if !found {
			return q.Default, nil
		}
		return v, nil

	case store.QueryTEnableRegister:
		v, found, err := m.database.Setting(store.EnableRegisterKey)
		if err != nil {
			return nil, internal(err)
		}
		return found && isTruthy(v), nil

	case store.QueryTListFrames, store.QueryTListPublicFrames:
		frames, err := m.database.ListFrames(store.NormalizeLimit(q.Limit), q.Type == store.QueryTListPublicFrames)
		if err != nil {
			return nil, internal(err)
		}
		return frames, nil

	case store.QueryTSearchFrames, store.QueryTSearchPublicFrames:
		if strings.TrimSpace(q.Text) == "" {
			return []frame.Frame{}, nil
		}
		frames, err := m.database.SearchFrames(q.Text, q.Type == store.QueryTSearchPublicFrames)
		if errors.Is(err, db.ErrInvalidQuery) {
			return nil, store.NewError(store.RetCInvalidOperation, err.Error())
		}
		if err != nil {
			return nil, internal(err)
		}
		return frames, nil

	case store.QueryTFrame:
		f, found, err := m.database.Frame(q.Identity)
		if err != nil {
			return nil, internal(err)
		}
		if !found {
			return nil, store.Errorf(store.RetCNotFound, "frame %s not found", q.Identity)
		}
		return f, nil

	case store.QueryTCountFrames:
		n, err := m.database.CountFrames()
		if err != nil {
			return nil, internal(err)
		}
		return n, nil

	case store.QueryTGetDBInfo:
		info, err := m.database.GetInfo()
		if err != nil {
			return nil, internal(err)
		}
		return info, nil

	default:
		return nil, store.Errorf(store.RetCInvalidOperation, "unknown query operation: %s", q.Type)
	}
}

func internal(err error) error {
	return store.NewError(store.RetCInternalError, err.Error())
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
