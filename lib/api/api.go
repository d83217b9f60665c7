package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/piebus/lib/auth"
	"github.com/ValentinKolb/piebus/lib/db"
	"github.com/ValentinKolb/piebus/lib/frame"
	"github.com/ValentinKolb/piebus/lib/store"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("api")

var (
	// ErrNotFound is returned for operations on unknown frames.
	ErrNotFound = errors.New("not found")
	// ErrInvalid is returned for requests the frame store rejected.
	ErrInvalid = errors.New("invalid request")
	// ErrUnavailable is returned when the replication layer could not
	// complete the request. For writes the outcome is unknown.
	ErrUnavailable = errors.New("unavailable")
	// ErrNotLeader is returned by replicas that do not accept writes.
	ErrNotLeader = errors.New("not leader")
	// ErrInternal is returned for unexpected failures.
	ErrInternal = errors.New("internal error")
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IAPI is the operation surface of piebus. It is implemented by API (in
// process, on top of a store) and by the RPC client.
type IAPI interface {
	// Register creates a user. It returns false if the username is taken.
	Register(ctx context.Context, username, password string) (ok bool, err error)
	// Login checks a password. Unknown users and wrong passwords are false.
	Login(ctx context.Context, username, password string) (ok bool, err error)
	// Logout acknowledges a logout; there is no session state.
	Logout(ctx context.Context, username string) (ok bool, err error)

	// GetPreference returns a setting or def if it is unset.
	GetPreference(ctx context.Context, key, def string) (value string, err error)
	// SetPreference stores a setting and returns the stored value.
	SetPreference(ctx context.Context, key, value string) (stored string, err error)
	// EnableRegister reports whether registration is open.
	EnableRegister(ctx context.Context) (enabled bool, err error)
	// SetEnableRegister opens or closes registration.
	SetEnableRegister(ctx context.Context, enabled bool) (stored bool, err error)

	// CreateFrame stores a new frame and returns it with its identity,
	// timestamp and defaults filled in.
	CreateFrame(ctx context.Context, draft frame.Draft) (f frame.Frame, err error)
	// ListFrames returns the newest frames (limit <= 0 selects 10).
	ListFrames(ctx context.Context, limit int) (frames []frame.Frame, err error)
	// ListPublicFrames is ListFrames restricted to published frames.
	ListPublicFrames(ctx context.Context, limit int) (frames []frame.Frame, err error)
	// SearchFrames returns all frames matching a full-text query.
	SearchFrames(ctx context.Context, query string) (frames []frame.Frame, err error)
	// SearchPublicFrames is SearchFrames restricted to published frames.
	SearchPublicFrames(ctx context.Context, query string) (frames []frame.Frame, err error)
	// FrameFromIdentity loads one frame (ErrNotFound if unknown).
	FrameFromIdentity(ctx context.Context, identity string) (f frame.Frame, err error)
	// Publish sets the publish flag of a frame and returns the frame.
	Publish(ctx context.Context, identity string, status bool) (f frame.Frame, err error)
	// IndexFrames rebuilds the search index.
	IndexFrames(ctx context.Context) (ok bool, err error)

	// CountFrames returns the number of stored frames.
	CountFrames(ctx context.Context) (n int, err error)
	// DBInfo describes the database of the answering replica.
	DBInfo(ctx context.Context) (info db.DatabaseInfo, err error)
}

// --------------------------------------------------------------------------
// Implementation
// --------------------------------------------------------------------------

// Config tunes the facade. The zero value is usable.
type Config struct {
	// HashCost is the bcrypt cost for new passwords (0 = auth.DefaultCost).
	HashCost int
	// Now returns the creation time of frames and credentials.
	Now func() time.Time
	// NewIdentity returns a fresh frame identity.
	NewIdentity func() string
}

// API resolves everything nondeterministic about a request (identities,
// clocks, password hashes) and hands the resulting command to the store.
type API struct {
	store  store.IStore
	config Config
}

var _ IAPI = (*API)(nil)

// New creates the facade on top of st.
func New(st store.IStore, config Config) *API {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewIdentity == nil {
		config.NewIdentity = NewIdentity
	}
	return &API{store: st, config: config}
}

// NewIdentity returns a random UUID as 32 lowercase hex characters.
func NewIdentity() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

func (a *API) now() int64 {
	return a.config.Now().UTC().UnixNano()
}

func (a *API) submit(ctx context.Context, cmd store.Command) (store.Result, error) {
	res, err := a.store.Submit(ctx, cmd)
	if err != nil {
		return res, translate(err)
	}
	return res, nil
}

func query[R any](ctx context.Context, a *API, q store.Query) (R, error) {
	var zero R
	res, err := a.store.Query(ctx, q)
	if err != nil {
		return zero, translate(err)
	}
	out, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("%w: unexpected %s result %T", ErrInternal, q.Type, res)
	}
	return out, nil
}

// translate maps store errors to the sentinel errors of this package.
func translate(err error) error {
	var se *store.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	switch se.Code {
	case store.RetCNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, se.Msg)
	case store.RetCInvalidOperation:
		return fmt.Errorf("%w: %s", ErrInvalid, se.Msg)
	case store.RetCUnavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, se.Msg)
	case store.RetCNotLeader:
		return fmt.Errorf("%w: %s", ErrNotLeader, se.Msg)
	default:
		return fmt.Errorf("%w: %s", ErrInternal, se.Msg)
	}
}

// CodeOf maps an error returned by an IAPI back to a store return code.
// The RPC layer uses it to put errors on the wire.
func CodeOf(err error) store.RetCode {
	switch {
	case err == nil:
		return store.RetCSuccess
	case errors.Is(err, ErrNotFound):
		return store.RetCNotFound
	case errors.Is(err, ErrInvalid):
		return store.RetCInvalidOperation
	case errors.Is(err, ErrUnavailable):
		return store.RetCUnavailable
	case errors.Is(err, ErrNotLeader):
		return store.RetCNotLeader
	default:
		return store.CodeOf(err)
	}
}

// FromCode is the inverse of CodeOf.
func FromCode(code store.RetCode, msg string) error {
	if code == store.RetCSuccess {
		return nil
	}
	return translate(store.NewError(code, msg))
}

// --------------------------------------------------------------------------
// Interface Methods (docs see IAPI)
// --------------------------------------------------------------------------

func (a *API) Register(ctx context.Context, username, password string) (bool, error) {
	hash, err := auth.HashPassword(password, a.config.HashCost)
	if err != nil {
		return false, fmt.Errorf("%w: hash password: %v", ErrInvalid, err)
	}
	res, err := a.submit(ctx, store.Command{
		Type:      store.CommandTRegister,
		Username:  username,
		Secret:    hash,
		Kind:      store.KindUnset,
		Timestamp: a.now(),
	})
	if err != nil {
		return false, err
	}
	if res.Ok {
		log.Infof("registered user %q", username)
	}
	return res.Ok, nil
}

func (a *API) Login(ctx context.Context, username, password string) (bool, error) {
	res, err := a.submit(ctx, store.Command{
		Type:     store.CommandTLogin,
		Username: username,
		Secret:   auth.Digest(password),
		Kind:     store.KindUnset,
	})
	return res.Ok, err
}

func (a *API) Logout(ctx context.Context, username string) (bool, error) {
	res, err := a.submit(ctx, store.Command{
		Type:     store.CommandTLogout,
		Username: username,
		Kind:     store.KindUnset,
	})
	return res.Ok, err
}

func (a *API) GetPreference(ctx context.Context, key, def string) (string, error) {
	return query[string](ctx, a, store.Query{Type: store.QueryTGetPreference, Key: key, Default: def})
}

func (a *API) SetPreference(ctx context.Context, key, value string) (string, error) {
	res, err := a.submit(ctx, store.Command{
		Type:  store.CommandTSetPreference,
		Key:   key,
		Value: value,
		Kind:  store.KindUnset,
	})
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

func (a *API) EnableRegister(ctx context.Context) (bool, error) {
	return query[bool](ctx, a, store.Query{Type: store.QueryTEnableRegister})
}

func (a *API) SetEnableRegister(ctx context.Context, enabled bool) (bool, error) {
	value := "0"
	if enabled {
		value = "1"
	}
	stored, err := a.SetPreference(ctx, store.EnableRegisterKey, value)
	if err != nil {
		return false, err
	}
	return stored == "1", nil
}

func (a *API) CreateFrame(ctx context.Context, draft frame.Draft) (frame.Frame, error) {
	kind := store.KindUnset
	if draft.Kind != nil {
		// -1 on the wire means unset, so it cannot pass as an explicit kind
		if !draft.Kind.Valid() {
			return frame.Frame{}, fmt.Errorf("%w: unknown frame kind %d", ErrInvalid, *draft.Kind)
		}
		kind = int8(*draft.Kind)
	}
	res, err := a.submit(ctx, store.Command{
		Type:      store.CommandTCreateFrame,
		Identity:  a.config.NewIdentity(),
		Kind:      kind,
		Name:      draft.Name,
		Data:      draft.Data,
		Meta:      draft.Meta,
		Render:    draft.Render,
		Tags:      draft.Tags,
		Status:    draft.Publish,
		Timestamp: a.now(),
	})
	if err != nil {
		return frame.Frame{}, err
	}
	if res.Frame == nil {
		return frame.Frame{}, fmt.Errorf("%w: create_frame returned no frame", ErrInternal)
	}
	return *res.Frame, nil
}

func (a *API) ListFrames(ctx context.Context, limit int) ([]frame.Frame, error) {
	return query[[]frame.Frame](ctx, a, store.Query{Type: store.QueryTListFrames, Limit: limit})
}

func (a *API) ListPublicFrames(ctx context.Context, limit int) ([]frame.Frame, error) {
	return query[[]frame.Frame](ctx, a, store.Query{Type: store.QueryTListPublicFrames, Limit: limit})
}

func (a *API) SearchFrames(ctx context.Context, q string) ([]frame.Frame, error) {
	return query[[]frame.Frame](ctx, a, store.Query{Type: store.QueryTSearchFrames, Text: q})
}

func (a *API) SearchPublicFrames(ctx context.Context, q string) ([]frame.Frame, error) {
	return query[[]frame.Frame](ctx, a, store.Query{Type: store.QueryTSearchPublicFrames, Text: q})
}

func (a *API) FrameFromIdentity(ctx context.Context, identity string) (frame.Frame, error) {
	return query[frame.Frame](ctx, a, store.Query{Type: store.QueryTFrame, Identity: identity})
}

func (a *API) Publish(ctx context.Context, identity string, status bool) (frame.Frame, error) {
	res, err := a.submit(ctx, store.Command{
		Type:     store.CommandTPublish,
		Identity: identity,
		Status:   status,
		Kind:     store.KindUnset,
	})
	if err != nil {
		return frame.Frame{}, err
	}
	if res.Frame == nil {
		return frame.Frame{}, fmt.Errorf("%w: publish returned no frame", ErrInternal)
	}
	return *res.Frame, nil
}

func (a *API) IndexFrames(ctx context.Context) (bool, error) {
	res, err := a.submit(ctx, store.Command{Type: store.CommandTIndexFrames, Kind: store.KindUnset})
	return res.Ok, err
}

func (a *API) CountFrames(ctx context.Context) (int, error) {
	return query[int](ctx, a, store.Query{Type: store.QueryTCountFrames})
}

func (a *API) DBInfo(ctx context.Context) (db.DatabaseInfo, error) {
	return query[db.DatabaseInfo](ctx, a, store.Query{Type: store.QueryTGetDBInfo})
}
