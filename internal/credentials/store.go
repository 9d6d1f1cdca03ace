package credentials

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/extraction-cli/internal/lock"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const defaultLockTimeout = 30 * time.Second

// Store is the JSON-file account store. Mutations hold an advisory lock on
// "<path>.lock" for the whole read-modify-write and replace the file atomically.
type Store struct {
	path        string
	lockTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLockTimeout bounds how long a mutation waits for the store lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l.Named("credentials") }
}

// NewStore returns a store backed by the file at path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{
		path:        path,
		lockTimeout: defaultLockTimeout,
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

// Load returns every account ordered by ascending priority, file order breaking ties.
func (s *Store) Load(ctx context.Context) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	accounts := doc.accounts
	sortByPriority(accounts)
	return accounts, nil
}

// MarkExpired flags the account as expired and sinks it to ExpiredPriority.
func (s *Store) MarkExpired(ctx context.Context, username string) error {
	return s.mutate(ctx, func(doc *document) error {
		acc, err := doc.find(username)
		if err != nil {
			return err
		}
		now := s.timestamp()
		acc.State = StateExpired
		acc.Status = StatusExpired
		acc.Priority = ExpiredPriority
		acc.LastUsed = &now
		acc.StatusChangedAt = &now
		s.logger.Info("Account marked expired.", zap.String("username", username))
		return nil
	})
}

// UpdateStatus records the outcome of an attempt. Only status, last_used and,
// when the status actually changes, status_changed_at are written.
func (s *Store) UpdateStatus(ctx context.Context, username string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.mutate(ctx, func(doc *document) error {
		acc, err := doc.find(username)
		if err != nil {
			return err
		}
		now := s.timestamp()
		if acc.Status != status {
			acc.StatusChangedAt = &now
		}
		acc.Status = status
		acc.LastUsed = &now
		s.logger.Debug("Account status updated.", zap.String("username", username), zap.String("status", string(status)))
		return nil
	})
}

// PromoteValidAccounts rebalances priorities across the store and persists them.
func (s *Store) PromoteValidAccounts(ctx context.Context) error {
	return s.mutate(ctx, func(doc *document) error {
		doc.accounts = Rebalance(doc.accounts)
		return nil
	})
}

func (s *Store) timestamp() time.Time {
	return s.now().UTC()
}

// mutate runs fn against the freshly read document under the store lock and
// writes the result back. Nothing is written when fn fails.
func (s *Store) mutate(ctx context.Context, fn func(doc *document) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("credentials: %w", err)
	}
	l, err := lock.Acquire(ctx, s.path+".lock", lock.Options{
		Timeout:       s.lockTimeout,
		RetryInterval: 100 * time.Millisecond,
		Logger:        s.logger,
	})
	if err != nil {
		return fmt.Errorf("credentials: lock store: %w", err)
	}
	defer func() {
		if err := l.Release(); err != nil {
			s.logger.Warn("Failed to release store lock.", zap.Error(err))
		}
	}()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.write(doc)
}

func (s *Store) read() (*document, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, s.path)
		}
		return nil, fmt.Errorf("credentials: read %s: %w", s.path, err)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, s.path, err)
	}
	return doc, nil
}

// write replaces the store file atomically: full content goes to a temp file
// in the same directory, is synced, then renamed over the original.
func (s *Store) write(doc *document) error {
	data, err := doc.encode()
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}

	mode := fs.FileMode(0o600)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("credentials: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("credentials: write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("credentials: chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("credentials: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("credentials: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("credentials: replace store: %w", err)
	}

	// Persist the rename itself; not every filesystem supports syncing a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// document keeps the on-disk shape so a bare list stays a bare list and any
// extra top-level keys of a wrapped store survive a rewrite.
type document struct {
	wrapped  bool
	extra    map[string]jsoniter.RawMessage
	accounts []Account
}

func decodeDocument(raw []byte) (*document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}

	switch trimmed[0] {
	case '[':
		var accounts []Account
		if err := json.Unmarshal(trimmed, &accounts); err != nil {
			return nil, err
		}
		return &document{accounts: accounts}, nil
	case '{':
		var fields map[string]jsoniter.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, err
		}
		rawAccounts, ok := fields["accounts"]
		if !ok {
			return nil, errors.New(`missing "accounts" list`)
		}
		var accounts []Account
		if err := json.Unmarshal(rawAccounts, &accounts); err != nil {
			return nil, fmt.Errorf(`"accounts": %w`, err)
		}
		if accounts == nil {
			return nil, errors.New(`"accounts" must be a list`)
		}
		delete(fields, "accounts")
		return &document{wrapped: true, extra: fields, accounts: accounts}, nil
	default:
		return nil, errors.New("expected an object with an accounts list or a bare list")
	}
}

func (d *document) encode() ([]byte, error) {
	accounts := d.accounts
	if accounts == nil {
		accounts = []Account{}
	}

	var (
		out []byte
		err error
	)
	if d.wrapped {
		fields := make(map[string]interface{}, len(d.extra)+1)
		for k, v := range d.extra {
			fields[k] = v
		}
		fields["accounts"] = accounts
		out, err = json.Marshal(fields)
	} else {
		out, err = json.Marshal(accounts)
	}
	if err != nil {
		return nil, err
	}

	// Account output comes from its MarshalJSON, which the indenting encoder
	// copies verbatim, so the whole document is indented in one pass.
	var pretty bytes.Buffer
	if err := stdjson.Indent(&pretty, out, "", "  "); err != nil {
		return nil, err
	}
	pretty.WriteByte('\n')
	return pretty.Bytes(), nil
}

// find returns a pointer into the document for the first account with username.
func (d *document) find(username string) (*Account, error) {
	for i := range d.accounts {
		if d.accounts[i].Username == username {
			return &d.accounts[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, username)
}
