package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/systmms/rekey/internal/config"
	dserrors "github.com/systmms/rekey/internal/errors"
	"github.com/systmms/rekey/internal/logging"
)

const readSettingQuery = `SELECT substr(cfg, length($1) + 2)
FROM pg_db_role_setting s
JOIN pg_database d ON d.oid = s.setdatabase
CROSS JOIN LATERAL unnest(s.setconfig) AS cfg
WHERE d.datname = current_database()
  AND s.setrole = 0
  AND split_part(cfg, '=', 1) = $1`

// PostgresOptions describes the database and the objects holding secrets.
type PostgresOptions struct {
	Host     string
	Port     int
	Database string
	User     string
	SSLMode  string
	Roles    []string
	Setting  string
	Table    string
	Timeout  time.Duration
}

// PostgresOptionsFromConfig builds options from rekey.yaml.
func PostgresOptionsFromConfig(def *config.Definition) PostgresOptions {
	return PostgresOptions{
		Host:     def.Database.Host,
		Port:     def.Database.Port,
		Database: def.Database.Name,
		User:     def.Database.User,
		SSLMode:  def.Database.SSLMode,
		Roles:    append([]string(nil), def.Database.Roles...),
		Setting:  def.Database.Setting,
		Table:    def.EncryptedSubsystem.Table,
		Timeout:  def.Database.Timeout(),
	}
}

// PostgresStore implements Database over database/sql and lib/pq.
type PostgresStore struct {
	opts PostgresOptions
	db   *sql.DB

	mu       sync.RWMutex
	password string

	openLogin func(dsn string) (*sql.DB, error)
}

// NewPostgresStore connects as opts.User with password. Connections are
// dialed lazily and always with the current password, which WriteRolePassword
// updates when it changes the connecting role itself.
func NewPostgresStore(opts PostgresOptions, password string) *PostgresStore {
	s := newPostgresStore(opts, password)
	s.db = sql.OpenDB(&passwordConnector{store: s})
	s.db.SetMaxOpenConns(2)
	s.db.SetConnMaxIdleTime(time.Minute)
	return s
}

// NewPostgresStoreWithDB wraps an existing handle. Used with sqlmock.
func NewPostgresStoreWithDB(db *sql.DB, opts PostgresOptions, password string) *PostgresStore {
	s := newPostgresStore(opts, password)
	s.db = db
	return s
}

func newPostgresStore(opts PostgresOptions, password string) *PostgresStore {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &PostgresStore{
		opts:      opts,
		password:  password,
		openLogin: openPostgres,
	}
}

func openPostgres(dsn string) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

// passwordConnector re-reads the store's password on every dial.
type passwordConnector struct {
	store *PostgresStore
}

func (c *passwordConnector) Connect(ctx context.Context) (driver.Conn, error) {
	connector, err := pq.NewConnector(c.store.dsn(c.store.opts.User, c.store.currentPassword()))
	if err != nil {
		return nil, err
	}
	return connector.Connect(ctx)
}

func (c *passwordConnector) Driver() driver.Driver {
	return &pq.Driver{}
}

func (s *PostgresStore) currentPassword() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.password
}

func (s *PostgresStore) dsn(user, password string) string {
	parts := []string{
		"host=" + dsnValue(s.opts.Host),
		fmt.Sprintf("port=%d", s.opts.Port),
		"dbname=" + dsnValue(s.opts.Database),
		"user=" + dsnValue(user),
		"password=" + dsnValue(password),
		fmt.Sprintf("connect_timeout=%d", max(1, int(s.opts.Timeout/time.Second))),
	}
	if s.opts.SSLMode != "" {
		parts = append(parts, "sslmode="+dsnValue(s.opts.SSLMode))
	}
	return strings.Join(parts, " ")
}

// dsnValue quotes a key/value connection string value.
func dsnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// quoteQualified quotes each dot-separated part of a name.
func quoteQualified(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// Roles implements Database.
func (s *PostgresStore) Roles() []string {
	return append([]string(nil), s.opts.Roles...)
}

// SettingName implements Database.
func (s *PostgresStore) SettingName() string {
	return s.opts.Setting
}

// EncryptedTable implements Database.
func (s *PostgresStore) EncryptedTable() string {
	return s.opts.Table
}

// Ping checks the admin connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	return s.wrap(ctx, StoreDatabase, "ping", s.db.PingContext(ctx))
}

// ReadSetting returns the database-level value of the signing-secret
// setting, or "" when it is not set.
func (s *PostgresStore) ReadSetting(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, readSettingQuery, s.opts.Setting).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", s.wrap(ctx, StoreSetting, "read "+s.opts.Setting, err)
	}
	return value, nil
}

// WriteSetting sets the signing-secret setting for the database. New
// sessions pick it up; existing sessions keep the old value.
func (s *PostgresStore) WriteSetting(ctx context.Context, value string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	stmt := fmt.Sprintf("ALTER DATABASE %s SET %s TO %s",
		pq.QuoteIdentifier(s.opts.Database), quoteQualified(s.opts.Setting), pq.QuoteLiteral(value))
	_, err := s.db.ExecContext(ctx, stmt)
	return s.wrap(ctx, StoreSetting, "write "+s.opts.Setting, err)
}

// WriteRolePassword sets one role's login password.
func (s *PostgresStore) WriteRolePassword(ctx context.Context, role, password string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	stmt := fmt.Sprintf("ALTER ROLE %s WITH PASSWORD %s", pq.QuoteIdentifier(role), pq.QuoteLiteral(password))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return s.wrap(ctx, StoreDatabaseRole, "alter role "+role, scrub(err, password))
	}

	if role == s.opts.User {
		s.mu.Lock()
		s.password = password
		s.mu.Unlock()
	}
	return nil
}

// TruncateEncryptedState empties the encrypted subsystem's table and every
// table referencing it.
func (s *PostgresStore) TruncateEncryptedState(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	stmt := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", quoteQualified(s.opts.Table))
	_, err := s.db.ExecContext(ctx, stmt)
	return s.wrap(ctx, StoreEncrypted, "truncate "+s.opts.Table, err)
}

// VerifyRoleLogin opens a fresh connection as role with password.
func (s *PostgresStore) VerifyRoleLogin(ctx context.Context, role, password string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	db, err := s.openLogin(s.dsn(role, password))
	if err != nil {
		return s.wrap(ctx, StoreDatabaseRole, "login as "+role, scrub(err, password))
	}
	defer func() { _ = db.Close() }()

	return s.wrap(ctx, StoreDatabaseRole, "login as "+role, scrub(db.PingContext(ctx), password))
}

// Close releases the admin connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// wrap classifies err. ctx is the per-call timeout context: once its deadline
// has passed the driver may report cancellation in several shapes, all of
// which mean the server did not answer in time.
func (s *PostgresStore) wrap(ctx context.Context, storeName, op string, err error) error {
	if err == nil {
		return nil
	}
	return &dserrors.BackendError{
		Store:       storeName,
		Op:          op,
		Err:         err,
		Unreachable: isUnreachable(err) || errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
}

// scrub keeps a password out of driver error text.
func scrub(err error, password string) error {
	if err == nil || password == "" || !strings.Contains(err.Error(), password) {
		return err
	}
	return &scrubbedError{msg: logging.Redact(err.Error(), []string{password}), err: err}
}

type scrubbedError struct {
	msg string
	err error
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

// isUnreachable separates "could not talk to the server" from "the server
// said no".
func isUnreachable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code.Class() == "08": // connection_exception
			return true
		case pqErr.Code == "57P03", pqErr.Code == "53300": // cannot_connect_now, too_many_connections
			return true
		}
	}
	return false
}
