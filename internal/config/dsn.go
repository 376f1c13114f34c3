package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// Ledger connection settings come from ledger.dsn when it expands to a
// non-empty string (${VAR} references are resolved). Otherwise they are taken
// from the environment:
//
//	LEDGER_DSN          full DSN, used as is
//	LEDGER_HOST         postgres, mssql (required)
//	LEDGER_PORT         default 5432 (postgres) or 1433 (mssql)
//	LEDGER_USER
//	LEDGER_PASSWORD
//	LEDGER_DB           default "vehicles"
//	LEDGER_SSLMODE      postgres, default "disable"
//	LEDGER_ENCRYPT      mssql, default "disable"
//	LEDGER_SQLITE_PATH  sqlite file or DSN, default "ledger.db"
//	LEDGER_PARAMS       extra query parameters, k=v&k2=v2
const (
	EnvLedgerDSN        = "LEDGER_DSN"
	EnvLedgerHost       = "LEDGER_HOST"
	EnvLedgerPort       = "LEDGER_PORT"
	EnvLedgerUser       = "LEDGER_USER"
	EnvLedgerPassword   = "LEDGER_PASSWORD"
	EnvLedgerDB         = "LEDGER_DB"
	EnvLedgerSSLMode    = "LEDGER_SSLMODE"
	EnvLedgerEncrypt    = "LEDGER_ENCRYPT"
	EnvLedgerSQLitePath = "LEDGER_SQLITE_PATH"
	EnvLedgerParams     = "LEDGER_PARAMS"
)

const defaultLedgerDB = "vehicles"

// ErrNoLedgerDSN is returned by ResolveDSN when neither the config nor the
// environment names a ledger server.
var ErrNoLedgerDSN = errors.New("no ledger dsn configured")

// NormalizeLedgerKind maps ledger kind aliases to the registered kinds.
// Unknown values pass through so validation can reject them.
func NormalizeLedgerKind(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "postgresql", "pg":
		return "postgres"
	case "sqlserver":
		return "mssql"
	case "sqlite3":
		return "sqlite"
	}
	return s
}

// ResolveDSN returns the connection string for l. getenv is os.Getenv
// outside tests. A Ledger without Kind resolves to "".
func (l Ledger) ResolveDSN(getenv func(string) string) (string, error) {
	if l.Kind == "" {
		return "", nil
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if dsn := strings.TrimSpace(os.Expand(l.DSN, getenv)); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(getenv(EnvLedgerDSN)); dsn != "" {
		return dsn, nil
	}

	env := func(k string) string { return strings.TrimSpace(getenv(k)) }
	extra, err := url.ParseQuery(env(EnvLedgerParams))
	if err != nil {
		return "", fmt.Errorf("%s: %w", EnvLedgerParams, err)
	}

	kind := NormalizeLedgerKind(l.Kind)
	if kind == "sqlite" {
		return sqliteDSN(env(EnvLedgerSQLitePath), extra), nil
	}

	host := env(EnvLedgerHost)
	if host == "" {
		return "", fmt.Errorf("%w: set ledger.dsn, %s or %s", ErrNoLedgerDSN, EnvLedgerDSN, EnvLedgerHost)
	}
	u := &url.URL{}
	if user := env(EnvLedgerUser); user != "" {
		// Passwords may legitimately carry spaces.
		if pass := getenv(EnvLedgerPassword); pass != "" {
			u.User = url.UserPassword(user, pass)
		} else {
			u.User = url.User(user)
		}
	}
	db := env(EnvLedgerDB)
	if db == "" {
		db = defaultLedgerDB
	}
	q := url.Values{}

	switch kind {
	case "postgres":
		u.Scheme = "postgresql"
		u.Host = net.JoinHostPort(host, orDefault(env(EnvLedgerPort), "5432"))
		u.Path = "/" + db
		q.Set("sslmode", orDefault(env(EnvLedgerSSLMode), "disable"))
	case "mssql":
		u.Scheme = "sqlserver"
		u.Host = net.JoinHostPort(host, orDefault(env(EnvLedgerPort), "1433"))
		q.Set("database", db)
		q.Set("encrypt", orDefault(env(EnvLedgerEncrypt), "disable"))
	default:
		return "", fmt.Errorf("unsupported ledger kind %q", l.Kind)
	}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// sqliteDSN treats path as a DSN when it already carries a scheme and as a
// file path otherwise.
func sqliteDSN(path string, extra url.Values) string {
	if path == "" {
		path = "ledger.db"
	}
	dsn := path
	if !strings.Contains(path, ":") {
		dsn = "file:" + path
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + extra.Encode()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
