// Package dbconn contains database connection and session-standardization
// utilities shared by every component that talks to the source or target
// replica.
package dbconn

import (
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	rdsTLSConfigName      = "rds"
	customTLSConfigName   = "custom"
	requiredTLSConfigName = "required"
	verifyCATLSConfigName = "verify_ca"
	verifyIDTLSConfigName = "verify_identity"
	maxConnLifetime       = time.Minute * 3
	maxIdleConns          = 10
)

// rdsAddr matches Amazon RDS hostnames with optional :port suffix.
// The leading \. ensures only legitimate *.rds.amazonaws.com subdomains
// match, preventing subdomain spoofing (e.g. fake-rds.amazonaws.com).
var (
	rdsAddr = regexp.MustCompile(`\.rds\.amazonaws\.com(:\d+)?$`)
	once    sync.Once
)

func IsRDSHost(host string) bool {
	return rdsAddr.MatchString(host)
}

// NewTLSConfig creates a TLS config that trusts the host's system CA pool.
// RDS's CA chain is cross-signed into most distributions' trust stores, so
// this covers the common case without shipping a certificate bundle; callers
// with a private CA should use TLSCertificatePath instead.
func NewTLSConfig() *tls.Config {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	return &tls.Config{RootCAs: pool}
}

// NewCustomTLSConfig creates a TLS config based on SSL mode and certificate data.
func NewCustomTLSConfig(certData []byte, sslMode string) *tls.Config {
	caCertPool := x509.NewCertPool()
	caCertPool.AppendCertsFromPEM(certData)

	switch strings.ToUpper(sslMode) {
	case "DISABLED":
		return nil
	case "PREFERRED":
		return &tls.Config{InsecureSkipVerify: true}
	case "REQUIRED":
		return &tls.Config{RootCAs: caCertPool, InsecureSkipVerify: true}
	case "VERIFY_CA":
		return &tls.Config{
			RootCAs:            caCertPool,
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return errors.New("no certificates provided")
				}
				var certs []*x509.Certificate
				for _, raw := range rawCerts {
					cert, err := x509.ParseCertificate(raw)
					if err != nil {
						return fmt.Errorf("failed to parse certificate: %w", err)
					}
					certs = append(certs, cert)
				}
				intermediates := x509.NewCertPool()
				for _, cert := range certs[1:] {
					intermediates.AddCert(cert)
				}
				_, err := certs[0].Verify(x509.VerifyOptions{Roots: caCertPool, Intermediates: intermediates})
				if err != nil {
					return fmt.Errorf("certificate verification failed: %w", err)
				}
				return nil
			},
		}
	case "VERIFY_IDENTITY":
		return &tls.Config{RootCAs: caCertPool, InsecureSkipVerify: false}
	default:
		return &tls.Config{InsecureSkipVerify: true}
	}
}

func initRDSTLS() error {
	var err error
	once.Do(func() {
		err = mysql.RegisterTLSConfig(rdsTLSConfigName, NewTLSConfig())
	})
	return err
}

func initCustomTLS(config *DBConfig) error {
	var tlsConfig *tls.Config
	if config.TLSCertificatePath != "" {
		certData, err := os.ReadFile(config.TLSCertificatePath)
		if err != nil {
			return err
		}
		tlsConfig = NewCustomTLSConfig(certData, config.TLSMode)
	} else {
		tlsConfig = NewTLSConfig()
	}
	if tlsConfig == nil {
		return nil
	}
	name := tlsConfigName(config.TLSMode)
	if err := mysql.RegisterTLSConfig(name, tlsConfig); err != nil && !strings.Contains(err.Error(), "already registered") {
		return err
	}
	return nil
}

func tlsConfigName(mode string) string {
	switch strings.ToUpper(mode) {
	case "DISABLED":
		return ""
	case "REQUIRED":
		return requiredTLSConfigName
	case "VERIFY_CA":
		return verifyCATLSConfigName
	case "VERIFY_IDENTITY":
		return verifyIDTLSConfigName
	default:
		return customTLSConfigName
	}
}

// newDSN appends session-standardization parameters and TLS configuration
// to a caller-supplied DSN. Every connection resync opens — source or
// target — goes through this so the two sides behave identically for the
// purposes of comparison (same time zone, same SQL mode, utf8mb4 with the
// binary utf8mb4_bin collation).
func newDSN(dsn string, config *DBConfig) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}

	if cfg.TLSConfig == "" && strings.ToUpper(config.TLSMode) != "DISABLED" {
		if IsRDSHost(cfg.Addr) && config.TLSCertificatePath == "" {
			if err := initRDSTLS(); err != nil {
				return "", err
			}
			cfg.TLSConfig = rdsTLSConfigName
		} else {
			if err := initCustomTLS(config); err != nil {
				return "", err
			}
			cfg.TLSConfig = tlsConfigName(config.TLSMode)
		}
	}

	if cfg.Params == nil {
		cfg.Params = make(map[string]string)
	}
	cfg.Params["sql_mode"] = `""`
	cfg.Params["time_zone"] = `"+00:00"`
	cfg.Params["innodb_lock_wait_timeout"] = strconv.Itoa(config.InnodbLockWaitTimeout)
	cfg.Params["lock_wait_timeout"] = strconv.Itoa(config.LockWaitTimeout)
	cfg.Params["charset"] = "utf8mb4"
	cfg.Collation = "utf8mb4_bin"
	cfg.RejectReadOnly = true
	cfg.AllowNativePasswords = true
	cfg.AllowCleartextPasswords = cfg.TLSConfig != ""

	return cfg.FormatDSN(), nil
}

// New opens and pings a connection, standardized for use as either the
// source or the target side of a synchronization run.
func New(inputDSN string, config *DBConfig) (*sql.DB, error) {
	return NewWithRole(inputDSN, config, "database")
}

// NewWithRole is like New but tags connection errors with the caller's
// role ("source" or "target") for clearer diagnostics.
func NewWithRole(inputDSN string, config *DBConfig, role string) (db *sql.DB, err error) {
	dsn, err := newDSN(inputDSN, config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", role, err)
	}
	db, err = sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", role, err)
	}
	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()
	//nolint: noctx // requires too much refactoring
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("[%s-CONNECTION] ping failed: %w", strings.ToUpper(role), err)
	}
	db.SetMaxOpenConns(config.MaxOpenConnections)
	db.SetConnMaxLifetime(maxConnLifetime)
	db.SetMaxIdleConns(maxIdleConns)
	return db, nil
}
