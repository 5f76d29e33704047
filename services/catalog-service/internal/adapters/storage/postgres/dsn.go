package postgres

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrEmptyHost     = errors.New("postgres: host is empty")
	ErrInvalidPort   = errors.New("postgres: port is out of range")
	ErrEmptyUser     = errors.New("postgres: user is empty")
	ErrEmptyPassword = errors.New("postgres: password is empty")
	ErrEmptyDatabase = errors.New("postgres: database name is empty")
	ErrEmptySSLMode  = errors.New("postgres: sslmode is empty")
	ErrInvalidPool   = errors.New("postgres: pool size is negative")
	ErrInvalidTimeout = errors.New("postgres: connect timeout is negative")
)

// ConnOptions параметры подключения из секции postgres конфигурации
type ConnOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Timeout  time.Duration
	PoolSize int
}

func (o ConnOptions) validate() error {
	switch {
	case o.Host == "":
		return ErrEmptyHost
	case o.Port <= 0 || o.Port > 65535:
		return ErrInvalidPort
	case o.User == "":
		return ErrEmptyUser
	case o.Password == "":
		return ErrEmptyPassword
	case o.DBName == "":
		return ErrEmptyDatabase
	case o.SSLMode == "":
		return ErrEmptySSLMode
	case o.Timeout < 0:
		return ErrInvalidTimeout
	case o.PoolSize < 0:
		return ErrInvalidPool
	}
	return nil
}

// ConnectionString собирает URL подключения для pgxpool. Учетные данные экранируются,
// результат проверяется разбором pgxpool.ParseConfig.
func ConnectionString(o ConnOptions) (string, error) {
	if err := o.validate(); err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set("sslmode", o.SSLMode)
	if o.Timeout > 0 {
		query.Set("connect_timeout", strconv.Itoa(max(1, int(o.Timeout.Seconds()))))
	}
	if o.PoolSize > 0 {
		query.Set("pool_max_conns", strconv.Itoa(o.PoolSize))
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(o.User, o.Password),
		Host:     net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
		Path:     "/" + o.DBName,
		RawQuery: query.Encode(),
	}
	dsn := u.String()

	if _, err := pgxpool.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("postgres: invalid connection string: %w", err)
	}
	return dsn, nil
}
