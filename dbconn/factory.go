// Copyright 2024 Block, Inc.

// Package dbconn provides the connection Manager and a Factory that makes
// *sql.DB connections to Db2, MySQL, or PostgreSQL.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dbpoll/dbpoll"
	"github.com/dbpoll/dbpoll/aws"
)

// Factory makes a *sql.DB for an instance. It also returns a print-safe DSN.
type Factory interface {
	Make(dbpoll.ConfigInstance) (*sql.DB, string, error)
}

type PasswordFunc func(context.Context) (string, error)

// factory is the Factory used in production. Tests use mock.DbFactory.
type factory struct {
	awsConfig dbpoll.AWSConfigFactory
	modifyDB  func(*sql.DB, string)
}

var _ Factory = factory{}

// NewConnFactory returns a Factory that opens real connections. awsConfig
// is required only for instances that use aws.password-secret or
// aws.auth-token. modifyDB is optional.
func NewConnFactory(awsConfig dbpoll.AWSConfigFactory, modifyDB func(*sql.DB, string)) factory {
	return factory{
		awsConfig: awsConfig,
		modifyDB:  modifyDB,
	}
}

// Make makes a *sql.DB for the instance. The config must be complete:
// defaults and env var interpolations already applied. The returned DSN
// has the password replaced by "...".
func (f factory) Make(cfg dbpoll.ConfigInstance) (*sql.DB, string, error) {
	d, err := GetDialect(cfg.Dialect)
	if err != nil {
		return nil, "", err
	}

	passwordFunc, err := f.Password(cfg)
	if err != nil {
		return nil, "", err
	}

	timeout, _ := time.ParseDuration(dbpoll.SetOrDefault(cfg.TimeoutConnect, dbpoll.DEFAULT_TIMEOUT_CONNECT))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	password, err := passwordFunc(ctx)
	if err != nil {
		return nil, "", err
	}

	if d.Name == "mysql" {
		// Hotswap driver calls Repo.ReloadDSN on auth error
		Repo.Add(d.Addr(cfg.Host), func(ctx context.Context) (Credentials, error) {
			password, err := passwordFunc(ctx)
			return Credentials{Username: cfg.User, Password: password}, err
		})
	}

	dsn := d.DSN(cfg, password)
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, "", err
	}

	// One session per instance: every category runs on it sequentially
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if f.modifyDB != nil {
		f.modifyDB(db, dsn)
	}

	return db, d.RedactedDSN(dsn), nil
}

// Password returns a func that returns the instance password from, in order
// of precedence: AWS IAM auth token, AWS Secrets Manager, password file,
// or the config.
func (f factory) Password(cfg dbpoll.ConfigInstance) (PasswordFunc, error) {
	if dbpoll.True(cfg.AWS.AuthToken) {
		// Password generated as IAM auth token (valid 15 min)
		dbpoll.Debug("password from AWS IAM auth token")
		d, _ := GetDialect(cfg.Dialect)
		if d.Name == "db2" {
			return nil, fmt.Errorf("%w: instance %s: aws.auth-token not supported by db2", dbpoll.ErrConfig, cfg.Name)
		}
		if d.Name == "mysql" {
			aws.RegisterRDSCA()
		}
		awscfg, err := f.makeAWS(cfg)
		if err != nil {
			return nil, err
		}
		token := aws.NewAuthToken(cfg.User, d.Addr(cfg.Host), awscfg)
		return token.Password, nil
	}

	if cfg.AWS.PasswordSecret != "" {
		dbpoll.Debug("password from AWS Secrets Manager")
		awscfg, err := f.makeAWS(cfg)
		if err != nil {
			return nil, err
		}
		secret := aws.NewSecret(cfg.AWS.PasswordSecret, awscfg)
		return secret.Password, nil
	}

	if cfg.PasswordFile != "" {
		dbpoll.Debug("password from file %s", cfg.PasswordFile)
		return func(context.Context) (string, error) {
			bytes, err := os.ReadFile(cfg.PasswordFile)
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(string(bytes)), nil
		}, nil
	}

	if cfg.Password != "" {
		dbpoll.Debug("password from config")
		return func(context.Context) (string, error) { return cfg.Password, nil }, nil
	}

	return nil, dbpoll.ErrMissingParam{Instance: cfg.Name, Param: "password"}
}

func (f factory) makeAWS(cfg dbpoll.ConfigInstance) (awssdk.Config, error) {
	if f.awsConfig == nil {
		return awssdk.Config{}, fmt.Errorf("no AWS config factory")
	}
	region := cfg.AWS.Region
	if region == "" && !dbpoll.True(cfg.AWS.DisableAutoRegion) {
		region = "auto"
	}
	return f.awsConfig.Make(dbpoll.AWS{Region: region})
}
