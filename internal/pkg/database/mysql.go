// internal/pkg/database/mysql.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"inventory-saga/internal/pkg/bootstrap"
	"inventory-saga/internal/pkg/logger"
)

// MySQL 错误码
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// DSN 根据配置构造 go-sql-driver 格式的连接串
func DSN(cfg bootstrap.MySQLConfig) string {
	c := mysqldriver.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	c.DBName = cfg.Database
	c.ParseTime = true
	// RowsAffected 按匹配行计数，内容未变的 UPDATE 不会被误判为记录不存在
	c.ClientFoundRows = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// Open 打开 GORM 连接并设置连接池参数
func Open(ctx context.Context, cfg bootstrap.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(DSN(cfg)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open mysql")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get sql.DB")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, pkgerrors.Wrap(err, "ping mysql")
	}

	logger.L().Info().Str("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).Str("db", cfg.Database).Msg("✅ Connected to MySQL.")
	return db, nil
}

// IsRetryable 判断错误是否为死锁或锁等待超时，这类事务可以整体重试
func IsRetryable(err error) bool {
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == errDeadlock || myErr.Number == errLockWaitTimeout
	}
	return false
}
