package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"marketplace/internal/pkg/logger"
)

// MySQLOptions 连接池参数
type MySQLOptions struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// OpenMySQL 打开连接池并可选执行建表
func OpenMySQL(ctx context.Context, opts MySQLOptions) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(opts.DSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: false, // 主键冲突由仓储按 MySQL 错误号识别
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, errors.Wrap(err, "ping mysql")
	}

	if opts.AutoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(AllModels()...); err != nil {
			return nil, errors.Wrap(err, "auto migrate")
		}
	}
	logger.Ctx(ctx).Info().Msg("✅ Successfully connected to MySQL.")
	return db, nil
}
