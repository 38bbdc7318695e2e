package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/config"
)

// DatabaseURL 由应用配置生成连接串，database 包与迁移共用
func DatabaseURL(dbCfg config.DatabaseConfig) (DatabaseType, string, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return "", "", err
	}
	if dbCfg.DSN != "" {
		return dbType, dbCfg.DSN, nil
	}
	switch dbType {
	case DatabaseTypeSQLite:
		// Name holds the file path
		return dbType, BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", ""), nil
	default:
		return dbType, BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode), nil
	}
}

// NewMigratorFromDatabaseConfig 根据数据库配置创建迁移器
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, url, err := DatabaseURL(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  url,
		Logger:       logger,
	})
}
