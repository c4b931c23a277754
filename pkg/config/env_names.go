package config

// EnvPrefix is the namespace applied by envconfig to every variable.
const EnvPrefix = "LABSTOCK"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "LABSTOCK_APP_ENV"
	EnvPort     = "LABSTOCK_APP_PORT"
	EnvDBDSN    = "LABSTOCK_DB_DSN"
	EnvDBHost   = "LABSTOCK_DB_HOST"
	EnvDBUser   = "LABSTOCK_DB_USER"
	EnvDBName   = "LABSTOCK_DB_NAME"
	EnvRedisURL = "LABSTOCK_REDIS_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
