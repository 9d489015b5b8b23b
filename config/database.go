package config

// DBConfig contains PostgreSQL database configuration.
// Postgres backs the user_roles table when ROLE_SOURCE=postgres.
type DBConfig struct {
	Enabled  bool   `env:"ENABLED"  envDefault:"false"`
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"mindguard"`
	Password string `env:"PASSWORD" envDefault:"mindguard"`
	Name     string `env:"NAME"     envDefault:"mindguard"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig locates the single Redis server that persists sessions.
// An empty URI keeps session persistence in memory.
type RedisConfig struct {
	// URI is a redis:// or rediss:// URL, or a bare host:port.
	URI string `env:"URI" envDefault:""`
	// Password applies when URI carries none.
	Password string `env:"PASSWORD" envDefault:""`
}

// Configured reports whether a Redis server is configured.
func (r *RedisConfig) Configured() bool {
	return r != nil && r.URI != ""
}
