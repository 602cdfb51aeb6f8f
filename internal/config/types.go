package config

import "time"

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type SessionConfig struct {
	AccessTokenTTL     time.Duration `mapstructure:"access_token_ttl"`
	RememberMeTTL      time.Duration `mapstructure:"remember_me_ttl"`
	RefreshTokenTTL    time.Duration `mapstructure:"refresh_token_ttl"`
	RefreshedAccessTTL time.Duration `mapstructure:"refreshed_access_ttl"`
	RefreshedTTL       time.Duration `mapstructure:"refreshed_refresh_ttl"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	AbsoluteTimeout    time.Duration `mapstructure:"absolute_timeout"`
}

type LockoutConfig struct {
	ShortThreshold  int           `mapstructure:"short_threshold"`
	ShortDuration   time.Duration `mapstructure:"short_duration"`
	MediumThreshold int           `mapstructure:"medium_threshold"`
	MediumDuration  time.Duration `mapstructure:"medium_duration"`
	LongThreshold   int           `mapstructure:"long_threshold"`
	LongDuration    time.Duration `mapstructure:"long_duration"`
}

type OneTimeTokenConfig struct {
	PasswordResetTTL     time.Duration `mapstructure:"password_reset_ttl"`
	EmailVerificationTTL time.Duration `mapstructure:"email_verification_ttl"`
	IssueWindow          time.Duration `mapstructure:"issue_window"`
	IssueLimit           int           `mapstructure:"issue_limit"`
	Retention            time.Duration `mapstructure:"retention"`
}

type TwoFactorConfig struct {
	Issuer      string `mapstructure:"issuer"`
	DriftSteps  uint   `mapstructure:"drift_steps"`
	BackupCodes int    `mapstructure:"backup_codes"`
}

type APIKeyConfig struct {
	AllowedScopes  []string `mapstructure:"allowed_scopes"`
	MaxKeysPerUser int      `mapstructure:"max_keys_per_user"`
}

type PasswordConfig struct {
	BcryptCost   int `mapstructure:"bcrypt_cost"`
	HistoryDepth int `mapstructure:"history_depth"`
	MinLength    int `mapstructure:"min_length"`
}

type MaintenanceConfig struct {
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	SessionRetention time.Duration `mapstructure:"session_retention"`
	BatchSize        int           `mapstructure:"batch_size"`
}

type AppConfig struct {
	Database    DatabaseConfig     `mapstructure:"database"`
	Session     SessionConfig      `mapstructure:"session"`
	Lockout     LockoutConfig      `mapstructure:"lockout"`
	Tokens      OneTimeTokenConfig `mapstructure:"tokens"`
	TwoFactor   TwoFactorConfig    `mapstructure:"two_factor"`
	APIKeys     APIKeyConfig       `mapstructure:"api_keys"`
	Password    PasswordConfig     `mapstructure:"password"`
	Maintenance MaintenanceConfig  `mapstructure:"maintenance"`
}
