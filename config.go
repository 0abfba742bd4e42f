package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"proflo-api/api"
	"proflo-api/kanban"
	"proflo-api/storage"
)

const (
	defaultChangesChannel = "proflo:changes"
	defaultCacheTTL       = 5 * time.Minute
	defaultDeduperTTL     = 24 * time.Hour
	defaultListenAddr     = ":8080"
)

type authMode int

const (
	authJWKS authMode = iota
	authSharedSecret
)

type config struct {
	connStr     string
	names       storage.Names
	storageInit bool
	debug       bool
	redis       *redis.Options
	channel     string
	cacheTTL    time.Duration
	deduperTTL  time.Duration
	remoteTO    time.Duration
	activity    api.ActivityConfig
	policy      kanban.ReconcilePolicy
	authMode    authMode
	auth0Domain string
	auth        api.AuthConfig
	listenAddr  string
}

// loadConfig reads the service configuration through getenv. Any missing or
// invalid value is returned as an error.
func loadConfig(getenv func(string) string) (config, error) {
	var cfg config
	var err error

	if v := getenv("DEBUG"); v != "" {
		if cfg.debug, err = strconv.ParseBool(v); err != nil {
			return cfg, fmt.Errorf("invalid DEBUG: %q", v)
		}
	}
	cfg.storageInit = getenv("STORAGE_INIT") == "1"

	cfg.connStr = getenv("STORAGE_CONNECTION_STRING")
	cfg.names = storage.Names{
		ProjectsTable: getenv("PROJECTS_TABLE"),
		TasksTable:    getenv("TASKS_TABLE"),
		NotesTable:    getenv("NOTES_TABLE"),
		ActivityQueue: getenv("ACTIVITY_QUEUE"),
	}
	if cfg.connStr == "" || cfg.names.ProjectsTable == "" || cfg.names.TasksTable == "" ||
		cfg.names.NotesTable == "" || cfg.names.ActivityQueue == "" {
		return cfg, errors.New("missing storage config")
	}

	redisConn := getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		return cfg, errors.New("missing redis config")
	}
	cfg.redis = redisOptions(redisConn)

	cfg.channel = getenv("CHANGES_CHANNEL")
	if cfg.channel == "" {
		cfg.channel = defaultChangesChannel
	}
	if cfg.cacheTTL, err = durationEnv(getenv, "CACHE_TTL", defaultCacheTTL); err != nil {
		return cfg, err
	}
	if cfg.deduperTTL, err = durationEnv(getenv, "DEDUPER_TTL", defaultDeduperTTL); err != nil {
		return cfg, err
	}
	if cfg.remoteTO, err = durationEnv(getenv, "REMOTE_TIMEOUT", api.DefaultRemoteTimeout); err != nil {
		return cfg, err
	}
	if cfg.activity, err = activityConfig(getenv); err != nil {
		return cfg, err
	}

	switch strings.ToLower(getenv("RECONCILE_POLICY")) {
	case "", "last-writer-wins", "lww":
		cfg.policy = kanban.LastWriterWins
	case "newer-wins", "newer":
		cfg.policy = kanban.NewerWins
	default:
		return cfg, fmt.Errorf("invalid RECONCILE_POLICY: %q", getenv("RECONCILE_POLICY"))
	}

	cfg.auth.TenantClaim = getenv("TENANT_CLAIM")
	if cfg.auth.KeyCacheTTL, err = durationEnv(getenv, "JWKS_CACHE_TTL", api.DefaultJWKSCacheTTL); err != nil {
		return cfg, err
	}
	switch {
	case strings.EqualFold(getenv("LOCAL_AUTH_MODE"), "hs256"):
		secret := getenv("LOCAL_AUTH_SHARED_SECRET")
		if secret == "" {
			return cfg, errors.New("missing LOCAL_AUTH_SHARED_SECRET")
		}
		cfg.authMode = authSharedSecret
		cfg.auth.SharedSecret = []byte(secret)
		cfg.auth.Audience = getenv("AUTH0_AUDIENCE")
	case getenv("AUTH0_TEST_MODE") == "1":
		secret := getenv("TEST_JWT_SECRET")
		if secret == "" {
			return cfg, errors.New("missing TEST_JWT_SECRET")
		}
		cfg.authMode = authSharedSecret
		cfg.auth.SharedSecret = []byte(secret)
	default:
		cfg.auth0Domain = getenv("AUTH0_DOMAIN")
		cfg.auth.Audience = getenv("AUTH0_AUDIENCE")
		if cfg.auth0Domain == "" || cfg.auth.Audience == "" {
			return cfg, errors.New("missing Auth0 config")
		}
		cfg.authMode = authJWKS
		cfg.auth.Issuer = "https://" + cfg.auth0Domain + "/"
	}

	cfg.listenAddr = defaultListenAddr
	if port := getenv("FUNCTIONS_CUSTOMHANDLER_PORT"); port != "" {
		cfg.listenAddr = ":" + port
	}
	return cfg, nil
}

func (c config) jwksURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.auth0Domain)
}

// activityConfig reads the activity worker sizing. Unset values keep the
// pool defaults; ACTIVITY_HANDOFF_TIMEOUT=0 disables waiting for capacity.
func activityConfig(getenv func(string) string) (api.ActivityConfig, error) {
	var c api.ActivityConfig
	var err error
	if c.Workers, err = intEnv(getenv, "ACTIVITY_WORKERS"); err != nil {
		return c, err
	}
	if c.Buffer, err = intEnv(getenv, "ACTIVITY_BUFFER"); err != nil {
		return c, err
	}
	if c.Timeout, err = durationEnv(getenv, "ACTIVITY_TIMEOUT", api.DefaultActivityTimeout); err != nil {
		return c, err
	}
	if v := getenv("ACTIVITY_HANDOFF_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return c, fmt.Errorf("invalid ACTIVITY_HANDOFF_TIMEOUT: %q", v)
		}
		c.HandoffTimeout = d
		if d == 0 {
			c.HandoffTimeout = -1
		}
	}
	return c, nil
}

// intEnv parses a positive integer. Unset yields 0.
func intEnv(getenv func(string) string, name string) (int, error) {
	v := strings.TrimSpace(getenv(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func durationEnv(getenv func(string) string, name string, def time.Duration) (time.Duration, error) {
	v := getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return d, nil
}

// redisOptions accepts a redis:// URL or the Azure Cache for Redis form
// "host:port,password=...,ssl=True".
func redisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}
