package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/roomsync/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
	usage        string
}

var (
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 80,
		usage:        "Server port",
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
		usage:        "Server host",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
		usage:        "Logging level",
	}
	backend = configVar[string]{
		envKey:       "SERVER_BACKEND",
		flagKey:      "backend",
		defaultValue: app.BackendRedis,
		usage:        "Room store and action bus backend (redis or memory)",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
		usage:        "Redis port",
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
		usage:        "Redis host",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
		usage:        "Redis password",
	}
	roomTTL = configVar[time.Duration]{
		envKey:       "SERVER_ROOM_TTL",
		flagKey:      "room-ttl",
		defaultValue: 24 * time.Hour,
		usage:        "Time a room and its members outlive their last connected session (0 disables expiry)",
	}
	telemetryInterval = configVar[time.Duration]{
		envKey:       "SERVER_TELEMETRY_INTERVAL",
		flagKey:      "telemetry-interval",
		defaultValue: 5 * time.Second,
		usage:        "How often a playing session broadcasts its position",
	}
	joinSyncDelay = configVar[time.Duration]{
		envKey:       "SERVER_JOIN_SYNC_DELAY",
		flagKey:      "join-sync-delay",
		defaultValue: time.Second,
		usage:        "Delay before a joining guest asks peers for their position",
	}
	syncResponder = configVar[string]{
		envKey:       "SERVER_SYNC_RESPONDER",
		flagKey:      "sync-responder",
		defaultValue: "host",
		usage:        "Who answers sync requests (host, all or none)",
	}
	notificationLimit = configVar[int]{
		envKey:       "SERVER_NOTIFICATION_LIMIT",
		flagKey:      "notification-limit",
		defaultValue: 5,
		usage:        "Maximum number of notifications kept per session",
	}
	notificationTTL = configVar[time.Duration]{
		envKey:       "SERVER_NOTIFICATION_TTL",
		flagKey:      "notification-ttl",
		defaultValue: 4 * time.Second,
		usage:        "Lifetime of a notification",
	}
	wsRateLimit = configVar[float64]{
		envKey:       "SERVER_WS_RATE_LIMIT",
		flagKey:      "ws-rate-limit",
		defaultValue: 20,
		usage:        "Inbound websocket messages per second per connection (0 disables)",
	}
	wsRateBurst = configVar[int]{
		envKey:       "SERVER_WS_RATE_BURST",
		flagKey:      "ws-rate-burst",
		defaultValue: 40,
		usage:        "Inbound websocket message burst per connection",
	}
)

func bind[T any](v configVar[T]) {
	viper.BindEnv(v.flagKey, v.envKey)
	viper.SetDefault(v.flagKey, v.defaultValue)
}

func loadAppConfig() *app.AppConfig {
	// .env is optional
	_ = godotenv.Load()

	pflag.Int(port.flagKey, port.defaultValue, port.usage)
	pflag.String(host.flagKey, host.defaultValue, host.usage)
	pflag.String(logLevel.flagKey, logLevel.defaultValue, logLevel.usage)
	pflag.String(backend.flagKey, backend.defaultValue, backend.usage)
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, redisPort.usage)
	pflag.String(redisHost.flagKey, redisHost.defaultValue, redisHost.usage)
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, redisPassword.usage)
	pflag.Duration(roomTTL.flagKey, roomTTL.defaultValue, roomTTL.usage)
	pflag.Duration(telemetryInterval.flagKey, telemetryInterval.defaultValue, telemetryInterval.usage)
	pflag.Duration(joinSyncDelay.flagKey, joinSyncDelay.defaultValue, joinSyncDelay.usage)
	pflag.String(syncResponder.flagKey, syncResponder.defaultValue, syncResponder.usage)
	pflag.Int(notificationLimit.flagKey, notificationLimit.defaultValue, notificationLimit.usage)
	pflag.Duration(notificationTTL.flagKey, notificationTTL.defaultValue, notificationTTL.usage)
	pflag.Float64(wsRateLimit.flagKey, wsRateLimit.defaultValue, wsRateLimit.usage)
	pflag.Int(wsRateBurst.flagKey, wsRateBurst.defaultValue, wsRateBurst.usage)
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	bind(port)
	bind(host)
	bind(logLevel)
	bind(backend)
	bind(redisPort)
	bind(redisHost)
	bind(redisPassword)
	bind(roomTTL)
	bind(telemetryInterval)
	bind(joinSyncDelay)
	bind(syncResponder)
	bind(notificationLimit)
	bind(notificationTTL)
	bind(wsRateLimit)
	bind(wsRateBurst)

	return &app.AppConfig{
		Host:              viper.GetString(host.flagKey),
		Port:              viper.GetInt(port.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
		Backend:           viper.GetString(backend.flagKey),
		RedisHost:         viper.GetString(redisHost.flagKey),
		RedisPort:         viper.GetInt(redisPort.flagKey),
		RedisPassword:     viper.GetString(redisPassword.flagKey),
		RoomTTL:           viper.GetDuration(roomTTL.flagKey),
		TelemetryInterval: viper.GetDuration(telemetryInterval.flagKey),
		JoinSyncDelay:     viper.GetDuration(joinSyncDelay.flagKey),
		SyncResponder:     viper.GetString(syncResponder.flagKey),
		NotificationLimit: viper.GetInt(notificationLimit.flagKey),
		NotificationTTL:   viper.GetDuration(notificationTTL.flagKey),
		WSRateLimit:       viper.GetFloat64(wsRateLimit.flagKey),
		WSRateBurst:       viper.GetInt(wsRateBurst.flagKey),
	}
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	if err := app.Run(ctx, appConfig); err != nil {
		log.Fatal(err)
	}
}
