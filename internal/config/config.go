package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // NSQ topic for delivery tasks
	DLQTopic        string // optional mirror topic for dead-lettered tasks
	WorkerChannel   string // NSQ channel name for workers
}

type Delivery struct {
	MaxAttempts       int             // Retry budget per delivery
	RetrySchedule     []time.Duration // Tiered next_retry_at offsets, capped at the last tier
	Timeout           time.Duration   // Outbound HTTP timeout
	ResponseBodyLimit int             // Bytes of subscriber response body kept on the record
}

type Task struct {
	MaxRetries      int             // Queue-level retry budget for transient handler errors
	Backoff         []time.Duration // Requeue backoff schedule
	JitterPercent   float64         // Backoff jitter percentage (0.0-1.0)
	PublishDLQTopic bool            // Mirror dead-lettered tasks onto the NSQ DLQ topic
}

type Sweeper struct {
	Interval  time.Duration // Sweep period for due retries
	BatchSize int           // Max deliveries claimed per sweep
}

type Worker struct {
	HTTPPort    string // Worker health/metrics port
	MaxInFlight int    // NSQ consumer max in-flight messages
}

type Auth struct {
	JWTPublicKeyPEM string // PEM-encoded RSA public key; empty disables auth
	Issuer          string
	Audience        string
}

type FakeReceiver struct {
	FailFirstN      int           // Number of requests to fail initially
	SigningSecret   string        // Secret for webhook signature verification
	ResponseDelayMS int           // Simulated response delay in milliseconds
	Port            string        // Server listen port
	ReadTimeout     time.Duration // HTTP read timeout
	WriteTimeout    time.Duration // HTTP write timeout
	IdleTimeout     time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080
	DB           DB
	NSQ          NSQ
	Delivery     Delivery
	Task         Task
	Sweeper      Sweeper
	Worker       Worker
	Auth         Auth
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseSchedule parses a comma-separated list of durations, falling back to
// def when the input is empty or nothing parses.
func parseSchedule(schedule string, def []time.Duration) []time.Duration {
	if schedule == "" {
		return def
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		return def
	}

	return durations
}

func defaultRetrySchedule() []time.Duration {
	return []time.Duration{5 * time.Minute, 30 * time.Minute, 2 * time.Hour}
}

func defaultTaskBackoff() []time.Duration {
	return []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second, 1 * time.Minute}
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "hookrelay"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "hookrelay"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			DLQTopic:        getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Delivery: Delivery{
			MaxAttempts:       getenvInt("DELIVERY_MAX_ATTEMPTS", 3),
			RetrySchedule:     parseSchedule(getenv("DELIVERY_RETRY_SCHEDULE", ""), defaultRetrySchedule()),
			Timeout:           getenvDuration("DELIVERY_TIMEOUT", 30*time.Second),
			ResponseBodyLimit: getenvInt("DELIVERY_RESPONSE_BODY_LIMIT", 512),
		},
		Task: Task{
			MaxRetries:      getenvInt("TASK_MAX_RETRIES", 4),
			Backoff:         parseSchedule(getenv("TASK_BACKOFF_SCHEDULE", ""), defaultTaskBackoff()),
			JitterPercent:   getenvFloat("TASK_BACKOFF_JITTER_PCT", 0.25),
			PublishDLQTopic: getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		Sweeper: Sweeper{
			Interval:  getenvDuration("SWEEP_INTERVAL", 5*time.Minute),
			BatchSize: getenvInt("SWEEP_BATCH_SIZE", 100),
		},
		Worker: Worker{
			HTTPPort:    ":" + getenv("WORKER_HTTP_PORT", "8083"),
			MaxInFlight: getenvInt("WORKER_MAX_IN_FLIGHT", 64),
		},
		Auth: Auth{
			JWTPublicKeyPEM: getenv("JWT_PUBLIC_KEY_PEM", ""),
			Issuer:          getenv("JWT_ISSUER", "hookrelay"),
			Audience:        getenv("JWT_AUDIENCE", "hookrelay-api"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:      getenvInt("FAIL_FIRST_N", 0),
			SigningSecret:   getenv("RECEIVER_SECRET", ""),
			ResponseDelayMS: getenvInt("RESPONSE_DELAY_MS", 0),
			Port:            getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:     getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 35*time.Second),
			IdleTimeout:     getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
