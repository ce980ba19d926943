package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type RetryCfg struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

type GeocoderCfg struct {
	URL       string
	UserAgent string
	RPS       float64
	CacheSize int
	Validate  bool
}

type LookaroundCfg struct {
	AuthURL  string
	TileURL  string
	FaceZoom int
}

type StreetviewCfg struct {
	URL    string
	APIKey string
}

type StoreCfg struct {
	Driver    string
	OutputDir string
	S3Bucket  string
	S3Prefix  string
	S3Region  string
	RedisAddr string
	RedisTTL  time.Duration
}

type EventsCfg struct {
	Brokers string
	Topic   string
	Queue   int
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	Providers       []string
	SearchRadiusM   float64
	Concurrency     int
	WaypointTimeout time.Duration
	DecoderPriority []string
	DecodeMaxWidth  int
	MetricsEnabled  bool
	Retry           RetryCfg
	Geocoder        GeocoderCfg
	Lookaround      LookaroundCfg
	Streetview      StreetviewCfg
	Store           StoreCfg
	Events          EventsCfg
}

func FromEnv() Config {
	concurrency := getint("CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}

	radius := getfloat("SEARCH_RADIUS_M", 50)
	if radius <= 0 {
		radius = 50
	}

	attempts := getint("RETRY_MAX_ATTEMPTS", 3)
	if attempts < 1 {
		attempts = 1
	}

	return Config{
		Addr:            getenv("ADDR", ":8080"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		Providers:       getlist("PROVIDERS", "lookaround"),
		SearchRadiusM:   radius,
		Concurrency:     concurrency,
		WaypointTimeout: getduration("WAYPOINT_TIMEOUT", 30*time.Second),
		DecoderPriority: getlist("DECODER_PRIORITY", "heif,heifconvert,stdimage,webp"),
		DecodeMaxWidth:  getint("DECODE_MAX_WIDTH", 4096),
		MetricsEnabled:  getbool("METRICS_ENABLED", true),
		Retry: RetryCfg{
			MaxAttempts: attempts,
			BaseDelay:   getduration("RETRY_BASE_DELAY", 200*time.Millisecond),
			MaxDelay:    getduration("RETRY_MAX_DELAY", 5*time.Second),
		},
		Geocoder: GeocoderCfg{
			URL:       getenv("GEOCODER_URL", "https://nominatim.openstreetmap.org"),
			UserAgent: getenv("GEOCODER_USER_AGENT", "VideoAIPlatform/1.0 (image-harvest-service)"),
			RPS:       getfloat("GEOCODER_RPS", 1),
			CacheSize: getint("GEOCODER_CACHE_SIZE", 512),
			Validate:  getbool("GEOCODER_VALIDATE", false),
		},
		Lookaround: LookaroundCfg{
			AuthURL:  getenv("LOOKAROUND_AUTH_URL", "https://gspe35-ssl.ls.apple.com"),
			TileURL:  getenv("LOOKAROUND_TILE_URL", "https://gspe76-ssl.ls.apple.com"),
			FaceZoom: getint("LOOKAROUND_FACE_ZOOM", 2),
		},
		Streetview: StreetviewCfg{
			URL:    getenv("STREETVIEW_URL", "https://maps.googleapis.com/maps/api"),
			APIKey: getenv("STREETVIEW_API_KEY", ""),
		},
		Store: StoreCfg{
			Driver:    getenv("STORE_DRIVER", "fs"),
			OutputDir: getenv("OUTPUT_DIR", "output"),
			S3Bucket:  getenv("S3_BUCKET", ""),
			S3Prefix:  getenv("S3_PREFIX", "panoramas"),
			S3Region:  getenv("AWS_REGION", "us-east-1"),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			RedisTTL:  getduration("REDIS_TTL", time.Hour),
		},
		Events: EventsCfg{
			Brokers: getenv("KAFKA_BROKERS", ""),
			Topic:   getenv("KAFKA_TOPIC", "harvest.completed"),
			Queue:   getint("KAFKA_QUEUE", 1024),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "lookaround,streetview" into a trimmed list, empty entries dropped
func getlist(k, def string) []string {
	s := strings.TrimSpace(getenv(k, def))
	if s == "" {
		return nil
	}
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
