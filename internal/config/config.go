package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/transfer"
	"github.com/The-Promised-Neverland/cardhost/pkg/idcommands"
	"github.com/joho/godotenv"
)

// Config holds cardhost configuration. Fields are unexported to prevent modification.
type Config struct {
	deviceID           string
	cardRoot           string
	cardAutoCreate     bool
	maxFSTasks         int
	httpAddr           string
	ftpAddr            string
	ftpUser            string
	ftpPassword        string
	ftpPasvMin         int
	ftpPasvMax         int
	ftpPublicHost      string
	stunServer         string
	chunkSize          int
	fsRetryLimit       int
	netRetryLimit      int
	retryDelay         time.Duration
	streamReadTimeout  time.Duration
	netWriteTimeout    time.Duration
	metricsInterval    time.Duration
	historyDB          string
	logFile            string
	serviceName        string
	serviceDisplayName string
	serviceDescription string
	binaryPath         string
}

func defaultBinaryPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(
			os.Getenv("ProgramFiles"),
			"Cardhost",
			"cardhost.exe",
		)
	case "darwin", "linux":
		return "/usr/local/bin/cardhost"
	default:
		return ""
	}
}

func defaultCardRoot() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Cardhost", "card")
	default:
		return "/var/lib/cardhost/card"
	}
}

func New() *Config {
	_ = godotenv.Load() // ignore error if .env not found

	cardRoot := envString("CARD_ROOT", defaultCardRoot())
	pasvMin, pasvMax := parsePortRange(os.Getenv("FTP_PASV_PORTS"))

	cfg := &Config{
		deviceID:           idcommands.GenerateDeviceID(),
		cardRoot:           cardRoot,
		cardAutoCreate:     envBool("CARD_AUTOCREATE", true),
		maxFSTasks:         envInt("MAX_FS_TASKS", 10),
		httpAddr:           envString("HTTP_ADDR", ":8080"),
		ftpAddr:            envString("FTP_ADDR", ":2121"),
		ftpUser:            os.Getenv("FTP_USER"),
		ftpPassword:        os.Getenv("FTP_PASSWORD"),
		ftpPasvMin:         pasvMin,
		ftpPasvMax:         pasvMax,
		ftpPublicHost:      os.Getenv("FTP_PUBLIC_HOST"),
		stunServer:         envString("STUN_SERVER", "stun.l.google.com:19302"),
		chunkSize:          envInt("TRANSFER_CHUNK_SIZE", transfer.DefaultChunkSize),
		fsRetryLimit:       envInt("FS_RETRY_LIMIT", transfer.DefaultStoreRetryLimit),
		netRetryLimit:      envInt("NET_RETRY_LIMIT", transfer.DefaultStreamRetryLimit),
		retryDelay:         envMillis("RETRY_DELAY_MS", transfer.DefaultRetryDelay),
		streamReadTimeout:  envMillis("STREAM_READ_TIMEOUT_MS", transfer.DefaultStreamReadTimeout),
		netWriteTimeout:    envMillis("NET_WRITE_TIMEOUT_MS", 5*time.Second),
		metricsInterval:    envSeconds("METRICS_INTERVAL", 10*time.Second),
		historyDB:          envString("HISTORY_DB", filepath.Join(filepath.Dir(cardRoot), "history.db")),
		logFile:            envString("LOG_FILE", "cardhost.log"),
		serviceName:        envString("SERVICE_NAME", "Cardhost"),
		serviceDisplayName: envString("SERVICE_DISPLAY_NAME", "Cardhost Flash Card Server"),
		serviceDescription: envString("SERVICE_DESCRIPTION", "Serves a flash card over HTTP and FTP and streams its status to a browser"),
	}
	cfg.binaryPath = defaultBinaryPath()
	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}

func envMillis(key string, def time.Duration) time.Duration {
	ms, err := strconv.Atoi(os.Getenv(key))
	if err != nil || ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func envSeconds(key string, def time.Duration) time.Duration {
	sec, err := strconv.Atoi(os.Getenv(key))
	if err != nil || sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}

// parsePortRange reads "50000-50100". Anything else yields 0, 0, meaning
// the kernel picks passive ports.
func parsePortRange(s string) (int, int) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0
	}
	min, err1 := strconv.Atoi(strings.TrimSpace(lo))
	max, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil || min <= 0 || max > 65535 || min > max {
		return 0, 0
	}
	return min, max
}

// Getter methods (immutable from outside)

func (c *Config) DeviceID() string {
	return c.deviceID
}

func (c *Config) CardRoot() string {
	return c.cardRoot
}

func (c *Config) CardAutoCreate() bool {
	return c.cardAutoCreate
}

func (c *Config) MaxFSTasks() int {
	return c.maxFSTasks
}

func (c *Config) HTTPAddr() string {
	return c.httpAddr
}

func (c *Config) FTPAddr() string {
	return c.ftpAddr
}

func (c *Config) FTPUser() string {
	return c.ftpUser
}

func (c *Config) FTPPassword() string {
	return c.ftpPassword
}

// FTPPassivePorts returns the passive port range, 0, 0 when unset.
func (c *Config) FTPPassivePorts() (int, int) {
	return c.ftpPasvMin, c.ftpPasvMax
}

func (c *Config) FTPPublicHost() string {
	return c.ftpPublicHost
}

func (c *Config) STUNServer() string {
	return c.stunServer
}

func (c *Config) NetWriteTimeout() time.Duration {
	return c.netWriteTimeout
}

func (c *Config) MetricsInterval() time.Duration {
	return c.metricsInterval
}

func (c *Config) HistoryDB() string {
	return c.historyDB
}

func (c *Config) LogFile() string {
	return c.logFile
}

func (c *Config) ServiceName() string {
	return c.serviceName
}

func (c *Config) ServiceDisplayName() string {
	return c.serviceDisplayName
}

func (c *Config) ServiceDescription() string {
	return c.serviceDescription
}

func (c *Config) BinaryPath() string {
	return c.binaryPath
}

// Transfer builds the transfer settings shared by the HTTP and FTP servers.
func (c *Config) Transfer() transfer.Config {
	tc := transfer.DefaultConfig()
	tc.ChunkSize = c.chunkSize
	tc.StoreRetryLimit = c.fsRetryLimit
	tc.StreamRetryLimit = c.netRetryLimit
	tc.RetryDelay = c.retryDelay
	tc.StreamReadTimeout = c.streamReadTimeout
	return tc
}

func (c *Config) String() string {
	return fmt.Sprintf("card=%s http=%s ftp=%s chunk=%d fs_retries=%d net_retries=%d delay=%s",
		c.cardRoot, c.httpAddr, c.ftpAddr, c.chunkSize, c.fsRetryLimit, c.netRetryLimit, c.retryDelay)
}
