// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"shelfsync/internal/logger"
)

// Variables available everywhere
var (
	apiBase, upcAPIBase string
	baseDir             string
	dataDirectory       string
	logsDirectory       string
	credentialDBFile    string
	cacheDBFile         string
	draftDBFile         string
	keyphrase           string

	// Data file paths - exported
	LogFileFormat string
)

//
// --- Utility Helpers ---
//

// Helper: get a setting based on ENVIRONMENT (dev or prod)
func GetEnvBasedSetting(base string) string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(env)))
}

// Helper: log which environment is running
func LogCurrentEnvironment() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	if env == "dev" {
		logger.LogInfo("Running against development services")
	} else {
		logger.LogInfo("Running against production services")
	}
}

//
// --- Loaders ---
//

// LoadEnv reads .env file
func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Could not determine working directory: %v", err)
	} else {
		log.Printf("Current working directory: %s", wd)
	}

	err = godotenv.Load(".env")
	if err != nil {
		log.Printf("No .env file found in %s. Using system environment variables.", wd)
	} else {
		log.Printf("Loaded environment variables from .env file in %s", wd)
	}
}

// LoggerConfig returns a logger.Config struct populated from environment
func LoggerConfig() logger.Config {
	logDir := GetEnvBasedSetting("LOGS_DIRECTORY")
	if logDir == "" {
		logDir = "./logs"
	}

	logFormat := GetEnvBasedSetting("LOG_FILE_FORMAT")
	if logFormat == "" {
		logFormat = "./logs/client_%s.log"
	}

	timezone := os.Getenv("TIME_ZONE")
	if timezone == "" {
		timezone = "Local"
	}

	return logger.Config{
		LogsDirectory: logDir,
		LogFileFormat: logFormat,
		TimeZone:      timezone,
	}
}

// ConfigurePaths sets up folders and paths
func ConfigurePaths() {
	wd, err := os.Getwd()
	if err != nil {
		logger.LogFatal("Failed to get working directory: %v", err)
	}
	baseDir = wd

	dataDir := GetEnvBasedSetting("DATA_DIRECTORY")
	if dataDir != "" {
		dataDirectory = dataDir
	} else {
		dataDirectory = filepath.Join(baseDir, "data")
	}

	logsDir := GetEnvBasedSetting("LOGS_DIRECTORY")
	if logsDir != "" {
		logsDirectory = logsDir
	} else {
		logsDirectory = filepath.Join(baseDir, "logs")
	}

	if err := os.MkdirAll(dataDirectory, 0775); err != nil {
		logger.LogFatal("Failed to create data directory '%s': %v", dataDirectory, err)
	}

	// Set derived paths
	credentialDBFile = filepath.Join(dataDirectory, "credentials.db")
	cacheDBFile = filepath.Join(dataDirectory, "cache.db")
	draftDBFile = filepath.Join(dataDirectory, "drafts.db")
	LogFileFormat = filepath.Join(logsDirectory, "client_%s.log")
}

// LoadAPIConfig sets up the inventory service endpoints
func LoadAPIConfig() error {
	apiBase = GetEnvBasedSetting("API_BASE")
	if apiBase == "" {
		return fmt.Errorf("inventory API base URL is missing (set API_BASE_DEV or API_BASE_PROD)")
	}
	apiBase = strings.TrimRight(apiBase, "/")

	upcAPIBase = GetEnvBasedSetting("UPC_API_BASE")
	if upcAPIBase == "" {
		upcAPIBase = "https://api.upcitemdb.com/prod/trial"
		logger.LogWarn("UPC_API_BASE not set, using default: %s", upcAPIBase)
	}
	upcAPIBase = strings.TrimRight(upcAPIBase, "/")

	logger.LogInfo("Inventory API base: %s", apiBase)
	return nil
}

// LoadCredentialConfig loads the local keyphrase that seals stored credentials
func LoadCredentialConfig() error {
	keyphrase = os.Getenv("CREDENTIAL_KEYPHRASE")
	if keyphrase == "" {
		return fmt.Errorf("CREDENTIAL_KEYPHRASE is not set")
	}
	if len(keyphrase) < 8 {
		logger.LogWarn("CREDENTIAL_KEYPHRASE is shorter than 8 characters")
	}
	return nil
}

//
// --- Getters (exported) ---
//

func DataDirectory() string {
	return dataDirectory
}

func LogsDirectory() string {
	return logsDirectory
}

func APIBase() string {
	return apiBase
}

func UPCAPIBase() string {
	return upcAPIBase
}

func CredentialDBFile() string {
	return credentialDBFile
}

func CacheDBFile() string {
	return cacheDBFile
}

func DraftDBFile() string {
	return draftDBFile
}

func Keyphrase() string {
	return keyphrase
}
