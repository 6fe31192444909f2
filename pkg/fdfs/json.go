package fdfs

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// ConvertJSONFileToConfig opens a file.json and converts to ClientConfig.
func ConvertJSONFileToConfig(fileNamePath string) (*ClientConfig, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	config := &ClientConfig{}
	var json = jsoniter.ConfigFastest
	if err = json.Unmarshal(byteValue, config); err != nil {
		return nil, configError("parse %s: %v", fileNamePath, err)
	}

	config.ApplyDefaults()
	return config, nil
}

// ConvertYAMLFileToConfig opens a file.yaml and converts to ClientConfig.
func ConvertYAMLFileToConfig(fileNamePath string) (*ClientConfig, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	config := &ClientConfig{}
	if err = yaml.Unmarshal(byteValue, config); err != nil {
		return nil, configError("parse %s: %v", fileNamePath, err)
	}

	config.ApplyDefaults()
	return config, nil
}

// LoadConfigFromEnv builds a ClientConfig from FDFS_* variables.
// Named env files must exist; without names a ./.env file is loaded when present.
// Variables already set in the process win over file values.
func LoadConfigFromEnv(files ...string) (*ClientConfig, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return nil, configError("load env files: %v", err)
	}

	config := &ClientConfig{
		Trackers:                        splitList(getEnv("FDFS_TRACKERS", "")),
		StorageMaxConnectionsPerPool:    getEnvAsInt("FDFS_STORAGE_MAX_CONNECTIONS", DefaultStorageMaxConnectionsPerPool),
		TrackerMaxConnectionsPerPool:    getEnvAsInt("FDFS_TRACKER_MAX_CONNECTIONS", DefaultTrackerMaxConnectionsPerPool),
		ConnectionAcquireTimeoutSeconds: getEnvAsUint32("FDFS_ACQUIRE_TIMEOUT_SECONDS", DefaultConnectionAcquireTimeoutSeconds),
		ConnectionIdleLifetimeSeconds:   getEnvAsUint32("FDFS_IDLE_LIFETIME_SECONDS", DefaultConnectionIdleLifetimeSeconds),
		TextEncoding:                    getEnv("FDFS_TEXT_ENCODING", DefaultTextEncoding),
		DialTimeoutMilliseconds:         getEnvAsUint32("FDFS_DIAL_TIMEOUT_MS", DefaultDialTimeoutMilliseconds),
		IOTimeoutSeconds:                getEnvAsUint32("FDFS_IO_TIMEOUT_SECONDS", 0),
		SleepOnRetryInterval:            getEnvAsUint32("FDFS_RETRY_INTERVAL_MS", DefaultSleepOnRetryInterval),
		LogLevel:                        getEnv("FDFS_LOG_LEVEL", DefaultLogLevel),
	}

	return config, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(name string, defaultValue int) int {
	valueStr := getEnv(name, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsUint32(name string, defaultValue uint32) uint32 {
	valueStr := getEnv(name, "")
	if value, err := strconv.ParseUint(valueStr, 10, 32); err == nil {
		return uint32(value)
	}
	return defaultValue
}
