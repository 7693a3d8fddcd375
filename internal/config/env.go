package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override the YAML file.
const (
	EnvConfigPath         = "ANIMALFACE_CONFIG"
	EnvModelURL           = "ANIMALFACE_MODEL_URL"
	EnvClassifierEndpoint = "ANIMALFACE_CLASSIFIER_ENDPOINT"
	EnvImagesDir          = "ANIMALFACE_IMAGES_DIR"
	EnvDebugLevel         = "ANIMALFACE_DEBUG_LEVEL"
	EnvMockGPIO           = "ANIMALFACE_MOCK_GPIO"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg fields from the environment and re-validates it.
func ApplyEnv(cfg *Config) error {
	cfg.Classifier.ModelURL = getEnv(EnvModelURL, cfg.Classifier.ModelURL)
	cfg.Classifier.Endpoint = getEnv(EnvClassifierEndpoint, cfg.Classifier.Endpoint)
	cfg.ImagesDir = getEnv(EnvImagesDir, cfg.ImagesDir)

	level, err := getEnvAsInt(EnvDebugLevel, cfg.Defaults.DebugLevel)
	if err != nil {
		return err
	}
	cfg.Defaults.DebugLevel = level

	mock, err := getEnvAsBool(EnvMockGPIO, cfg.Defaults.MockGPIO)
	if err != nil {
		return err
	}
	cfg.Defaults.MockGPIO = mock

	return cfg.normalize()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
