package main

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the environment-driven server settings
type Config struct {
	Port           string
	BBoxCacheSize  int
	LODCacheSize   int
	WorkerPoolSize int
	SaveDir        string
}

// LoadConfig reads .env (when present) and the environment, falling back
// to defaults
func LoadConfig() Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	return Config{
		Port:           envString("PORT", "8080"),
		BBoxCacheSize:  envInt("BBOX_CACHE_SIZE", defaultBBoxCacheSize),
		LODCacheSize:   envInt("LOD_CACHE_SIZE", defaultLODCacheSize),
		WorkerPoolSize: envInt("WORKER_POOL_SIZE", DefaultPoolSize()),
		SaveDir:        envString("SAVE_DIR", "."),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("⚠️  Ignoring invalid %s=%q\n", key, v)
		return fallback
	}
	return n
}
