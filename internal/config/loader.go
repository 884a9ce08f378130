package config

import "fmt"

// dotEnvFiles are read in order under the dev build tag. Earlier files win
// since godotenv never overrides a variable that is already set.
var dotEnvFiles = []string{".env.local", ".env"}

// LoadFromEnv reads the process environment, after any dev .env files.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(dotEnvFiles...); err != nil {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Load(FromEnviron())
}
