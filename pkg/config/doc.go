// Package config loads typed configuration from environment variables using
// github.com/caarlos0/env struct tags, with optional dotenv files read via
// github.com/joho/godotenv.
//
// Each config type is parsed once per process and cached, so packages may
// call Load for their own section without coordinating. Types implementing
// Validator are checked after parsing; a failed parse or validation is not
// cached.
package config
