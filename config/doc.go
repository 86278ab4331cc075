// Package config loads the ingester configuration.
//
// Values are layered, later layers overriding earlier ones:
//
//  1. built-in defaults
//  2. JSON files added with AddLayer, deep-merged in order
//  3. a .env file (variables already in the environment win over it)
//  4. environment variables
//
// Every setting can be set with a SKYSTREAM_ variable (SKYSTREAM_BROKER_HOST,
// SKYSTREAM_PROFILE_CACHE_TTL, ...). The variable names of the earlier Node deployment
// (BSKY_FIREHOSE_URL, RABBIT_HOST, PROFILE_CACHE_TTL, LOG_LEVEL, ...) are also read;
// when both are set the SKYSTREAM_ form wins.
//
// Durations in JSON and in the environment accept Go duration strings ("5s", "1h") or
// a bare number of milliseconds.
//
//	loader := config.NewLoader()
//	loader.AddLayer("skystream.json")
//	loader.SetEnvFile(".env")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
package config
