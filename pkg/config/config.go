// Package config loads the enclave's environment-driven configuration
// once at startup. Credential-bearing variables are cleared from the
// process environment immediately after read, per spec.md §6.
package config

import "os"

// Config holds the enclave's runtime configuration.
type Config struct {
	ListenAddr string
	LogLevel   string

	AttestationRootPath string
	ScratchDir          string
	PoolBlobRoot        string

	SchemaCatalogURI         string
	schemaCatalogCredentials string
	DebugViewEnabled         bool
}

// SchemaCatalogCredentials returns the credential read at startup. Not
// exported as a struct field so it can't be logged by accident via a
// generic %+v of Config.
func (c *Config) SchemaCatalogCredentials() string {
	return c.schemaCatalogCredentials
}

// defaults holds the fallback values used when neither a deploy file nor
// an environment variable supplies one. hardcodedDefaults matches the
// reference deployment paths from spec.md §6; LoadWithFile layers a
// DeployFile's values on top of these before env vars get the final word.
type defaults struct {
	listenAddr          string
	logLevel            string
	attestationRootPath string
	scratchDir          string
	poolBlobRoot        string
	debugViewEnabled    bool
}

var hardcodedDefaults = defaults{
	listenAddr:          ":8443",
	logLevel:            "INFO",
	attestationRootPath: "/dev/attestation/keys/_sgx_mrenclave",
	scratchDir:          "/tmp/enclave-scratch",
	poolBlobRoot:        "/var/lib/enclave/pools",
	debugViewEnabled:    false,
}

// Load reads configuration from the environment, falling back to the
// reference deployment's hardcoded defaults. Variables carrying secrets
// (schema-catalog credentials) are read once here and then cleared from
// the process environment.
func Load() *Config {
	return load(hardcodedDefaults)
}

func load(d defaults) *Config {
	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = d.listenAddr
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = d.logLevel
	}

	attestationRoot := os.Getenv("ATTESTATION_ROOT_PATH")
	if attestationRoot == "" {
		attestationRoot = d.attestationRootPath
	}

	scratchDir := os.Getenv("SCRATCH_DIR")
	if scratchDir == "" {
		scratchDir = d.scratchDir
	}

	poolBlobRoot := os.Getenv("POOL_BLOB_ROOT")
	if poolBlobRoot == "" {
		poolBlobRoot = d.poolBlobRoot
	}

	catalogURI := os.Getenv("SCHEMA_CATALOG_URI")

	catalogCreds := os.Getenv("SCHEMA_CATALOG_CREDENTIALS")
	os.Unsetenv("SCHEMA_CATALOG_CREDENTIALS")

	debugView := d.debugViewEnabled
	if raw := os.Getenv("DEBUG_VIEW_ENABLED"); raw != "" {
		debugView = raw == "true"
	}

	return &Config{
		ListenAddr:               listenAddr,
		LogLevel:                 logLevel,
		AttestationRootPath:      attestationRoot,
		ScratchDir:               scratchDir,
		PoolBlobRoot:             poolBlobRoot,
		SchemaCatalogURI:         catalogURI,
		schemaCatalogCredentials: catalogCreds,
		DebugViewEnabled:         debugView,
	}
}
